// Package compose is the Compose Manager (spec §4.H, and the compose
// parts of §4.I/§4.K). It resolves which compose binary to use, stages
// Compose file content into a scoped-acquisition temp file, and runs
// up/down/ps against it.
package compose

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	upTimeout   = 120 * time.Second
	downTimeout = 60 * time.Second
	psTimeout   = 10 * time.Second
)

var (
	binOnce sync.Once
	binCmd  []string // argv prefix, e.g. []string{"podman-compose"} or {"docker", "compose"}
)

// probeFunc lets tests substitute the `<candidate> version` check without
// forking real processes.
var probeFunc = func(argv ...string) bool {
	cmd := exec.Command(argv[0], append(argv[1:], "version")...)
	return cmd.Run() == nil
}

// candidates lists the compose binaries to try, in the teacher's
// setComposeCommand cascade order: podman-compose, then the built-in
// `podman compose`, then docker-compose, then `docker compose`.
var candidates = [][]string{
	{"podman-compose"},
	{"podman", "compose"},
	{"docker-compose"},
	{"docker", "compose"},
}

// resolveBinary picks the first available compose command, memoized with
// sync.Once like the Runtime Adapter's engine detection. override, when
// non-empty, short-circuits detection; it comes from New's argument, and
// no configuration key sets it.
func resolveBinary(override string) []string {
	if override != "" {
		return strings.Fields(override)
	}
	binOnce.Do(func() {
		for _, c := range candidates {
			if probeFunc(c...) {
				binCmd = c
				return
			}
		}
		binCmd = candidates[0] // default to podman-compose if nothing probes clean
	})
	return binCmd
}

// File is a scoped-acquisition temp Compose file: Close always removes it,
// resolving spec §9's Open Question about cleanup happening on only some
// paths.
type File struct {
	Path string
}

// NewFile writes content to a fresh temp file and returns a File whose
// Close removes it. Callers should `defer f.Close()` immediately after
// this returns successfully.
func NewFile(content string) (*File, error) {
	f, err := os.CreateTemp("", "amp-compose-*.yml")
	if err != nil {
		return nil, err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, err
	}
	return &File{Path: f.Name()}, nil
}

func (f *File) Close() error {
	return os.Remove(f.Path)
}

// Manager runs compose commands against a resolved binary.
type Manager struct {
	binOverride string
}

func New(binOverride string) *Manager {
	return &Manager{binOverride: binOverride}
}

func (m *Manager) argv(file, project string, args ...string) []string {
	bin := resolveBinary(m.binOverride)
	full := append([]string{}, bin...)
	full = append(full, "-f", file, "-p", project)
	return append(full, args...)
}

func (m *Manager) run(ctx context.Context, timeout time.Duration, argv []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Up starts the project's services in detached mode.
func (m *Manager) Up(ctx context.Context, file, project string) (string, error) {
	return m.run(ctx, upTimeout, m.argv(file, project, "up", "-d"))
}

// Down tears down the project's services and removes its network.
func (m *Manager) Down(ctx context.Context, file, project string) (string, error) {
	return m.run(ctx, downTimeout, m.argv(file, project, "down"))
}

// PS lists the project's current services.
func (m *Manager) PS(ctx context.Context, file, project string) (string, error) {
	return m.run(ctx, psTimeout, m.argv(file, project, "ps"))
}

// NetworkName returns the network Compose creates by default for project,
// following the `<project>_default` convention.
func NetworkName(project string) string {
	return project + "_default"
}

// Probe reports whether a compose binary actually resolves on this host,
// used by the Preflight Diagnostics probe set. Unlike resolveBinary it
// never falls back to a default when nothing answers.
func Probe(override string) bool {
	if override != "" {
		return probeFunc(strings.Fields(override)...)
	}
	for _, c := range candidates {
		if probeFunc(c...) {
			return true
		}
	}
	return false
}

// ResetForTest clears the memoized binary detection result. Test-only.
func ResetForTest() {
	binOnce = sync.Once{}
	binCmd = nil
}
