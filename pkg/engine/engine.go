// Package engine is the Runtime Adapter (spec §4.A): it detects whether
// podman or docker is installed, and runs engine CLI commands through
// exec.CommandContext with a timeout, the same way the teacher's OSCommand
// wraps the docker binary, but generalised to cover either engine.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Name identifies which container engine binary is in use.
type Name string

const (
	Podman  Name = "podman"
	Docker  Name = "docker"
	NoneFound Name = ""
)

const (
	infoTimeout = 5 * time.Second
	psTimeout   = 5 * time.Second
)

var (
	detectOnce    sync.Once
	detectedName  Name
	detectedPath  string
)

// detect picks podman over docker, the same preference order the teacher's
// podman.go falls back through when both are present. Memoized with
// sync.Once so repeated calls don't re-stat $PATH (mirrors dockerHostOnce).
func detect() (Name, string) {
	detectOnce.Do(func() {
		if path, err := exec.LookPath("podman"); err == nil {
			detectedName, detectedPath = Podman, path
			return
		}
		if path, err := exec.LookPath("docker"); err == nil {
			detectedName, detectedPath = Docker, path
			return
		}
		detectedName, detectedPath = NoneFound, ""
	})
	return detectedName, detectedPath
}

// Runner is the interface the rest of the tool depends on instead of the
// concrete *Engine, so every package that shells out to the container
// engine can be exercised against a fake in tests.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, args ...string) (Result, error)
}

// Engine runs commands against whichever container engine was detected.
type Engine struct {
	Log  *logrus.Entry
	name Name
	path string
}

// New detects the engine binary and returns an Engine wrapping it. The
// detection result is process-wide and cached; New is cheap to call more
// than once.
func New(log *logrus.Entry) *Engine {
	name, path := detect()
	return &Engine{Log: log, name: name, path: path}
}

// Name reports which engine binary backs this Engine, or NoneFound.
func (e *Engine) Name() Name { return e.name }

// Available reports whether an engine binary was found on $PATH.
func (e *Engine) Available() bool { return e.name != NoneFound }

// Result is the outcome of running an engine subcommand.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Run executes `<engine> args...` with the given timeout. A timeout is
// reported as ExitCode -1 with a synthetic stderr message, never as a Go
// error, so callers can treat it uniformly with a normal non-zero exit.
func (e *Engine) Run(ctx context.Context, timeout time.Duration, args ...string) (Result, error) {
	if !e.Available() {
		return Result{}, &NotFoundError{}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	before := time.Now()
	err := cmd.Run()
	e.Log.Debugf("%s %v: %s", e.path, args, time.Since(before))

	if ctx.Err() == context.DeadlineExceeded {
		return Result{
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("Command timed out after %ds", int(timeout.Seconds())),
		}, nil
	}

	if err == nil {
		return Result{ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}, nil
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		return Result{
			ExitCode: exitErr.ExitCode(),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}, nil
	}

	// Something other than a non-zero exit (binary vanished mid-run etc).
	return Result{}, err
}

// NotFoundError is returned when neither podman nor docker is on $PATH.
type NotFoundError struct{}

func (e *NotFoundError) Error() string {
	return "no container engine found: install podman or docker"
}

// IsDaemonRunning shells out to `<engine> info` with a short timeout to
// confirm the daemon/service is reachable, not just that the binary exists.
func (e *Engine) IsDaemonRunning(ctx context.Context) (bool, string) {
	res, err := e.Run(ctx, infoTimeout, "info")
	if err != nil {
		return false, err.Error()
	}
	if res.ExitCode != 0 {
		return false, res.Stderr
	}
	return true, ""
}

// UserHasPermissions runs `<engine> ps` to check the current user can talk
// to the daemon without elevated privileges (catches the "permission
// denied while trying to connect to the Docker daemon socket" case).
func (e *Engine) UserHasPermissions(ctx context.Context) (bool, string) {
	res, err := e.Run(ctx, psTimeout, "ps")
	if err != nil {
		return false, err.Error()
	}
	if res.ExitCode != 0 {
		return false, res.Stderr
	}
	return true, ""
}

// ResetForTest clears the memoized detection result. Test-only.
func ResetForTest() {
	detectOnce = sync.Once{}
	detectedName = NoneFound
	detectedPath = ""
}
