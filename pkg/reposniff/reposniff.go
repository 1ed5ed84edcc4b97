// Package reposniff is the Repo-Purpose Detector (spec §4.E). Given a repo
// URL, it performs a shallow clone into a throwaway temp directory,
// inspects marker files to guess a purpose, and collects a handful of
// setup-command hints, then removes the clone unconditionally. The clone
// itself runs the host's git binary directly via exec.CommandContext, the
// same style as the teacher's OSCommand.ExecutableFromStringContext, since
// this is a host-side probe that happens before any container exists.
package reposniff

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const cloneTimeout = 60 * time.Second

// marker lists, in priority order, the file whose presence identifies a
// purpose and the setup commands to suggest for it.
type marker struct {
	purpose string
	file    string
	setup   []string
}

var markers = []marker{
	{purpose: "rust", file: "Cargo.toml", setup: []string{"cargo build"}},
	{purpose: "python", file: "pyproject.toml", setup: []string{"pip install -e ."}},
	{purpose: "python", file: "setup.py", setup: []string{"pip install -e ."}},
	{purpose: "python", file: "requirements.txt", setup: []string{"pip install -r requirements.txt"}},
	{purpose: "node", file: "package.json", setup: []string{"npm install"}},
	{purpose: "go", file: "go.mod", setup: []string{"go build ./..."}},
}

// Result is the detected purpose and suggested setup commands.
type Result struct {
	Purpose       string
	SetupCommands []string
}

// cloneFunc lets tests substitute the git invocation without forking a
// real process, mirroring OSCommand.SetCommand.
var cloneFunc = defaultClone

func defaultClone(ctx context.Context, repoURL, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", repoURL, dest)
	return cmd.Run()
}

// Sniff shallow-clones repoURL and returns the detected purpose, falling
// back to ("general", nil) when no marker file is found or the clone
// itself fails (a failed clone is not fatal to the caller; it just means
// we can't guess better than the default).
func Sniff(ctx context.Context, repoURL string) (Result, error) {
	tmpdir, err := os.MkdirTemp("", "amp-reposniff-*")
	if err != nil {
		return Result{Purpose: "general"}, err
	}
	defer os.RemoveAll(tmpdir)

	repoDir := filepath.Join(tmpdir, "repo")
	if err := cloneFunc(ctx, repoURL, repoDir); err != nil {
		return Result{Purpose: "general"}, nil
	}

	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(repoDir, m.file)); err == nil {
			setup := append([]string{}, m.setup...)
			if _, err := os.Stat(filepath.Join(repoDir, "Makefile")); err == nil {
				setup = append(setup, "make")
			}
			return Result{Purpose: m.purpose, SetupCommands: setup}, nil
		}
	}

	return Result{Purpose: "general"}, nil
}
