// Package execsurface is the Execution Surface (spec §4.J): running
// commands inside a container, foreground or backgrounded, polling and
// cancelling background jobs, and waiting for a container to become
// healthy. Background job state lives inside the container filesystem
// (.pid/.out/.exit files under /tmp), not in the host Metadata Store.
package execsurface

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amp-tools/container-tool/pkg/engine"
	"github.com/amp-tools/container-tool/pkg/utils"
)

const (
	execTimeout   = 30 * time.Second
	shellTimeout  = 5 * time.Second
	pollTailLines = 100
)

// shellProbeOrder is the order exec_interactive_hint tries shells in,
// carried verbatim from the distilled spec.
var shellProbeOrder = []string{"bash", "zsh", "sh"}

// Exec runs a single foreground command inside container and returns its
// combined result.
func Exec(ctx context.Context, e engine.Runner, container string, cmd []string, workdir string) (engine.Result, error) {
	args := []string{"exec"}
	if workdir != "" {
		args = append(args, "-w", workdir)
	}
	args = append(args, container)
	args = append(args, cmd...)
	return e.Run(ctx, execTimeout, args...)
}

// InteractiveHint probes for an available shell in priority order and
// returns the `<engine> exec -it [-w <workdir>] <container> <shell>`
// command a human would type to attach; the -w flag is included whenever
// workdir is non-empty (supplementing the distilled spec per original_source/'s
// connect_command construction).
func InteractiveHint(ctx context.Context, e engine.Runner, container string, workdir string) (string, error) {
	for _, shell := range shellProbeOrder {
		res, err := e.Run(ctx, shellTimeout, "exec", container, "which", shell)
		if err != nil {
			return "", err
		}
		if res.ExitCode == 0 {
			cmd := fmt.Sprintf("%s exec -it", engineNameHint(e))
			if workdir != "" {
				cmd += " -w " + workdir
			}
			return cmd + " " + container + " " + shell, nil
		}
	}
	return "", fmt.Errorf("no usable shell found in %s", container)
}

func engineNameHint(e engine.Runner) string {
	if named, ok := e.(interface{ Name() engine.Name }); ok {
		return string(named.Name())
	}
	return "docker"
}

// Job identifies a background job by its container and generated id.
type Job struct {
	Container string
	ID        string
}

func (j Job) pidFile() string  { return fmt.Sprintf("/tmp/amp-job-%s.pid", j.ID) }
func (j Job) outFile() string  { return fmt.Sprintf("/tmp/amp-job-%s.out", j.ID) }
func (j Job) exitFile() string { return fmt.Sprintf("/tmp/amp-job-%s.exit", j.ID) }

// Background starts cmd detached inside container, writing its pid to a
// .pid file, its combined output to a .out file, and its exit code to a
// .exit file once it completes. Returns the Job handle used by Poll/
// Cancel.
func Background(ctx context.Context, e engine.Runner, container string, cmd string, workdir string) (Job, error) {
	id, err := utils.RandomHex(8)
	if err != nil {
		return Job{}, err
	}
	job := Job{Container: container, ID: id}

	shellCmd := fmt.Sprintf(
		"nohup sh -c %s > %s 2>&1 & echo $! > %s; wait $!; echo $? > %s",
		quote(cmd), job.outFile(), job.pidFile(), job.exitFile(),
	)

	args := []string{"exec", "-d"}
	if workdir != "" {
		args = append(args, "-w", workdir)
	}
	args = append(args, container, "sh", "-c", shellCmd)

	res, err := e.Run(ctx, execTimeout, args...)
	if err != nil {
		return Job{}, err
	}
	if res.ExitCode != 0 {
		return Job{}, fmt.Errorf("start background job: %s", res.Stderr)
	}
	return job, nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Status is what Poll reports about a background job.
type Status struct {
	Running  bool
	ExitCode int // only meaningful when !Running
	Output   string
}

// Poll checks the job's .exit file first: if present, the job has
// finished and ExitCode is read from it; otherwise the job is still
// running. Output is always the last pollTailLines lines of the .out
// file.
func Poll(ctx context.Context, e engine.Runner, job Job) (Status, error) {
	exitRes, err := e.Run(ctx, shellTimeout, "exec", job.Container, "cat", job.exitFile())
	if err != nil {
		return Status{}, err
	}

	outRes, err := e.Run(ctx, shellTimeout, "exec", job.Container, "tail", "-n", fmt.Sprintf("%d", pollTailLines), job.outFile())
	if err != nil {
		return Status{}, err
	}
	output := outRes.Stdout

	if exitRes.ExitCode != 0 {
		return Status{Running: true, Output: output}, nil
	}

	code := 0
	fmt.Sscanf(strings.TrimSpace(exitRes.Stdout), "%d", &code)
	return Status{Running: false, ExitCode: code, Output: utils.TailLines(output, pollTailLines)}, nil
}

// Cancel kills the job's process group inside the container, read from
// its .pid file.
func Cancel(ctx context.Context, e engine.Runner, job Job) error {
	res, err := e.Run(ctx, shellTimeout, "exec", job.Container, "sh", "-c",
		fmt.Sprintf("kill -TERM -$(cat %s) 2>/dev/null || kill -TERM $(cat %s) 2>/dev/null || true", job.pidFile(), job.pidFile()))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("cancel job %s: %s", job.ID, res.Stderr)
	}
	return nil
}

// WaitHealthy retries a health check command up to retries times, waiting
// interval between attempts, with each attempt bounded by interval+5s.
func WaitHealthy(ctx context.Context, e engine.Runner, container string, healthCmd []string, retries int, interval time.Duration) error {
	attemptTimeout := interval + 5*time.Second
	args := append([]string{"exec", container}, healthCmd...)

	var lastErr string
	for i := 0; i < retries; i++ {
		res, err := e.Run(ctx, attemptTimeout, args...)
		if err == nil && res.ExitCode == 0 {
			return nil
		}
		if err != nil {
			lastErr = err.Error()
		} else {
			lastErr = res.Stderr
		}
		if i < retries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	return fmt.Errorf("container %s did not become healthy after %d attempts: %s", container, retries, lastErr)
}
