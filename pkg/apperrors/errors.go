// Package apperrors defines the error kinds from spec §7: errors the core
// never panics on, only returns, so the caller can branch on what kind of
// failure it is.
package apperrors

import (
	"fmt"

	"github.com/go-errors/errors"
)

// Wrap attaches a stack trace for diagnostics at the boundary. Returns nil
// for a nil input, unlike go-errors/errors.Wrap on its own.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, 0)
}

// PreconditionFailed means the engine is missing, the daemon is down, or we
// lack permission to use it. It blocks `create` but is otherwise routine.
type PreconditionFailed struct {
	Guidance string
	Cause    error
}

func (e *PreconditionFailed) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Guidance, e.Cause)
	}
	return e.Guidance
}

func (e *PreconditionFailed) Unwrap() error { return e.Cause }

// ValidationFailed means the request itself is malformed: a missing
// required field, mutually exclusive fields both set, or an unknown
// operation. Always returned inline, never logged as a bug.
type ValidationFailed struct {
	Reason string
}

func (e *ValidationFailed) Error() string { return e.Reason }

// EngineFailed wraps a non-zero exit from the container engine CLI. Command
// carries the reconstructed argv for diagnosis (never containing secrets).
type EngineFailed struct {
	Command  string
	Stderr   string
	ExitCode int
}

func (e *EngineFailed) Error() string {
	return fmt.Sprintf("command failed (exit %d): %s\n%s", e.ExitCode, e.Command, e.Stderr)
}

// SafetyDenied is returned by the safety gate for a hard deny (as opposed to
// an ask_user prompt, which is not an error).
type SafetyDenied struct {
	Reason string
}

func (e *SafetyDenied) Error() string { return "denied: " + e.Reason }
