// Package envpass is the Env Passthrough component (spec §4.F). It decides
// which host environment variables get forwarded into a created
// container under one of four modes: list, all, none, auto.
package envpass

import (
	"path/filepath"
	"sort"
	"strings"
)

// Mode is one of the four passthrough strategies a create request can ask
// for.
type Mode string

const (
	ModeList Mode = "list"
	ModeAll  Mode = "all"
	ModeNone Mode = "none"
	ModeAuto Mode = "auto"
)

// neverPassthrough never gets forwarded regardless of mode, since these
// name host-specific or security-sensitive state that would either break
// inside the container or leak credentials the container has no business
// holding.
var neverPassthrough = map[string]struct{}{
	"PATH": {}, "HOME": {}, "USER": {}, "SHELL": {},
	"PWD": {}, "OLDPWD": {}, "TERM": {},
	"SSH_AUTH_SOCK": {}, "SSH_AGENT_PID": {},
	"DOCKER_HOST": {}, "DOCKER_CONTEXT": {},
}

// Resolve computes the set of environment variables to pass through,
// given the host's current environment (as KEY=VALUE pairs, the shape
// os.Environ() returns), the requested mode, an explicit list (used by
// ModeList), and the auto-mode glob patterns from configuration. Explicit
// list entries are added in every mode, but they are still filtered by
// neverPassthrough: naming a blocked variable does not forward it.
func Resolve(hostEnviron []string, mode Mode, explicitList []string, autoPatterns []string) (map[string]string, error) {
	host := toMap(hostEnviron)
	result := make(map[string]string)

	switch mode {
	case ModeNone:
		// nothing, except explicit list below

	case ModeAll:
		for k, v := range host {
			if _, blocked := neverPassthrough[k]; blocked {
				continue
			}
			result[k] = v
		}

	case ModeAuto:
		for k, v := range host {
			if _, blocked := neverPassthrough[k]; blocked {
				continue
			}
			if matchesAny(k, autoPatterns) {
				result[k] = v
			}
		}

	case ModeList:
		// handled entirely by the explicit list below

	default:
		return nil, &InvalidModeError{Mode: string(mode)}
	}

	for _, k := range explicitList {
		if _, blocked := neverPassthrough[k]; blocked {
			continue
		}
		if v, ok := host[k]; ok {
			result[k] = v
		}
	}

	return result, nil
}

// matchesAny reports whether key matches any of patterns, using
// filepath.Match's shell-glob semantics (stdlib; no pack example carries
// a richer glob library for a need this narrow).
func matchesAny(key string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := filepath.Match(p, key); err == nil && ok {
			return true
		}
	}
	return false
}

func toMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		m[parts[0]] = parts[1]
	}
	return m
}

// Keys returns the sorted variable names Resolve would forward, useful
// for logging/metadata without leaking values.
func Keys(resolved map[string]string) []string {
	keys := make([]string, 0, len(resolved))
	for k := range resolved {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InvalidModeError is returned when mode isn't one of the four known
// passthrough strategies.
type InvalidModeError struct{ Mode string }

func (e *InvalidModeError) Error() string {
	return "invalid env passthrough mode: " + e.Mode
}
