// Package safety is the Safety Gate (spec §4.L). It decides whether a
// risky operation needs explicit approval before it runs, tracks which
// containers belong to the current session, and matches mount sources
// against a configured sensitive-prefix list.
package safety

import (
	"strings"

	deadlock "github.com/sasha-s/go-deadlock"
)

// Concern is one of the approval categories spec.md §4.L names.
type Concern string

const (
	ConcernGPUAccess          Concern = "gpu_access"
	ConcernHostNetwork        Concern = "host_network"
	ConcernSensitiveMounts    Concern = "sensitive_mounts"
	ConcernSSHForwarding      Concern = "ssh_forwarding"
	ConcernAllEnvPassthrough  Concern = "all_env_passthrough"
	ConcernDestroyAll         Concern = "destroy_all"
)

// Outcome is what the gate decided for a given concern.
type Outcome string

const (
	OutcomeAllow    Outcome = "allow"
	OutcomeAskUser  Outcome = "ask_user"
	OutcomeDeny     Outcome = "deny"
)

// Gate enforces the approval taxonomy and tracks the set of containers
// created in the current session.
type Gate struct {
	requireApprovalFor map[Concern]struct{}
	sensitivePrefixes  []string

	mu          deadlock.Mutex
	sessionCtrs map[string]struct{}
}

// New builds a Gate from the configured list of concerns requiring
// approval and the sensitive mount prefix list.
func New(requireApprovalFor []string, sensitivePrefixes []string) *Gate {
	set := make(map[Concern]struct{}, len(requireApprovalFor))
	for _, c := range requireApprovalFor {
		set[Concern(c)] = struct{}{}
	}
	trimmed := make([]string, len(sensitivePrefixes))
	for i, p := range sensitivePrefixes {
		trimmed[i] = strings.TrimRight(p, "/")
	}
	return &Gate{
		requireApprovalFor: set,
		sensitivePrefixes:  trimmed,
		sessionCtrs:        make(map[string]struct{}),
	}
}

// Evaluate returns ask_user when concern requires approval and the
// caller hasn't already supplied one (approved == nil), deny when the caller explicitly declined, or allow
// otherwise. approved is a three-state signal from the caller: nil means
// "no decision yet", non-nil means the caller already resolved it.
func (g *Gate) Evaluate(concern Concern, approved *bool) Outcome {
	_, needsApproval := g.requireApprovalFor[concern]
	if !needsApproval {
		return OutcomeAllow
	}
	if approved == nil {
		return OutcomeAskUser
	}
	if *approved {
		return OutcomeAllow
	}
	return OutcomeDeny
}

// IsSensitiveMount reports whether source is, or is nested under, one of
// the configured sensitive prefixes. Matching is exact-prefix after
// trimming a trailing slash from both sides, so "/etc" matches "/etc" and
// "/etc/passwd" but not "/etcetera".
func (g *Gate) IsSensitiveMount(source string) bool {
	source = strings.TrimRight(source, "/")
	for _, prefix := range g.sensitivePrefixes {
		if source == prefix || strings.HasPrefix(source, prefix+"/") {
			return true
		}
	}
	return false
}

// RegisterContainer records name as belonging to the current session,
// e.g. right after a successful create.
func (g *Gate) RegisterContainer(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionCtrs[name] = struct{}{}
}

// ForgetContainer removes name from the session's tracked set, e.g. after
// a successful destroy.
func (g *Gate) ForgetContainer(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessionCtrs, name)
}

// SessionContainers returns every container name tracked in this session.
func (g *Gate) SessionContainers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.sessionCtrs))
	for n := range g.sessionCtrs {
		names = append(names, n)
	}
	return names
}

// IsSessionContainer reports whether name belongs to the current session,
// used by destroy_all to decide its blast radius.
func (g *Gate) IsSessionContainer(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.sessionCtrs[name]
	return ok
}
