// Package labels defines the engine labels every container this tool
// creates carries (spec §3/§4.I/§8). The Creation Pipeline stamps them at
// `run` time; Lifecycle & Admin Ops filters on them so `list`/`status`
// only ever see containers this tool actually manages.
package labels

const (
	// Managed marks a container as owned by this tool.
	Managed = "amplifier.managed"
	// Bundle names which bundle created the container.
	Bundle = "amplifier.bundle"
	// Created carries the UTC ISO-8601 creation timestamp.
	Created = "amplifier.created"
	// Persistent records the request's persistent flag.
	Persistent = "amplifier.persistent"
	// Purpose records the resolved purpose profile name.
	Purpose = "amplifier.purpose"
)

// BundleValue is the value stamped under Bundle.
const BundleValue = "containers"

// ManagedFilter is the `ps --filter` value that scopes a listing to
// containers this tool manages.
const ManagedFilter = Managed + "=true"
