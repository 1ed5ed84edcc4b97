// Package profile is the Profile Resolver (spec §4.C). It holds the
// static, immutable table of purpose profiles (python, node, rust, go,
// general, amplifier, clean, try-repo) and merges a caller's explicit
// overrides on top of the chosen profile, the way the teacher builds its
// default config with GetDefaultConfig but without any YAML override path,
// since profiles are fixed once declared.
package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/imdario/mergo"
)

// Profile is the resolved, ready-to-provision shape of a purpose.
//
// SetupCommands is the full ordered list a fresh (non-cached) container
// runs: the apt-get install derived from AptPackages, then the profile's
// own setup commands, then the caller's explicit/sniffed extras.
// ProfileCommandCount is how many of those leading entries came from the
// profile itself (apt-get + profile setup) rather than the caller, so the
// Image Cache layer can strip them when replaying setup onto a cached
// image (spec §4.C/§4.D: a cache hit must not re-run apt-get).
type Profile struct {
	Name                 string   `json:"name"`
	BaseImage            string   `json:"base_image"`
	AptPackages          []string `json:"apt_packages,omitempty"`
	SetupCommands        []string `json:"setup_commands,omitempty"`
	ProfileCommandCount  int      `json:"profile_command_count"`
	ForwardGit           bool     `json:"forward_git"`
	ForwardGH            bool     `json:"forward_gh"`
	ForwardSSH           bool     `json:"forward_ssh"`
	ForwardDotfiles      bool     `json:"forward_dotfiles"`
	PidsLimit            int      `json:"pids_limit,omitempty"`
}

// ExtraSetupCommands returns the trailing caller-supplied commands that
// aren't part of the profile's own baseline, i.e. what should still run
// against a cached image (the apt-get/profile setup already baked in).
func (p Profile) ExtraSetupCommands() []string {
	if p.ProfileCommandCount >= len(p.SetupCommands) {
		return nil
	}
	return p.SetupCommands[p.ProfileCommandCount:]
}

// Request carries a caller's explicit create-request overrides. Pointer
// fields distinguish "not specified" (nil, profile wins) from an explicit
// false/zero value (caller wins), since a blanket mergo.WithOverride would
// otherwise clobber an explicit `forward_git: false` with the profile's
// true default.
type Request struct {
	BaseImage       *string
	AptPackages     []string
	SetupCommands   []string
	ForwardGit      *bool
	ForwardGH       *bool
	ForwardSSH      *bool
	ForwardDotfiles *bool
	PidsLimit       *int
}

// builtin is the immutable profile table. Declared once at package init;
// nothing mutates it afterwards.
var builtin = map[string]Profile{
	"python": {
		Name:          "python",
		BaseImage:     "python:3.12-slim",
		AptPackages:   []string{"git", "build-essential"},
		SetupCommands: []string{"pip install --upgrade pip"},
		ForwardGit:    true, ForwardGH: true,
	},
	"node": {
		Name:          "node",
		BaseImage:     "node:22-slim",
		AptPackages:   []string{"git"},
		SetupCommands: []string{"corepack enable"},
		ForwardGit:    true, ForwardGH: true,
	},
	"rust": {
		Name:          "rust",
		BaseImage:     "rust:1.82-slim",
		AptPackages:   []string{"git", "build-essential", "pkg-config"},
		ForwardGit:    true, ForwardGH: true,
	},
	"go": {
		Name:          "go",
		BaseImage:     "golang:1.23-bookworm",
		AptPackages:   []string{"git"},
		ForwardGit:    true, ForwardGH: true,
	},
	"general": {
		Name:        "general",
		BaseImage:   "ubuntu:24.04",
		AptPackages: []string{"git", "curl", "ca-certificates"},
		ForwardGit:  true, ForwardGH: true,
	},
	"amplifier": {
		Name:            "amplifier",
		BaseImage:       "ubuntu:24.04",
		AptPackages:     []string{"git", "curl", "ca-certificates", "python3", "python3-pip"},
		ForwardGit:      true, ForwardGH: true, ForwardDotfiles: true,
	},
	"clean": {
		Name:      "clean",
		BaseImage: "ubuntu:24.04",
	},
	"try-repo": {
		Name:        "try-repo",
		BaseImage:   "ubuntu:24.04",
		AptPackages: []string{"git"},
		ForwardGit:  true,
	},
}

// ErrUnknownPurpose is returned by Resolve when purpose names no known
// profile.
type ErrUnknownPurpose struct{ Purpose string }

func (e *ErrUnknownPurpose) Error() string {
	return fmt.Sprintf("unknown purpose %q", e.Purpose)
}

// Names returns the declared purpose names, for validation/help text.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	return names
}

// aptInstallCommand builds the `apt-get update -qq && apt-get install -y
// -qq <packages>` command spec.md §4.C names, or "" when there's nothing
// to install.
func aptInstallCommand(packages []string) string {
	if len(packages) == 0 {
		return ""
	}
	return "apt-get update -qq && apt-get install -y -qq " + strings.Join(packages, " ")
}

// Resolve looks up purpose and merges req on top of it. The profile's own
// setup commands (apt-get install, then the profile's declared setup)
// always run before the caller's explicit/sniffed extras, so the caller
// can extend a profile without losing its baseline. ProfileCommandCount
// records how many leading entries of the resulting SetupCommands belong
// to the profile, so a cache hit can skip re-running them.
func Resolve(purpose string, req Request) (Profile, error) {
	base, ok := builtin[purpose]
	if !ok {
		return Profile{}, &ErrUnknownPurpose{Purpose: purpose}
	}

	merged := base

	if req.BaseImage != nil {
		merged.BaseImage = *req.BaseImage
	}
	if req.ForwardGit != nil {
		merged.ForwardGit = *req.ForwardGit
	}
	if req.ForwardGH != nil {
		merged.ForwardGH = *req.ForwardGH
	}
	if req.ForwardSSH != nil {
		merged.ForwardSSH = *req.ForwardSSH
	}
	if req.ForwardDotfiles != nil {
		merged.ForwardDotfiles = *req.ForwardDotfiles
	}
	if req.PidsLimit != nil {
		merged.PidsLimit = *req.PidsLimit
	}

	merged.AptPackages = append(append([]string{}, base.AptPackages...), req.AptPackages...)

	profileCommands := make([]string, 0, len(base.SetupCommands)+1)
	if cmd := aptInstallCommand(merged.AptPackages); cmd != "" {
		profileCommands = append(profileCommands, cmd)
	}
	profileCommands = append(profileCommands, base.SetupCommands...)

	merged.ProfileCommandCount = len(profileCommands)
	merged.SetupCommands = append(append([]string{}, profileCommands...), req.SetupCommands...)

	// mergo.Merge covers struct-level defaults for any field this
	// function doesn't special-case above (e.g. future additions to
	// Profile that aren't forwarding flags); WithOverride only applies
	// to those, since the flags above are already resolved explicitly.
	var final Profile
	if err := mergo.Merge(&final, merged, mergo.WithOverride); err != nil {
		return Profile{}, err
	}
	return final, nil
}

// Digest returns the first 8 hex characters of the SHA-256 of p's
// baseline (image, packages, profile setup commands, forwarding flags) --
// deliberately excluding the caller's extra setup commands, since those
// vary per-request and must not defeat a cache hit against the same
// profile baseline.
func Digest(p Profile) (string, error) {
	baseline := p
	baseline.SetupCommands = p.SetupCommands[:p.ProfileCommandCount]
	data, err := json.Marshal(baseline)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:8], nil
}
