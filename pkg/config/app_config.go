// Package config handles the configuration accepted at construction time by
// the host embedding this tool (spec §6 "Configuration"). Fields are
// PascalCase in Go but camelCase in YAML, matching the teacher's
// (lazydocker) convention for its own user config.
package config

import (
	"os"
	"path/filepath"

	yaml "github.com/jesseduffield/yaml"
)

// SecurityConfig covers the container hardening knobs.
type SecurityConfig struct {
	// PidsLimit is passed as --pids-limit on every created container.
	PidsLimit int `yaml:"pidsLimit,omitempty"`
	// MemoryLimit is the --memory default, overridden per-request.
	MemoryLimit string `yaml:"memoryLimit,omitempty"`
	// CPULimit is the --cpus default, overridden per-request. Empty means
	// no CPU limit unless a request names one.
	CPULimit string `yaml:"cpuLimit,omitempty"`
}

// AutoPassthroughConfig configures the "auto" env_passthrough mode (§4.F).
type AutoPassthroughConfig struct {
	EnvPatterns []string `yaml:"envPatterns,omitempty"`
}

// DotfilesConfig configures the default dotfiles repo used when a create
// request asks for dotfiles but doesn't name one.
type DotfilesConfig struct {
	Repo string `yaml:"repo,omitempty"`
}

// Config is the full set of recognised configuration keys from spec §6.
type Config struct {
	DefaultImage             string                `yaml:"defaultImage,omitempty"`
	Security                 SecurityConfig        `yaml:"security,omitempty"`
	AutoPassthrough          AutoPassthroughConfig `yaml:"autoPassthrough,omitempty"`
	Dotfiles                 DotfilesConfig        `yaml:"dotfiles,omitempty"`
	RequireApprovalFor       []string              `yaml:"requireApprovalFor,omitempty"`
	SensitiveMountPrefixes   []string              `yaml:"sensitiveMountPrefixes,omitempty"`
	MaxContainersPerSession  int                   `yaml:"maxContainersPerSession,omitempty"`
	AutoCleanupOnSessionEnd  bool                  `yaml:"autoCleanupOnSessionEnd,omitempty"`
	// MetadataDir overrides the default <user-home>/.amplifier/containers
	// metadata base directory (spec §4.B / §6). Not part of the original
	// config surface but needed so tests don't write into a real home dir.
	MetadataDir string `yaml:"metadataDir,omitempty"`
}

// Default returns the configuration the core uses when the host supplies
// none, matching every default named across spec §3/§4/§6.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return Config{
		DefaultImage: "ubuntu:24.04",
		Security: SecurityConfig{
			PidsLimit:   2048,
			MemoryLimit: "2g",
		},
		AutoPassthrough: AutoPassthroughConfig{
			EnvPatterns: []string{
				"*_API_KEY", "*_TOKEN", "*_SECRET",
				"ANTHROPIC_*", "OPENAI_*", "AZURE_OPENAI_*", "GOOGLE_*",
				"GEMINI_*", "OLLAMA_*", "VLLM_*", "AMPLIFIER_*",
				"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY",
				"http_proxy", "https_proxy", "no_proxy",
			},
		},
		RequireApprovalFor: []string{
			"gpu_access", "host_network", "sensitive_mounts",
			"ssh_forwarding", "all_env_passthrough", "destroy_all",
		},
		SensitiveMountPrefixes:  []string{"/", "/etc", "/var", "/root", "/home", "/boot", "/sys", "/proc"},
		MaxContainersPerSession: 10,
		AutoCleanupOnSessionEnd: true,
		MetadataDir:             filepath.Join(home, ".amplifier", "containers"),
	}
}

// Load reads a YAML configuration document and merges it over Default(),
// mirroring the teacher's loadUserConfig (jesseduffield/yaml.Unmarshal onto
// a base struct already populated with defaults).
func Load(data []byte) (Config, error) {
	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads configuration from a YAML file on disk.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, err
	}
	return Load(data)
}
