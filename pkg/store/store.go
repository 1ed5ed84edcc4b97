// Package store is the Metadata Store (spec §4.B). It persists one JSON
// document per container under <base>/<name>/metadata.json, the same
// layout the teacher uses for its own per-user config file, but with an
// atomic temp-file-then-rename write and a per-name lock so concurrent
// creates on distinct names never interleave partial writes.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// Metadata is everything the tool remembers about a container it created.
type Metadata struct {
	Name               string            `json:"name"`
	Purpose            string            `json:"purpose"`
	Image              string            `json:"image"`
	Engine             string            `json:"engine"`
	ProfileDigest      string            `json:"profile_digest"`
	CreatedAt          time.Time         `json:"created_at"`
	WorkDir            string            `json:"work_dir,omitempty"`
	EnvPassthroughMode string            `json:"env_passthrough_mode"`
	PassedEnvKeys      []string          `json:"passed_env_keys,omitempty"`
	Mounts             []string          `json:"mounts,omitempty"`
	Labels             map[string]string `json:"labels,omitempty"`
	NetworkName        string            `json:"network_name,omitempty"`
	ComposeProject     string            `json:"compose_project,omitempty"`
	GPUAccess          bool              `json:"gpu_access"`
	HostNetwork        bool              `json:"host_network"`
	SSHForwarding      bool              `json:"ssh_forwarding"`
}

// Store reads and writes Metadata under a base directory, one subdirectory
// per container name.
type Store struct {
	baseDir string

	mu    deadlock.Mutex
	locks map[string]*deadlock.Mutex
}

// New returns a Store rooted at baseDir. baseDir is created lazily on the
// first Save.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, locks: make(map[string]*deadlock.Mutex)}
}

func (s *Store) lockFor(name string) *deadlock.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &deadlock.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Store) dir(name string) string {
	return filepath.Join(s.baseDir, name)
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir(name), "metadata.json")
}

// Save atomically writes md to disk, replacing any previous content for
// the same container name. Writers for the same name serialize on a
// per-name lock; writers for distinct names never block each other.
func (s *Store) Save(md Metadata) error {
	lock := s.lockFor(md.Name)
	lock.Lock()
	defer lock.Unlock()

	dir := s.dir(md.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "metadata-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, s.path(md.Name))
}

// Load reads the metadata for name. Returns os.ErrNotExist (wrapped) if no
// such container is recorded.
func (s *Store) Load(name string) (Metadata, error) {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return Metadata{}, err
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

// Remove deletes the metadata directory for name. Removing a name that
// was never saved is not an error.
func (s *Store) Remove(name string) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	return os.RemoveAll(s.dir(name))
}

// ListAll returns every recorded container name, in lexical order.
func (s *Store) ListAll() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.baseDir, e.Name(), "metadata.json")); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
