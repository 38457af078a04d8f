// Package connections manages named connection profiles saved as YAML
// under the wizard config directory. A profile records everything
// non-secret about a remote setup; secrets live in the credential store
// keyed by the profile's host.
package connections

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openbench/obwizard/internal/config"
)

// Profile describes one saved remote setup.
type Profile struct {
	Name        string `yaml:"name"`
	Host        string `yaml:"host"`
	Username    string `yaml:"username"`
	Port        int    `yaml:"port,omitempty"`
	JumpNode    string `yaml:"jump_node,omitempty"`
	PythonPath  string `yaml:"python_path,omitempty"`
	CondaEnv    string `yaml:"conda_env,omitempty"`
	InstallPath string `yaml:"install_path,omitempty"`
	ProjectPath string `yaml:"project_path,omitempty"`
}

type profileFile struct {
	Connections []Profile `yaml:"connections"`
}

// Manager reads and writes the profile file. Safe for concurrent use.
type Manager struct {
	path string
	log  zerolog.Logger

	mu sync.Mutex
}

// Open prepares a manager rooted at the given config directory.
func Open(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &Manager{path: config.ConnectionsPath(dir), log: zerolog.Nop()}, nil
}

// SetLogger replaces the manager's logger (a no-op logger by default).
func (m *Manager) SetLogger(log zerolog.Logger) { m.log = log }

// List returns all saved profiles in file order.
func (m *Manager) List() []Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load().Connections
}

// Get returns the profile with the given name.
func (m *Manager) Get(name string) (Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.load().Connections {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Save upserts a profile by name: an existing profile with the same
// name is replaced in place, otherwise the profile is appended.
func (m *Manager) Save(p Profile) error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	f := m.load()
	replaced := false
	for i := range f.Connections {
		if f.Connections[i].Name == p.Name {
			f.Connections[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		f.Connections = append(f.Connections, p)
	}
	return m.flush(f)
}

// Delete removes the profile with the given name. Deleting an absent
// profile is a no-op.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := m.load()
	kept := f.Connections[:0]
	removed := false
	for _, p := range f.Connections {
		if p.Name == name {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	if !removed {
		return nil
	}
	f.Connections = kept
	return m.flush(f)
}

// load reads the profile file, treating a missing or unreadable file as
// empty.
func (m *Manager) load() profileFile {
	var f profileFile
	data, err := os.ReadFile(m.path)
	if err != nil {
		return f
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		m.log.Warn().Str("path", m.path).Msg("connection file unreadable, starting fresh")
		return profileFile{}
	}
	return f
}

func (m *Manager) flush(f profileFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
