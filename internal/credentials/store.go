// Package credentials persists per-host connection secrets under the
// wizard config directory. Passwords are encrypted at rest with a key
// derived from the machine identity, so the file is useless when copied
// to another machine or account.
package credentials

import (
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openbench/obwizard/internal/config"
)

// Auth types recorded per host.
const (
	AuthPassword = "password"
	AuthKey      = "key"
)

// JumpAuth holds the credentials for an onward hop made from a host.
type JumpAuth struct {
	AuthType string `json:"auth_type"`
	Password string `json:"password,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	User     string `json:"user,omitempty"`
}

// Credential is everything needed to reconnect to one host.
type Credential struct {
	AuthType string    `json:"auth_type"`
	Password string    `json:"password,omitempty"`
	KeyFile  string    `json:"key_file,omitempty"`
	JumpNode string    `json:"jump_node,omitempty"`
	JumpAuth *JumpAuth `json:"jump_auth,omitempty"`
}

type credentialFile struct {
	Servers map[string]Credential `json:"servers"`
}

// Store reads and writes the credential file. Safe for concurrent use.
type Store struct {
	path     string
	key      []byte
	degraded bool
	log      zerolog.Logger

	mu sync.Mutex
}

// Open prepares a store rooted at dir, deriving the encryption key from
// the salt file there (created on first use).
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	salt, degraded := loadOrCreateSalt(config.SaltPath(dir))
	return &Store{
		path:     config.CredentialsPath(dir),
		key:      deriveKey(salt),
		degraded: degraded,
		log:      zerolog.Nop(),
	}, nil
}

// SetLogger replaces the store's logger (a no-op logger by default).
func (s *Store) SetLogger(log zerolog.Logger) { s.log = log }

// DegradedSalt reports whether the store fell back to a deterministic
// salt because the salt file could not be read or created.
func (s *Store) DegradedSalt() bool { return s.degraded }

// Save records the credential for host, replacing any previous entry.
// The password is encrypted before it touches disk.
func (s *Store) Save(host string, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cred.Password != "" {
		enc, err := encrypt(s.key, cred.Password)
		if err != nil {
			return err
		}
		cred.Password = enc
	}
	if cred.JumpAuth != nil && cred.JumpAuth.Password != "" {
		ja := *cred.JumpAuth
		enc, err := encrypt(s.key, ja.Password)
		if err != nil {
			return err
		}
		ja.Password = enc
		cred.JumpAuth = &ja
	}

	f := s.load()
	f.Servers[host] = cred
	return s.flush(f)
}

// Get returns the stored credential for host with passwords decrypted.
// A password that no longer decrypts (different machine, tampered file)
// comes back empty rather than failing the whole lookup.
func (s *Store) Get(host string) (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.load()
	cred, ok := f.Servers[host]
	if !ok {
		return Credential{}, false
	}
	cred.Password = s.reveal(host, cred.Password)
	if cred.JumpAuth != nil {
		ja := *cred.JumpAuth
		ja.Password = s.reveal(host, ja.Password)
		cred.JumpAuth = &ja
	}
	return cred, true
}

// Delete removes the entry for host. Deleting an absent host is a no-op.
func (s *Store) Delete(host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.load()
	if _, ok := f.Servers[host]; !ok {
		return nil
	}
	delete(f.Servers, host)
	return s.flush(f)
}

// Hosts lists the hosts with stored credentials, sorted.
func (s *Store) Hosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.load()
	hosts := make([]string, 0, len(f.Servers))
	for h := range f.Servers {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// ClearAll deletes every stored credential.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush(credentialFile{Servers: map[string]Credential{}})
}

func (s *Store) reveal(host, token string) string {
	if token == "" {
		return ""
	}
	plain, err := decrypt(s.key, token)
	if err != nil {
		s.log.Warn().Str("host", host).Err(err).Msg("stored password no longer decrypts")
		return ""
	}
	return plain
}

// load reads the credential file, treating a missing or corrupted file
// as empty so one bad write never wedges the store.
func (s *Store) load() credentialFile {
	f := credentialFile{Servers: map[string]Credential{}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return f
	}
	if err := json.Unmarshal(data, &f); err != nil || f.Servers == nil {
		s.log.Warn().Str("path", s.path).Msg("credential file unreadable, starting fresh")
		f.Servers = map[string]Credential{}
	}
	return f
}

func (s *Store) flush(f credentialFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	config.Restrict(s.path)
	return nil
}
