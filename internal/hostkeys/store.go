// Package hostkeys implements a trust-on-first-use host key store.
//
// The store persists one public key per (hostname, key type) pair in the
// OpenSSH known_hosts line format. A host offering the stored key is
// accepted silently; a host offering a different key of the same type is
// always rejected, no matter what any prompt answers.
package hostkeys

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/openbench/obwizard/internal/config"
)

// PromptFunc is asked whether to trust a host seen for the first time.
// It receives the hostname, the key type, and the SHA256 fingerprint of
// the offered key.
type PromptFunc func(hostname, keyType, fingerprint string) bool

// KeyChangedError reports a stored key that no longer matches what the
// host offered. This is the hard trust failure: it cannot be accepted by
// any callback.
type KeyChangedError struct {
	Hostname           string
	KeyType            string
	StoredFingerprint  string
	OfferedFingerprint string
}

func (e *KeyChangedError) Error() string {
	return fmt.Sprintf(
		"host identity changed for %s: stored %s key %s, offered %s (possible man-in-the-middle; remove the stored key only if the host was legitimately reinstalled)",
		e.Hostname, e.KeyType, e.StoredFingerprint, e.OfferedFingerprint)
}

// UnknownHostError reports a first-seen host that was not accepted,
// either because no prompt was registered or because the prompt declined.
type UnknownHostError struct {
	Hostname    string
	KeyType     string
	Fingerprint string
}

func (e *UnknownHostError) Error() string {
	return fmt.Sprintf("host key for %s not trusted (%s %s)", e.Hostname, e.KeyType, e.Fingerprint)
}

// Store is a file-backed trust store. All methods are safe for
// concurrent use.
type Store struct {
	path string
	log  zerolog.Logger

	mu         sync.Mutex
	autoAccept bool
	prompt     PromptFunc
	// hostname -> key type -> raw public key bytes
	records map[string]map[string][]byte
}

// Open loads the trust store at path. A missing file yields an empty
// store; malformed lines are skipped.
func Open(path string) (*Store, error) {
	s := &Store{
		path:    path,
		log:     zerolog.Nop(),
		records: make(map[string]map[string][]byte),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(log zerolog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = log
}

// SetPrompt registers the decision callback for first-seen hosts.
func (s *Store) SetPrompt(f PromptFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = f
}

// SetAutoAccept enables accepting first-seen hosts without a prompt.
// With auto-accept off and no prompt registered, unknown hosts are
// rejected.
func (s *Store) SetAutoAccept(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoAccept = v
}

// Verify decides whether the offered key is trusted for hostname.
// Novel hosts go through the prompt (or auto-accept) and are persisted
// before Verify returns, so a crash after acceptance re-prompts rather
// than silently trusting.
func (s *Store) Verify(hostname string, key ssh.PublicKey) error {
	keyType := key.Type()
	offered := key.Marshal()
	fingerprint := ssh.FingerprintSHA256(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.records[hostname][keyType]; ok {
		if bytesEqual(stored, offered) {
			return nil
		}
		storedKey, err := ssh.ParsePublicKey(stored)
		storedFP := "(unparsable stored key)"
		if err == nil {
			storedFP = ssh.FingerprintSHA256(storedKey)
		}
		s.log.Error().Str("host", hostname).Str("key_type", keyType).Msg("host key mismatch")
		return &KeyChangedError{
			Hostname:           hostname,
			KeyType:            keyType,
			StoredFingerprint:  storedFP,
			OfferedFingerprint: fingerprint,
		}
	}

	accept := s.autoAccept
	if s.prompt != nil {
		accept = s.prompt(hostname, keyType, fingerprint)
	}
	if !accept {
		return &UnknownHostError{Hostname: hostname, KeyType: keyType, Fingerprint: fingerprint}
	}

	if s.records[hostname] == nil {
		s.records[hostname] = make(map[string][]byte)
	}
	s.records[hostname][keyType] = offered
	if err := s.save(); err != nil {
		delete(s.records[hostname], keyType)
		return fmt.Errorf("persisting trusted host key: %w", err)
	}
	s.log.Info().Str("host", hostname).Str("fingerprint", fingerprint).Msg("trusted new host key")
	return nil
}

// Callback adapts the store for ssh.ClientConfig.HostKeyCallback.
func (s *Store) Callback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		return s.Verify(stripPort(hostname), key)
	}
}

// Remove drops all stored keys for hostname, for use after a verified
// legitimate reinstall.
func (s *Store) Remove(hostname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[hostname]; !ok {
		return nil
	}
	delete(s.records, hostname)
	return s.save()
}

// Hosts returns all hostnames with at least one stored key, sorted.
func (s *Store) Hosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	hosts := make([]string, 0, len(s.records))
	for h := range s.records {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening trust store: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(fields[2])
		if err != nil {
			continue
		}
		host, keyType := fields[0], fields[1]
		if s.records[host] == nil {
			s.records[host] = make(map[string][]byte)
		}
		s.records[host][keyType] = raw
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading trust store: %w", err)
	}
	return nil
}

// save writes the whole store atomically. Caller must hold s.mu.
func (s *Store) save() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating trust store dir: %w", err)
		}
	}

	var lines []string
	for host, byType := range s.records {
		for keyType, raw := range byType {
			lines = append(lines, fmt.Sprintf("%s %s %s", host, keyType, base64.StdEncoding.EncodeToString(raw)))
		}
	}
	sort.Strings(lines)

	tmp := s.path + ".tmp"
	data := strings.Join(lines, "\n")
	if data != "" {
		data += "\n"
	}
	if err := os.WriteFile(tmp, []byte(data), 0600); err != nil {
		return fmt.Errorf("writing trust store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing trust store: %w", err)
	}
	config.Restrict(s.path)
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// stripPort removes a ":port" suffix from the hostname the ssh package
// passes to host key callbacks.
func stripPort(hostname string) string {
	host, _, err := net.SplitHostPort(hostname)
	if err != nil {
		return hostname
	}
	return host
}
