// Package config locates the per-user wizard configuration directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigDirName is the directory under the user's home that holds all
// persisted wizard state.
const ConfigDirName = ".openbench_wizard"

const (
	CredentialsFile = "credentials.json"
	SaltFile        = "salt.bin"
	KnownHostsFile  = "known_hosts"
	ConnectionsFile = "connections.yaml"
	HistoryDBFile   = "history.db"
)

// Dir returns the wizard configuration directory, honoring the
// OBW_CONFIG_DIR override used by tests and portable installs.
func Dir() (string, error) {
	if dir := os.Getenv("OBW_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ConfigDirName), nil
}

// EnsureDir creates the configuration directory with owner-only
// permissions if it does not already exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	return nil
}

// CredentialsPath returns the path to the encrypted credential file.
func CredentialsPath(dir string) string {
	return filepath.Join(dir, CredentialsFile)
}

// SaltPath returns the path to the per-installation salt file.
func SaltPath(dir string) string {
	return filepath.Join(dir, SaltFile)
}

// KnownHostsPath returns the path to the trust store file.
func KnownHostsPath(dir string) string {
	return filepath.Join(dir, KnownHostsFile)
}

// ConnectionsPath returns the path to the saved connection profiles.
func ConnectionsPath(dir string) string {
	return filepath.Join(dir, ConnectionsFile)
}

// HistoryDBPath returns the path to the run history database.
func HistoryDBPath(dir string) string {
	return filepath.Join(dir, HistoryDBFile)
}

// Restrict narrows a file's permissions to owner read/write. Platforms
// without POSIX permission bits make chmod a no-op or an error; either
// way the file stays usable, so the error is ignored.
func Restrict(path string) {
	_ = os.Chmod(path, 0600)
}
