package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDir_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OBW_CONFIG_DIR", dir)

	got, err := Dir()
	if err != nil {
		t.Fatal(err)
	}
	if got != dir {
		t.Errorf("expected %q, got %q", dir, got)
	}
}

func TestDir_DefaultUnderHome(t *testing.T) {
	t.Setenv("OBW_CONFIG_DIR", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory in test environment")
	}

	got, err := Dir()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(home, ConfigDirName)
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestEnsureDir_CreatesWithOwnerOnlyPerms(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cfg")
	if err := EnsureDir(dir); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() {
		t.Fatal("expected a directory")
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("expected owner-only permissions, got %o", perm)
	}
}

func TestPathHelpers(t *testing.T) {
	dir := "/cfg"
	cases := map[string]string{
		CredentialsPath(dir): "credentials.json",
		SaltPath(dir):        "salt.bin",
		KnownHostsPath(dir):  "known_hosts",
		ConnectionsPath(dir): "connections.yaml",
		HistoryDBPath(dir):   "history.db",
	}
	for got, base := range cases {
		if got != filepath.Join(dir, base) {
			t.Errorf("expected %s under %s, got %q", base, dir, got)
		}
	}
}

func TestRestrict_MissingFileIsHarmless(t *testing.T) {
	// Best-effort hardening must never panic or matter on failure.
	Restrict(filepath.Join(t.TempDir(), "nope"))
}
