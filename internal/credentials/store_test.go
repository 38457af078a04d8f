package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openbench/obwizard/internal/config"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestSaveGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)

	cred := Credential{AuthType: AuthPassword, Password: "hunter2"}
	if err := s.Save("cluster.example.org", cred); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok := s.Get("cluster.example.org")
	if !ok {
		t.Fatal("Get: credential not found")
	}
	if got.AuthType != AuthPassword || got.Password != "hunter2" {
		t.Errorf("got %+v, want password auth with original password", got)
	}
}

func TestRoundTripAcrossStoreInstances(t *testing.T) {
	dir := t.TempDir()
	s1 := newTestStore(t, dir)

	cred := Credential{
		AuthType: AuthPassword,
		Password: "s3cret",
		JumpNode: "compute01",
		JumpAuth: &JumpAuth{AuthType: AuthPassword, Password: "inner", User: "bob"},
	}
	if err := s1.Save("login.hpc.edu", cred); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s2 := newTestStore(t, dir)
	got, ok := s2.Get("login.hpc.edu")
	if !ok {
		t.Fatal("Get on fresh store: credential not found")
	}
	if got.Password != "s3cret" {
		t.Errorf("password = %q, want s3cret", got.Password)
	}
	if got.JumpNode != "compute01" {
		t.Errorf("jump node = %q, want compute01", got.JumpNode)
	}
	if got.JumpAuth == nil || got.JumpAuth.Password != "inner" || got.JumpAuth.User != "bob" {
		t.Errorf("jump auth = %+v, want inner/bob", got.JumpAuth)
	}
}

func TestPasswordEncryptedOnDisk(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)

	if err := s.Save("host1", Credential{AuthType: AuthPassword, Password: "plainly-visible"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(config.CredentialsPath(dir))
	if err != nil {
		t.Fatalf("reading credential file: %v", err)
	}
	if strings.Contains(string(data), "plainly-visible") {
		t.Error("plaintext password found in credential file")
	}

	var f credentialFile
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("credential file is not valid JSON: %v", err)
	}
	if _, ok := f.Servers["host1"]; !ok {
		t.Error("servers map missing host1")
	}
}

func TestKeyAuthStoresNoPassword(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	if err := s.Save("host1", Credential{AuthType: AuthKey, KeyFile: "/home/u/.ssh/id_ed25519"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok := s.Get("host1")
	if !ok {
		t.Fatal("credential not found")
	}
	if got.AuthType != AuthKey || got.KeyFile != "/home/u/.ssh/id_ed25519" || got.Password != "" {
		t.Errorf("got %+v, want key auth with empty password", got)
	}
}

func TestSaveReplacesExisting(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	if err := s.Save("h", Credential{AuthType: AuthPassword, Password: "old"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save("h", Credential{AuthType: AuthKey, KeyFile: "/k"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _ := s.Get("h")
	if got.AuthType != AuthKey || got.Password != "" {
		t.Errorf("got %+v, want replacement key credential", got)
	}
}

func TestDeleteAndHosts(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	for _, h := range []string{"b-host", "a-host", "c-host"} {
		if err := s.Save(h, Credential{AuthType: AuthPassword, Password: "p"}); err != nil {
			t.Fatalf("Save %s: %v", h, err)
		}
	}
	if err := s.Delete("b-host"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("never-existed"); err != nil {
		t.Errorf("Delete of absent host: %v", err)
	}

	hosts := s.Hosts()
	want := []string{"a-host", "c-host"}
	if len(hosts) != len(want) {
		t.Fatalf("Hosts = %v, want %v", hosts, want)
	}
	for i := range want {
		if hosts[i] != want[i] {
			t.Errorf("Hosts[%d] = %q, want %q", i, hosts[i], want[i])
		}
	}
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	if err := s.Save("h1", Credential{AuthType: AuthPassword, Password: "p"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if _, ok := s.Get("h1"); ok {
		t.Error("credential survived ClearAll")
	}
	if len(s.Hosts()) != 0 {
		t.Errorf("Hosts after ClearAll = %v", s.Hosts())
	}
}

func TestCorruptedFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.CredentialsPath(dir), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	s := newTestStore(t, dir)
	if _, ok := s.Get("anything"); ok {
		t.Error("Get on corrupted file returned a credential")
	}
	if err := s.Save("h", Credential{AuthType: AuthPassword, Password: "p"}); err != nil {
		t.Fatalf("Save after corruption: %v", err)
	}
	if got, ok := s.Get("h"); !ok || got.Password != "p" {
		t.Errorf("got %+v after recovering from corruption", got)
	}
}

func TestTamperedPasswordComesBackEmpty(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	if err := s.Save("h", Credential{AuthType: AuthPassword, Password: "p", KeyFile: "/k"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := config.CredentialsPath(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var f credentialFile
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	cred := f.Servers["h"]
	cred.Password = "AAAA" + cred.Password[4:]
	f.Servers["h"] = cred
	out, _ := json.Marshal(f)
	if err := os.WriteFile(path, out, 0600); err != nil {
		t.Fatal(err)
	}

	got, ok := s.Get("h")
	if !ok {
		t.Fatal("tampered entry should still be listed")
	}
	if got.Password != "" {
		t.Errorf("password = %q, want empty after tampering", got.Password)
	}
	if got.KeyFile != "/k" {
		t.Errorf("non-secret fields should survive, got %+v", got)
	}
}

func TestSaltPersistsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	newTestStore(t, dir)

	salt1, err := os.ReadFile(config.SaltPath(dir))
	if err != nil {
		t.Fatalf("salt file not created: %v", err)
	}
	if len(salt1) != saltLen {
		t.Fatalf("salt length = %d, want %d", len(salt1), saltLen)
	}

	newTestStore(t, dir)
	salt2, err := os.ReadFile(config.SaltPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	if string(salt1) != string(salt2) {
		t.Error("salt changed between opens")
	}
}

func TestDegradedSaltFallback(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission checks do not bind as root")
	}
	dir := t.TempDir()
	sub := filepath.Join(dir, "locked")
	if err := os.MkdirAll(sub, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(sub, 0500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(sub, 0700) })

	salt, degraded := loadOrCreateSalt(filepath.Join(sub, config.SaltFile))
	if !degraded {
		t.Error("expected degraded salt when file cannot be written")
	}
	if len(salt) != 32 {
		t.Errorf("fallback salt length = %d", len(salt))
	}

	again, _ := loadOrCreateSalt(filepath.Join(sub, config.SaltFile))
	if string(salt) != string(again) {
		t.Error("fallback salt is not deterministic")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	key := deriveKey([]byte("0123456789abcdef0123456789abcdef"))

	token, err := encrypt(key, "round trip me")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if token == "round trip me" {
		t.Fatal("ciphertext equals plaintext")
	}
	plain, err := decrypt(key, token)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "round trip me" {
		t.Errorf("plain = %q", plain)
	}

	other := deriveKey([]byte("ffffffffffffffffffffffffffffffff"))
	if _, err := decrypt(other, token); err == nil {
		t.Error("decrypt with wrong key succeeded")
	}
}
