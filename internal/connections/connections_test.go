package connections

import (
	"os"
	"testing"

	"github.com/openbench/obwizard/internal/config"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return m, dir
}

func TestSaveAndGet(t *testing.T) {
	m, _ := newTestManager(t)

	p := Profile{Name: "hpc", Host: "login.hpc.edu", Username: "alice", CondaEnv: "obench"}
	if err := m.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok := m.Get("hpc")
	if !ok {
		t.Fatal("Get: profile not found")
	}
	if got != p {
		t.Errorf("got %+v, want %+v", got, p)
	}
}

func TestSaveRequiresName(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Save(Profile{Host: "h"}); err == nil {
		t.Error("Save without a name succeeded")
	}
}

func TestSaveUpsertsByName(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.Save(Profile{Name: "a", Host: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(Profile{Name: "b", Host: "other"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(Profile{Name: "a", Host: "second"}); err != nil {
		t.Fatal(err)
	}

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("List returned %d profiles, want 2", len(list))
	}
	if list[0].Name != "a" || list[0].Host != "second" {
		t.Errorf("list[0] = %+v, want updated profile in place", list[0])
	}
	if list[1].Name != "b" {
		t.Errorf("list[1] = %+v", list[1])
	}
}

func TestDelete(t *testing.T) {
	m, _ := newTestManager(t)

	for _, name := range []string{"a", "b", "c"} {
		if err := m.Save(Profile{Name: name, Host: name + ".example.org"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Delete("b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete("missing"); err != nil {
		t.Errorf("Delete of absent profile: %v", err)
	}

	list := m.List()
	if len(list) != 2 || list[0].Name != "a" || list[1].Name != "c" {
		t.Errorf("List after delete = %+v", list)
	}
}

func TestPersistsAcrossManagers(t *testing.T) {
	m1, dir := newTestManager(t)
	if err := m1.Save(Profile{Name: "keep", Host: "h", JumpNode: "compute01"}); err != nil {
		t.Fatal(err)
	}

	m2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := m2.Get("keep")
	if !ok || got.JumpNode != "compute01" {
		t.Errorf("reloaded profile = %+v, ok=%v", got, ok)
	}
}

func TestUnreadableFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.ConnectionsPath(dir), []byte(":\n\t- bad"), 0600); err != nil {
		t.Fatal(err)
	}

	m, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if list := m.List(); len(list) != 0 {
		t.Errorf("List on unreadable file = %+v", list)
	}
	if err := m.Save(Profile{Name: "fresh", Host: "h"}); err != nil {
		t.Fatalf("Save after corruption: %v", err)
	}
	if _, ok := m.Get("fresh"); !ok {
		t.Error("profile not saved after recovering from corruption")
	}
}
