package history

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndFinish(t *testing.T) {
	s := newTestStore(t)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	id, err := s.Append("login.hpc.edu", "/proj/main.yaml", start)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Finish(id, start.Add(time.Hour), true, "Evaluation completed successfully"); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	records, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Recent returned %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Host != "login.hpc.edu" || rec.ConfigPath != "/proj/main.yaml" {
		t.Errorf("record = %+v", rec)
	}
	if !rec.Success || rec.Message != "Evaluation completed successfully" {
		t.Errorf("outcome = %v %q", rec.Success, rec.Message)
	}
	if !rec.StartedAt.Equal(start) || !rec.FinishedAt.Equal(start.Add(time.Hour)) {
		t.Errorf("timestamps = %v .. %v", rec.StartedAt, rec.FinishedAt)
	}
}

func TestUnfinishedRun(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Append("host", "/cfg.yaml", time.Now()); err != nil {
		t.Fatal(err)
	}
	records, err := s.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0].Success {
		t.Error("unfinished run reported success")
	}
	if !records[0].FinishedAt.IsZero() {
		t.Errorf("unfinished run has FinishedAt %v", records[0].FinishedAt)
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if _, err := s.Append("host", "/cfg.yaml", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.Recent(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].StartedAt.After(records[i-1].StartedAt) {
			t.Errorf("records out of order: %v before %v", records[i-1].StartedAt, records[i].StartedAt)
		}
	}
	if !records[0].StartedAt.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("newest record = %v", records[0].StartedAt)
	}
}

func TestReopenSeesExistingRuns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s1.Append("host", "/cfg.yaml", time.Now()); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	records, err := s2.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("reopened store sees %d records, want 1", len(records))
	}
}
