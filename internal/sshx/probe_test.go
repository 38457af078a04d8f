package sshx

import (
	"errors"
	"strings"
	"testing"
)

func probeManager(t *testing.T, handler func(cmd string) (string, string, int, error)) *Manager {
	t.Helper()
	primary := &fakeClient{handler: handler}
	installFakeDialers(t, primary, nil)
	m := newTestManager(t)
	if err := m.Connect("alice@h", Auth{Password: "x"}); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestDetectPythonInterpreters_Layers(t *testing.T) {
	m := probeManager(t, func(cmd string) (string, string, int, error) {
		switch {
		case strings.Contains(cmd, "CONDA_PREFIX"):
			return "/home/alice/miniconda3/envs/land/bin/python3\n", "", 0, nil
		case strings.Contains(cmd, "for p in"):
			return "/home/alice/miniconda3/bin/python3\n/home/alice/miniconda3/envs/land/bin/python\n", "", 0, nil
		case strings.Contains(cmd, "which -a"):
			// Login shells echo banners; non-path lines are skipped,
			// and system pythons are low-value matches.
			return "welcome to cluster\n/usr/bin/python3\n/opt/python/bin/python3\n", "", 0, nil
		}
		return "", "", 1, nil
	})

	got := m.DetectPythonInterpreters()
	want := []string{
		"/home/alice/miniconda3/envs/land/bin/python3",
		"/home/alice/miniconda3/bin/python3",
		"/home/alice/miniconda3/envs/land/bin/python",
		"/opt/python/bin/python3",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}

func TestDetectPythonInterpreters_DegradesToEmpty(t *testing.T) {
	m := probeManager(t, func(cmd string) (string, string, int, error) {
		return "", "", 0, errors.New("network dropped")
	})
	if got := m.DetectPythonInterpreters(); len(got) != 0 {
		t.Errorf("expected no interpreters, got %v", got)
	}

	disconnected := newTestManager(t)
	if got := disconnected.DetectPythonInterpreters(); len(got) != 0 {
		t.Errorf("probing while disconnected must degrade, got %v", got)
	}
}

func TestDetectCondaEnvs_ParsesEnvList(t *testing.T) {
	m := probeManager(t, func(cmd string) (string, string, int, error) {
		if strings.Contains(cmd, "conda env list") {
			out := "# conda environments:\n#\nbase                  *  /home/alice/miniconda3\nland                     /home/alice/miniconda3/envs/land\n"
			return out, "", 0, nil
		}
		return "", "", 1, nil
	})

	got := m.DetectCondaEnvs()
	if len(got) != 2 || got[0] != "base" || got[1] != "land" {
		t.Errorf("got %v, want [base land]", got)
	}
}

func TestDetectCondaEnvs_FallsBackToEnvDirs(t *testing.T) {
	m := probeManager(t, func(cmd string) (string, string, int, error) {
		if strings.Contains(cmd, "conda env list") {
			return "", "", 127, nil // conda not on PATH
		}
		if strings.Contains(cmd, "envs") {
			return "/home/alice/miniconda3/envs:\nland\nocean\n", "", 0, nil
		}
		return "", "", 1, nil
	})

	got := m.DetectCondaEnvs()
	if len(got) != 2 || got[0] != "land" || got[1] != "ocean" {
		t.Errorf("got %v, want [land ocean]", got)
	}
}

func TestCheckOpenBenchInstalled(t *testing.T) {
	m := probeManager(t, func(cmd string) (string, string, int, error) {
		if strings.Contains(cmd, "'/opt/openbench/openbench/openbench.py'") {
			return "", "", 0, nil
		}
		return "", "", 1, nil
	})

	if !m.CheckOpenBenchInstalled("/opt/openbench") {
		t.Error("expected installed at /opt/openbench")
	}
	if m.CheckOpenBenchInstalled("/opt/elsewhere") {
		t.Error("expected not installed at /opt/elsewhere")
	}
	if m.CheckOpenBenchInstalled("") {
		t.Error("empty install path can never be installed")
	}
}
