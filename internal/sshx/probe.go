package sshx

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// probeTimeout bounds each individual discovery command. Probing is an
// advisory convenience for the UI; it degrades to empty results on any
// failure and never returns an error.
const probeTimeout = 10 * time.Second

// systemPythonPaths are low-value matches skipped during discovery:
// distribution pythons rarely carry the scientific stack.
var systemPythonPaths = map[string]bool{
	"/usr/bin/python":   true,
	"/usr/bin/python2":  true,
	"/usr/bin/python3":  true,
	"/bin/python":       true,
	"/bin/python2":      true,
	"/bin/python3":      true,
	"/usr/sbin/python":  true,
	"/usr/sbin/python3": true,
}

// DetectPythonInterpreters discovers Python interpreters on the remote
// host, in three layers: the active environment marker, common install
// locations under the remote home, and an interactive-login-shell
// `which` that inherits the user's shell customizations.
func (m *Manager) DetectPythonInterpreters() []string {
	seen := make(map[string]bool)
	var found []string
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] || systemPythonPaths[p] {
			return
		}
		seen[p] = true
		found = append(found, p)
	}

	// Layer 1: an already-activated environment.
	if out, _, exit, err := m.Execute(`[ -n "$CONDA_PREFIX" ] && ls "$CONDA_PREFIX"/bin/python* 2>/dev/null`, probeTimeout); err == nil && exit == 0 {
		for _, line := range splitNonEmpty(out) {
			add(line)
		}
	}

	// Layer 2: common installation directories under the remote home.
	globs := strings.Join([]string{
		"$HOME/miniconda3/bin/python3",
		"$HOME/anaconda3/bin/python3",
		"$HOME/miniforge3/bin/python3",
		"$HOME/miniconda3/envs/*/bin/python",
		"$HOME/anaconda3/envs/*/bin/python",
		"$HOME/.conda/envs/*/bin/python",
		"$HOME/.local/bin/python3",
	}, " ")
	cmd := fmt.Sprintf(`for p in %s; do [ -x "$p" ] && echo "$p"; done`, globs)
	if out, _, exit, err := m.Execute(cmd, probeTimeout); err == nil && exit == 0 {
		for _, line := range splitNonEmpty(out) {
			add(line)
		}
	}

	// Layer 3: whatever the user's login shell puts on PATH.
	if out, _, _, err := m.Execute(`bash -lic 'which -a python3 python 2>/dev/null' 2>/dev/null`, probeTimeout); err == nil {
		for _, line := range splitNonEmpty(out) {
			if strings.HasPrefix(line, "/") {
				add(line)
			}
		}
	}

	return found
}

// DetectCondaEnvs discovers conda environment names on the remote
// host. Returns an empty slice when conda is absent or probing fails.
func (m *Manager) DetectCondaEnvs() []string {
	seen := make(map[string]bool)
	var envs []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || name == "*" || seen[name] {
			return
		}
		seen[name] = true
		envs = append(envs, name)
	}

	if out, _, exit, err := m.Execute(`bash -lc 'conda env list 2>/dev/null' 2>/dev/null`, probeTimeout); err == nil && exit == 0 {
		for _, line := range splitNonEmpty(out) {
			if strings.HasPrefix(line, "#") {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) > 0 {
				add(fields[0])
			}
		}
	}

	if len(envs) == 0 {
		// conda itself may not be on PATH; look where envs usually live.
		if out, _, _, err := m.Execute(`ls -1 "$HOME"/miniconda3/envs "$HOME"/anaconda3/envs "$HOME"/.conda/envs 2>/dev/null`, probeTimeout); err == nil {
			for _, line := range splitNonEmpty(out) {
				if strings.HasSuffix(line, ":") {
					continue
				}
				add(line)
			}
		}
	}

	sort.Strings(envs)
	return envs
}

// CheckOpenBenchInstalled reports whether installPath holds an
// OpenBench checkout. Probing failures report false, never an error.
func (m *Manager) CheckOpenBenchInstalled(installPath string) bool {
	if installPath == "" {
		return false
	}
	script := fmt.Sprintf("%s/openbench/openbench.py", strings.TrimRight(installPath, "/"))
	_, _, exit, err := m.Execute(fmt.Sprintf("test -f '%s'", script), probeTimeout)
	return err == nil && exit == 0
}

// splitNonEmpty splits output by newlines, trimming and dropping blank
// lines.
func splitNonEmpty(s string) []string {
	var result []string
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			result = append(result, t)
		}
	}
	return result
}
