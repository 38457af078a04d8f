package syncengine

import (
	"fmt"
	"strings"
)

// ListDir lists the names in a remote directory. Missing directories
// come back empty.
func (e *Engine) ListDir(p string) []string {
	remote := e.remotePath(p)
	stdout, _, exit, err := e.exec.Execute(fmt.Sprintf("ls -1 '%s' 2>/dev/null", remote), readTimeout)
	if err != nil || exit != 0 {
		return nil
	}
	return splitLines(stdout)
}

// Exists reports whether a path exists. A cached path counts as
// existing even before it has been flushed.
func (e *Engine) Exists(p string) bool {
	e.mu.Lock()
	_, cached := e.cache[p]
	e.mu.Unlock()
	if cached {
		return true
	}

	remote := e.remotePath(p)
	stdout, _, exit, err := e.exec.Execute(fmt.Sprintf("test -e '%s' && echo 'exists'", remote), probeTimeout)
	return err == nil && exit == 0 && strings.Contains(stdout, "exists")
}

// Glob returns remote files matching the pattern, relative to the
// engine's root. ** is supported via bash globstar. Failures come back
// empty.
func (e *Engine) Glob(pattern string) []string {
	inner := fmt.Sprintf(
		`cd '%s' && shopt -s globstar nullglob && for f in %s; do [ -f "$f" ] && echo "$f"; done`,
		e.remoteDir, pattern,
	)
	stdout, _, exit, err := e.exec.Execute(fmt.Sprintf("bash -c '%s'", inner), readTimeout)
	if err != nil || exit != 0 {
		return nil
	}
	return splitLines(stdout)
}

// Mkdir creates a remote directory, parents included.
func (e *Engine) Mkdir(p string) error {
	remote := e.remotePath(p)
	_, stderr, exit, err := e.exec.Execute(fmt.Sprintf("mkdir -p '%s'", remote), probeTimeout)
	if err != nil {
		return err
	}
	if exit != 0 {
		return fmt.Errorf("mkdir failed: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// Delete removes a remote file and evicts any cache entry for it.
func (e *Engine) Delete(p string) error {
	remote := e.remotePath(p)
	_, _, _, err := e.exec.Execute(fmt.Sprintf("rm -f '%s'", remote), probeTimeout)

	e.mu.Lock()
	delete(e.cache, p)
	delete(e.status, p)
	delete(e.pending, p)
	delete(e.errors, p)
	e.mu.Unlock()

	return err
}

// LoadProject pre-warms the cache with the project's namelist files.
// Individual load failures are logged and skipped.
func (e *Engine) LoadProject() {
	for _, p := range e.Glob("nml/**/*.yaml") {
		if _, err := e.Read(p); err != nil {
			e.log.Warn().Str("path", p).Err(err).Msg("preload failed")
		}
	}
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
