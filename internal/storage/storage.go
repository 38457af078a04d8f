// Package storage unifies local-filesystem and cache-backed remote
// access to a project directory behind one interface, so callers stay
// agnostic to where the project actually lives.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/openbench/obwizard/internal/syncengine"
)

// ProjectStorage is the uniform file surface over a project root. All
// paths are relative to that root.
type ProjectStorage interface {
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
	ListDir(path string) ([]string, error)
	Exists(path string) bool
	Glob(pattern string) ([]string, error)
	Mkdir(path string) error
	Delete(path string) error
	Root() string
}

// Local serves a project directly from the local filesystem.
type Local struct {
	root string
}

// NewLocal returns storage rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{root: dir}
}

func (l *Local) Root() string { return l.root }

func (l *Local) fullPath(p string) string {
	if p == "" {
		return l.root
	}
	return filepath.Join(l.root, p)
}

func (l *Local) ReadFile(p string) (string, error) {
	data, err := os.ReadFile(l.fullPath(p))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile creates parent directories as needed.
func (l *Local) WriteFile(p, content string) error {
	full := l.fullPath(p)
	if dir := filepath.Dir(full); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(full, []byte(content), 0644)
}

// ListDir returns the names in a directory. A missing directory comes
// back empty rather than failing.
func (l *Local) ListDir(p string) ([]string, error) {
	entries, err := os.ReadDir(l.fullPath(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (l *Local) Exists(p string) bool {
	_, err := os.Stat(l.fullPath(p))
	return err == nil
}

// Glob matches against the project root and returns root-relative
// paths.
func (l *Local) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(l.fullPath(pattern))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(l.root, m)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

func (l *Local) Mkdir(p string) error {
	return os.MkdirAll(l.fullPath(p), 0755)
}

// Delete removes a file or an empty directory.
func (l *Local) Delete(p string) error {
	return os.Remove(l.fullPath(p))
}

// Remote serves a project through a sync engine: reads and writes go to
// the local cache, with flushing handled by the engine.
type Remote struct {
	root   string
	engine *syncengine.Engine
}

// NewRemote returns storage backed by the given engine. The root is
// informational; the engine already carries the remote directory.
func NewRemote(root string, engine *syncengine.Engine) *Remote {
	return &Remote{root: root, engine: engine}
}

func (r *Remote) Root() string { return r.root }

// Engine exposes the backing sync engine for sync-state queries.
func (r *Remote) Engine() *syncengine.Engine { return r.engine }

func (r *Remote) ReadFile(p string) (string, error) {
	return r.engine.Read(p)
}

func (r *Remote) WriteFile(p, content string) error {
	r.engine.Write(p, content)
	return nil
}

func (r *Remote) ListDir(p string) ([]string, error) {
	return r.engine.ListDir(p), nil
}

func (r *Remote) Exists(p string) bool {
	return r.engine.Exists(p)
}

func (r *Remote) Glob(pattern string) ([]string, error) {
	return r.engine.Glob(pattern), nil
}

func (r *Remote) Mkdir(p string) error {
	return r.engine.Mkdir(p)
}

func (r *Remote) Delete(p string) error {
	return r.engine.Delete(p)
}

var (
	_ ProjectStorage = (*Local)(nil)
	_ ProjectStorage = (*Remote)(nil)
)

// Describe returns a short human label for status lines.
func Describe(s ProjectStorage) string {
	switch s.(type) {
	case *Remote:
		return fmt.Sprintf("remote project at %s", s.Root())
	default:
		return fmt.Sprintf("local project at %s", s.Root())
	}
}
