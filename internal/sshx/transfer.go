package sshx

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// transferSession returns the lazily-created transfer sub-session for
// the active endpoint, opening it on first use. It is reused for the
// lifetime of the connection; Disconnect and DisconnectJump close it.
func (m *Manager) transferSession() (transferClient, error) {
	m.mu.Lock()
	if m.transfer != nil {
		t := m.transfer
		m.mu.Unlock()
		return t, nil
	}
	m.mu.Unlock()

	c, err := m.activeClient()
	if err != nil {
		return nil, err
	}
	t, err := c.newTransfer()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	// Another caller may have raced us here; keep the first session.
	if m.transfer == nil {
		m.transfer = t
		m.mu.Unlock()
		return t, nil
	}
	existing := m.transfer
	m.mu.Unlock()
	_ = t.Close()
	return existing, nil
}

// UploadFile copies a local file to remotePath, creating missing remote
// parent directories.
func (m *Manager) UploadFile(localPath, remotePath string) error {
	t, err := m.transferSession()
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer src.Close()

	if err := ensureRemoteDir(t, path.Dir(remotePath)); err != nil {
		return err
	}

	dst, err := t.Create(remotePath)
	if err != nil {
		return fmt.Errorf("creating remote %s: %w", remotePath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("uploading %s: %w", localPath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("finalizing remote %s: %w", remotePath, err)
	}
	return nil
}

// DownloadFile copies a remote file to localPath, creating missing
// local parent directories.
func (m *Manager) DownloadFile(remotePath, localPath string) error {
	t, err := m.transferSession()
	if err != nil {
		return err
	}

	src, err := t.Open(remotePath)
	if err != nil {
		return fmt.Errorf("opening remote %s: %w", remotePath, err)
	}
	defer src.Close()

	if dir := filepath.Dir(localPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("downloading %s: %w", remotePath, err)
	}
	return dst.Close()
}

// UploadDirectory recursively copies localDir under remoteDir,
// preserving relative layout.
func (m *Manager) UploadDirectory(localDir, remoteDir string) error {
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		remote := path.Join(remoteDir, filepath.ToSlash(rel))
		return m.UploadFile(p, remote)
	})
}

// ensureRemoteDir creates dir and its ancestors one segment at a time.
// Each segment is checked before creation; a concurrent creator winning
// the race is fine, so mkdir failures on paths that then stat as
// directories are ignored.
func ensureRemoteDir(t transferClient, dir string) error {
	dir = path.Clean(dir)
	if dir == "." || dir == "/" || dir == "" {
		return nil
	}

	var prefix string
	if strings.HasPrefix(dir, "/") {
		prefix = "/"
	}
	segments := strings.Split(strings.Trim(dir, "/"), "/")
	current := prefix
	for _, seg := range segments {
		current = path.Join(current, seg)
		if info, err := t.Stat(current); err == nil {
			if !info.IsDir() {
				return fmt.Errorf("remote path %s exists and is not a directory", current)
			}
			continue
		}
		if err := t.Mkdir(current); err != nil {
			if info, statErr := t.Stat(current); statErr == nil && info.IsDir() {
				continue
			}
			return fmt.Errorf("creating remote dir %s: %w", current, err)
		}
	}
	return nil
}
