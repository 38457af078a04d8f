package sshx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// client is the subset of an established SSH connection the Manager
// needs. The real implementation wraps *ssh.Client; tests substitute
// fakes, the same seam the server-checking code in the original tool's
// lineage uses.
type client interface {
	// run executes cmd to completion. stdin may be nil. A timeout of
	// zero means no deadline. The returned exit code is meaningful only
	// when err is nil.
	run(cmd string, stdin io.Reader, timeout time.Duration) (stdout, stderr string, exit int, err error)
	// stream starts cmd and returns its interleaved output lines.
	stream(cmd string) (*Stream, error)
	// dialTCP opens a forwarded TCP connection through this client's
	// transport.
	dialTCP(addr string) (net.Conn, error)
	// newTransfer opens a file-transfer sub-session.
	newTransfer() (transferClient, error)
	// user reports the authenticated username.
	user() string
	close() error
}

// transferClient is the subset of an SFTP session the transfer helpers
// need.
type transferClient interface {
	Stat(path string) (os.FileInfo, error)
	Mkdir(path string) error
	Create(path string) (io.WriteCloser, error)
	Open(path string) (io.ReadCloser, error)
	Close() error
}

// realClient backs the interfaces with x/crypto/ssh and pkg/sftp.
type realClient struct {
	conn     *ssh.Client
	username string
}

// dialSSH opens a direct TCP transport. Overridable in tests.
var dialSSH = func(addr string, cfg *ssh.ClientConfig) (client, error) {
	c, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, err
	}
	return &realClient{conn: c, username: cfg.User}, nil
}

// dialThrough performs an SSH handshake over an already-established
// connection (the forwarded channel of a jump hop). Overridable in
// tests.
var dialThrough = func(conn net.Conn, addr string, cfg *ssh.ClientConfig) (client, error) {
	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		return nil, err
	}
	return &realClient{conn: ssh.NewClient(ncc, chans, reqs), username: cfg.User}, nil
}

func (r *realClient) user() string { return r.username }

func (r *realClient) close() error { return r.conn.Close() }

func (r *realClient) dialTCP(addr string) (net.Conn, error) {
	return r.conn.Dial("tcp", addr)
}

func (r *realClient) run(cmd string, stdin io.Reader, timeout time.Duration) (string, string, int, error) {
	session, err := r.conn.NewSession()
	if err != nil {
		return "", "", 0, fmt.Errorf("creating session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	if err := session.Start(cmd); err != nil {
		return "", "", 0, fmt.Errorf("starting command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case err := <-done:
		exit := 0
		if err != nil {
			var exitErr *ssh.ExitError
			if !errors.As(err, &exitErr) {
				return stdout.String(), stderr.String(), 0, fmt.Errorf("running command: %w", err)
			}
			exit = exitErr.ExitStatus()
		}
		return stdout.String(), stderr.String(), exit, nil
	case <-deadline:
		// Closing the session unblocks Wait; the goroutine drains done.
		session.Close()
		return stdout.String(), stderr.String(), 0, fmt.Errorf("command timed out after %s", timeout)
	}
}

func (r *realClient) stream(cmd string) (*Stream, error) {
	session, err := r.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("attaching stdout: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("attaching stderr: %w", err)
	}

	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, fmt.Errorf("starting command: %w", err)
	}

	lines := make(chan string, 64)
	quit := make(chan struct{})
	var quitOnce sync.Once
	var readers sync.WaitGroup
	readers.Add(2)
	go scanLines(stdout, lines, quit, &readers)
	go scanLines(stderr, lines, quit, &readers)

	result := make(chan error, 1)
	go func() {
		// Both pipes must be drained before Wait's exit status is
		// trusted and before the line channel closes.
		readers.Wait()
		result <- session.Wait()
		close(lines)
		session.Close()
	}()

	wait := func() (int, error) {
		err := <-result
		result <- err // re-arm for repeated calls
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				return exitErr.ExitStatus(), nil
			}
			return 0, fmt.Errorf("waiting for command: %w", err)
		}
		return 0, nil
	}
	abort := func() {
		quitOnce.Do(func() { close(quit) })
		session.Close()
	}

	return NewStream(lines, wait, abort), nil
}

func (r *realClient) newTransfer() (transferClient, error) {
	c, err := sftp.NewClient(r.conn)
	if err != nil {
		return nil, fmt.Errorf("opening transfer session: %w", err)
	}
	return &sftpTransfer{c: c}, nil
}

// sftpTransfer adapts *sftp.Client's concrete return types to the
// transferClient interface.
type sftpTransfer struct {
	c *sftp.Client
}

func (t *sftpTransfer) Stat(path string) (os.FileInfo, error) { return t.c.Stat(path) }
func (t *sftpTransfer) Mkdir(path string) error               { return t.c.Mkdir(path) }
func (t *sftpTransfer) Close() error                          { return t.c.Close() }

func (t *sftpTransfer) Create(path string) (io.WriteCloser, error) {
	return t.c.Create(path)
}

func (t *sftpTransfer) Open(path string) (io.ReadCloser, error) {
	return t.c.Open(path)
}
