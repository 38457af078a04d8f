// Package syncengine provides a locally cached view of a remote project
// directory. Reads and writes hit the cache immediately; dirty files are
// flushed to the remote host on demand or by a background loop, with
// per-file sync state tracked throughout.
package syncengine

import (
	"context"
	"fmt"
	"hash/fnv"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Status is the sync lifecycle state of one cached file.
type Status int

const (
	Synced Status = iota
	Pending
	Syncing
	ErrorState
)

func (s Status) String() string {
	switch s {
	case Synced:
		return "synced"
	case Pending:
		return "pending"
	case Syncing:
		return "syncing"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// NotFoundError reports a read of a path that exists neither in the
// cache nor on the remote host.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("remote file not found: %s", e.Path)
}

// Executor runs shell commands on the remote host. *sshx.Manager
// satisfies it.
type Executor interface {
	Execute(cmd string, timeout time.Duration) (stdout, stderr string, exitCode int, err error)
}

// StatusFunc receives per-file sync state transitions.
type StatusFunc func(path string, status Status)

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
	probeTimeout = 10 * time.Second

	// flushRate bounds how many remote writes the background loop may
	// issue per second, so a large pending set cannot monopolize the
	// shared SSH session.
	flushRate  = 8
	flushBurst = 4
)

// Engine is the cache and flush machinery for one remote directory.
// All exported methods are safe for concurrent use.
type Engine struct {
	exec      Executor
	remoteDir string
	log       zerolog.Logger
	onStatus  StatusFunc
	limiter   *rate.Limiter

	mu       sync.Mutex
	cache    map[string]string
	status   map[string]Status
	errors   map[string]string
	pending  map[string]struct{}
	fetching map[string]chan struct{}

	loopWG   sync.WaitGroup
	loopStop chan struct{}
}

// NewEngine creates an engine rooted at remoteDir. Nothing is fetched
// until the first read.
func NewEngine(exec Executor, remoteDir string) *Engine {
	return &Engine{
		exec:      exec,
		remoteDir: strings.TrimRight(remoteDir, "/"),
		log:       zerolog.Nop(),
		limiter:   rate.NewLimiter(flushRate, flushBurst),
		cache:     make(map[string]string),
		status:    make(map[string]Status),
		errors:    make(map[string]string),
		pending:   make(map[string]struct{}),
		fetching:  make(map[string]chan struct{}),
	}
}

// SetLogger replaces the engine's logger (a no-op logger by default).
func (e *Engine) SetLogger(log zerolog.Logger) { e.log = log }

// OnStatusChange registers a callback invoked after every per-file
// state transition. Must be set before the engine is shared between
// goroutines.
func (e *Engine) OnStatusChange(fn StatusFunc) { e.onStatus = fn }

func (e *Engine) remotePath(p string) string {
	if p == "" {
		return e.remoteDir
	}
	return e.remoteDir + "/" + p
}

// Read returns the file's content, from the cache when present and
// otherwise fetched from the remote host. Concurrent reads of the same
// uncached path share one fetch.
func (e *Engine) Read(p string) (string, error) {
	for {
		e.mu.Lock()
		if content, ok := e.cache[p]; ok {
			e.mu.Unlock()
			return content, nil
		}
		if done, inflight := e.fetching[p]; inflight {
			e.mu.Unlock()
			<-done
			continue
		}
		done := make(chan struct{})
		e.fetching[p] = done
		e.mu.Unlock()

		content, err := e.fetch(p)

		e.mu.Lock()
		delete(e.fetching, p)
		close(done)
		if err != nil {
			e.mu.Unlock()
			return "", err
		}
		e.cache[p] = content
		e.status[p] = Synced
		e.mu.Unlock()
		return content, nil
	}
}

// fetch runs outside the engine lock.
func (e *Engine) fetch(p string) (string, error) {
	remote := e.remotePath(p)
	stdout, _, exit, err := e.exec.Execute(fmt.Sprintf("cat '%s'", remote), readTimeout)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", p, err)
	}
	if exit != 0 {
		return "", &NotFoundError{Path: remote}
	}
	return stdout, nil
}

// Write updates the cache and marks the file Pending. It never touches
// the network.
func (e *Engine) Write(p, content string) {
	e.mu.Lock()
	e.cache[p] = content
	e.status[p] = Pending
	e.pending[p] = struct{}{}
	e.mu.Unlock()

	e.notify(p, Pending)
}

// Status returns the sync state of one path. Unknown paths report
// Synced.
func (e *Engine) Status(p string) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status[p]
}

// OverallStatus summarizes all tracked files: any Error wins, then
// Syncing, then Pending, otherwise Synced.
func (e *Engine) OverallStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	overall := Synced
	for _, s := range e.status {
		switch s {
		case ErrorState:
			return ErrorState
		case Syncing:
			overall = Syncing
		case Pending:
			if overall != Syncing {
				overall = Pending
			}
		}
	}
	return overall
}

// SyncAll flushes every pending file synchronously. A per-file failure
// leaves that file in Error and continues with the rest; the returned
// error names the files that failed.
func (e *Engine) SyncAll() error {
	e.mu.Lock()
	paths := make([]string, 0, len(e.pending))
	for p := range e.pending {
		paths = append(paths, p)
	}
	e.mu.Unlock()
	sort.Strings(paths)

	var failed []string
	for _, p := range paths {
		if err := e.flushFile(p); err != nil {
			failed = append(failed, p)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("sync failed for %d file(s): %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// RetryErrors re-flushes only the files currently in Error state.
func (e *Engine) RetryErrors() error {
	e.mu.Lock()
	var paths []string
	for p, s := range e.status {
		if s == ErrorState {
			paths = append(paths, p)
		}
	}
	e.mu.Unlock()
	sort.Strings(paths)

	var failed []string
	for _, p := range paths {
		if err := e.flushFile(p); err != nil {
			failed = append(failed, p)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("retry failed for %d file(s): %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// flushFile writes one cached file to the remote host. The engine lock
// is released around the network call.
func (e *Engine) flushFile(p string) error {
	e.mu.Lock()
	content, ok := e.cache[p]
	if !ok {
		delete(e.pending, p)
		e.mu.Unlock()
		return nil
	}
	e.status[p] = Syncing
	e.mu.Unlock()
	e.notify(p, Syncing)

	err := e.push(p, content)

	e.mu.Lock()
	if err != nil {
		e.status[p] = ErrorState
		e.errors[p] = err.Error()
		e.mu.Unlock()
		e.notify(p, ErrorState)
		e.log.Error().Str("path", p).Err(err).Msg("sync failed")
		return err
	}
	e.status[p] = Synced
	delete(e.pending, p)
	delete(e.errors, p)
	e.mu.Unlock()
	e.notify(p, Synced)
	return nil
}

func (e *Engine) push(p, content string) error {
	remote := e.remotePath(p)
	if dir := path.Dir(remote); dir != "." && dir != "/" {
		_, _, _, _ = e.exec.Execute(fmt.Sprintf("mkdir -p '%s'", dir), probeTimeout)
	}

	delim := delimiterFor(content)
	cmd := fmt.Sprintf("cat > '%s' << '%s'\n%s\n%s", remote, delim, content, delim)
	_, stderr, exit, err := e.exec.Execute(cmd, writeTimeout)
	if err != nil {
		return err
	}
	if exit != 0 {
		return fmt.Errorf("remote write failed: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// delimiterFor picks a heredoc delimiter guaranteed absent from the
// content. Content containing the default delimiter gets a salted one,
// regenerated until it no longer collides.
func delimiterFor(content string) string {
	delim := "EOFCONTENT"
	for counter := 1; strings.Contains(content, delim); counter++ {
		h := fnv.New32a()
		h.Write([]byte(content))
		fmt.Fprintf(h, "%d", counter)
		delim = fmt.Sprintf("EOF_SYNC_%d_%08X", counter, h.Sum32())
	}
	return delim
}

func (e *Engine) notify(p string, s Status) {
	if e.onStatus != nil {
		e.onStatus(p, s)
	}
}

// StartBackgroundSync launches the flush loop. Starting a running
// engine is a no-op.
func (e *Engine) StartBackgroundSync(interval time.Duration) {
	e.mu.Lock()
	if e.loopStop != nil {
		e.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	e.loopStop = stop
	e.mu.Unlock()

	e.loopWG.Add(1)
	go e.backgroundLoop(stop, interval)
}

// StopBackgroundSync signals the flush loop and waits for it to exit.
func (e *Engine) StopBackgroundSync() {
	e.mu.Lock()
	stop := e.loopStop
	e.loopStop = nil
	e.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	e.loopWG.Wait()
}

func (e *Engine) backgroundLoop(stop chan struct{}, interval time.Duration) {
	defer e.loopWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		paths := make([]string, 0, len(e.pending))
		for p := range e.pending {
			paths = append(paths, p)
		}
		e.mu.Unlock()
		sort.Strings(paths)

		for _, p := range paths {
			select {
			case <-stop:
				return
			default:
			}
			if err := e.limiter.Wait(context.Background()); err != nil {
				return
			}
			// Per-file failure is recorded in the file's state and must
			// not abort the rest of the batch.
			_ = e.flushFile(p)
		}
	}
}

// PendingCount returns how many files await a flush.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// ErrorFiles returns the files in Error state with their last error
// message.
func (e *Engine) ErrorFiles() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.errors))
	for p, msg := range e.errors {
		out[p] = msg
	}
	return out
}
