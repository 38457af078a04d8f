package sshx

import (
	"bufio"
	"io"
	"sync"
)

// Stream is a live sequence of output lines from a remote command,
// interleaving stdout and stderr in arrival order. The line channel is
// closed once the command has exited and both buffers are drained;
// ExitCode blocks until then. A Stream is one-shot: re-running the
// command means calling ExecuteStream again.
type Stream struct {
	lines <-chan string
	wait  func() (int, error)
	abort func()

	once sync.Once
	exit int
	err  error
}

// NewStream assembles a Stream from a line channel, a wait function
// reporting the final exit status, and an abort function that tears the
// underlying channel down. Fake connections in tests build Streams the
// same way the real client does.
func NewStream(lines <-chan string, wait func() (int, error), abort func()) *Stream {
	return &Stream{lines: lines, wait: wait, abort: abort}
}

// Lines returns the channel of output lines. Receiving until it closes
// drains the stream.
func (s *Stream) Lines() <-chan string { return s.lines }

// ExitCode reports the remote command's exit status. It blocks until
// the command has finished; callers normally drain Lines first.
func (s *Stream) ExitCode() (int, error) {
	s.once.Do(func() {
		s.exit, s.err = s.wait()
	})
	return s.exit, s.err
}

// Close abandons the stream, killing the underlying channel. Safe to
// call at any time, including after the stream is drained.
func (s *Stream) Close() {
	if s.abort != nil {
		s.abort()
	}
}

// scanLines copies lines from r into out until the reader is exhausted
// or quit closes. Used by the real client with one goroutine per output
// pipe so neither stream can stall the other. The quit select matters
// when a stream is abandoned mid-flight: the session teardown EOFs the
// pipes, but lines already scanned would otherwise block forever on a
// full channel nobody is draining.
func scanLines(r io.Reader, out chan<- string, quit <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-quit:
			return
		}
	}
}
