// Package runner executes an OpenBench evaluation on a remote host:
// it stages the configuration in a remote temp directory, launches the
// evaluation over a streamed session, forwards output in real time, and
// infers coarse progress from the log text.
package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/openbench/obwizard/internal/sshx"
)

// Phase is the runner's lifecycle state.
type Phase int

const (
	Idle Phase = iota
	Initializing
	CreatingRemoteDir
	UploadingConfig
	Executing
	Completed
	Failed
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case CreatingRemoteDir:
		return "creating remote dir"
	case UploadingConfig:
		return "uploading config"
	case Executing:
		return "executing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Progress is one progress report.
type Progress struct {
	Phase    Phase
	Percent  float64
	Variable string
	Stage    string
	Message  string
}

// RemoteConfig locates the evaluation environment on the remote host.
type RemoteConfig struct {
	PythonPath    string
	CondaEnv      string
	OpenBenchPath string
}

// connection is the slice of *sshx.Manager the runner needs.
type connection interface {
	IsConnected() bool
	Execute(cmd string, timeout time.Duration) (string, string, int, error)
	ExecuteStream(cmd string) (*sshx.Stream, error)
	UploadFile(localPath, remotePath string) error
}

const (
	setupTimeout    = 30 * time.Second
	teardownTimeout = 30 * time.Second
	killTimeout     = 10 * time.Second
)

// Runner drives one evaluation. Create with New, then Start once.
type Runner struct {
	conn       connection
	configPath string
	remote     RemoteConfig
	counts     TaskCounts
	log        zerolog.Logger

	// Callbacks fire from the runner goroutine. Set before Start.
	OnProgress func(Progress)
	OnLog      func(line string)
	OnFinished func(success bool, message string)

	stopRequested atomic.Bool
	remoteTempDir string
	remoteConfig  string

	done chan struct{}
	once sync.Once
}

// New prepares a runner for the given local config file.
func New(conn connection, configPath string, remote RemoteConfig, counts TaskCounts) *Runner {
	return &Runner{
		conn:       conn,
		configPath: configPath,
		remote:     remote,
		counts:     counts,
		log:        zerolog.Nop(),
		done:       make(chan struct{}),
	}
}

// SetLogger replaces the runner's logger (a no-op logger by default).
func (r *Runner) SetLogger(log zerolog.Logger) { r.log = log }

// Start launches the run on its own goroutine. Calling Start more than
// once is a no-op.
func (r *Runner) Start() {
	r.once.Do(func() {
		go func() {
			defer close(r.done)
			r.run()
		}()
	})
}

// Stop requests cancellation and fires a best-effort kill of the remote
// process. Safe to call from any goroutine.
func (r *Runner) Stop() {
	r.stopRequested.Store(true)
	r.killRemote()
}

// Wait blocks until the run reaches a terminal phase.
func (r *Runner) Wait() {
	<-r.done
}

func (r *Runner) run() {
	defer r.cleanupRemote()

	r.emit(Progress{Phase: Initializing, Percent: 0, Message: "Preparing remote execution"})
	r.logLine("Starting remote OpenBench evaluation")

	if r.conn == nil || !r.conn.IsConnected() {
		r.fail("not connected to a remote server")
		return
	}
	if r.remote.PythonPath == "" {
		r.fail("remote Python interpreter not configured")
		return
	}
	if r.remote.OpenBenchPath == "" {
		r.fail("remote OpenBench path not configured")
		return
	}
	if r.stopped() {
		return
	}

	r.emit(Progress{Phase: CreatingRemoteDir, Percent: 2, Message: "Creating remote temporary directory"})
	if !r.createRemoteTempDir() {
		return
	}
	if r.stopped() {
		return
	}

	r.emit(Progress{Phase: UploadingConfig, Percent: 4, Message: "Uploading configuration"})
	if !r.uploadConfig() {
		return
	}
	if r.stopped() {
		return
	}

	r.emit(Progress{Phase: Executing, Percent: progressInit, Message: "Starting OpenBench execution"})
	r.execute()
}

// stopped checks the cancellation flag between phases and reports the
// Stopped terminal state when set.
func (r *Runner) stopped() bool {
	if !r.stopRequested.Load() {
		return false
	}
	r.emit(Progress{Phase: Stopped, Percent: 0, Message: "Stopped by user"})
	r.finish(false, "Stopped by user")
	return true
}

func (r *Runner) fail(msg string) {
	r.emit(Progress{Phase: Failed, Percent: 0, Message: msg})
	r.finish(false, msg)
}

func (r *Runner) createRemoteTempDir() bool {
	r.remoteTempDir = fmt.Sprintf("/tmp/openbench_wizard_%d", time.Now().Unix())

	_, stderr, exit, err := r.conn.Execute(fmt.Sprintf("mkdir -p %s", r.remoteTempDir), setupTimeout)
	if err != nil || exit != 0 {
		msg := fmt.Sprintf("creating remote temp directory failed: %s", errorDetail(err, stderr))
		r.logLine(msg)
		r.fail(msg)
		return false
	}
	r.logLine("Created remote directory: " + r.remoteTempDir)
	return true
}

func (r *Runner) uploadConfig() bool {
	name := filepath.Base(r.configPath)
	r.remoteConfig = r.remoteTempDir + "/" + name

	if err := r.conn.UploadFile(r.configPath, r.remoteConfig); err != nil {
		msg := fmt.Sprintf("uploading config failed: %v", err)
		r.logLine(msg)
		r.fail(msg)
		return false
	}
	r.logLine("Uploaded config to: " + r.remoteConfig)

	r.uploadSiblings(filepath.Dir(r.configPath))
	return true
}

// uploadSiblings pushes the other YAML/JSON files next to the config,
// since OpenBench configs commonly include them. Failures here are
// logged and never fatal.
func (r *Runner) uploadSiblings(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		r.logLine(fmt.Sprintf("warning: cannot scan config directory: %v", err))
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		switch filepath.Ext(name) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		local := filepath.Join(dir, name)
		if entry.IsDir() || local == r.configPath {
			continue
		}
		if err := r.conn.UploadFile(local, r.remoteTempDir+"/"+name); err != nil {
			r.logLine(fmt.Sprintf("warning: could not upload %s: %v", name, err))
			continue
		}
		r.logLine("Uploaded: " + name)
	}
}

func (r *Runner) buildCommand() string {
	script := r.remote.OpenBenchPath + "/openbench/openbench.py"
	base := fmt.Sprintf("cd %s && %s %s %s", r.remote.OpenBenchPath, r.remote.PythonPath, script, r.remoteConfig)
	if r.remote.CondaEnv == "" {
		return base
	}
	return fmt.Sprintf(
		"source $(conda info --base)/etc/profile.d/conda.sh && conda activate %s && %s",
		r.remote.CondaEnv, base,
	)
}

func (r *Runner) execute() {
	cmd := r.buildCommand()
	r.logLine("Executing: " + cmd)

	stream, err := r.conn.ExecuteStream(cmd)
	if err != nil {
		r.fail(fmt.Sprintf("starting remote execution failed: %v", err))
		return
	}

	track := newTracker(r.counts)
	for line := range stream.Lines() {
		if r.stopRequested.Load() {
			stream.Close()
			r.killRemote()
			r.emit(Progress{Phase: Stopped, Percent: 0, Message: "Stopped by user"})
			r.finish(false, "Stopped by user")
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		r.logLine(line)

		percent, variable, stage := track.observe(line)
		r.emit(Progress{
			Phase:    Executing,
			Percent:  percent,
			Variable: variable,
			Stage:    stage,
			Message:  line,
		})
	}

	exit, err := stream.ExitCode()
	if err != nil {
		r.fail(fmt.Sprintf("remote execution error: %v", err))
		return
	}
	if exit != 0 {
		r.emit(Progress{Phase: Failed, Percent: progressMax, Message: fmt.Sprintf("evaluation exited with code %d", exit)})
		r.finish(false, fmt.Sprintf("evaluation exited with code %d", exit))
		return
	}

	r.emit(Progress{Phase: Completed, Percent: 100, Message: "Evaluation completed successfully"})
	r.finish(true, "Evaluation completed successfully")
}

// killRemote pattern-matches the launched script name. Its own failure
// is logged, never escalated.
func (r *Runner) killRemote() {
	if r.conn == nil || !r.conn.IsConnected() {
		return
	}
	_, _, _, err := r.conn.Execute("pkill -f 'openbench.py' || true", killTimeout)
	if err != nil {
		r.logLine(fmt.Sprintf("warning: could not kill remote process: %v", err))
		return
	}
	r.logLine("Sent kill signal to remote process")
}

// cleanupRemote removes the temp directory no matter which terminal
// state was reached.
func (r *Runner) cleanupRemote() {
	if r.remoteTempDir == "" {
		return
	}
	_, _, _, err := r.conn.Execute(fmt.Sprintf("rm -rf %s", r.remoteTempDir), teardownTimeout)
	if err != nil {
		r.logLine(fmt.Sprintf("warning: could not clean up %s: %v", r.remoteTempDir, err))
		return
	}
	r.logLine("Cleaned up remote directory: " + r.remoteTempDir)
}

func (r *Runner) emit(p Progress) {
	if r.OnProgress != nil {
		r.OnProgress(p)
	}
}

func (r *Runner) logLine(line string) {
	r.log.Debug().Msg(line)
	if r.OnLog != nil {
		r.OnLog(line)
	}
}

func (r *Runner) finish(success bool, message string) {
	if r.OnFinished != nil {
		r.OnFinished(success, message)
	}
}

func errorDetail(err error, stderr string) string {
	if err != nil {
		return err.Error()
	}
	return strings.TrimSpace(stderr)
}
