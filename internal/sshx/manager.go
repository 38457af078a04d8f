// Package sshx manages SSH connectivity for remote project work: a
// primary session, an optional jump hop tunneled through it, command
// execution (buffered and streaming), file transfer, and environment
// probing.
package sshx

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/openbench/obwizard/internal/hostkeys"
)

// DefaultTimeout bounds connection establishment and is the fallback
// for Execute calls that pass no timeout.
const DefaultTimeout = 30 * time.Second

// Endpoint identifies which session commands are routed to.
type Endpoint int

const (
	Disconnected Endpoint = iota
	PrimaryOnly
	JumpEstablished
)

// Auth carries caller-supplied credentials for the primary connection.
// Agent and on-disk key discovery are deliberately not consulted; only
// these fields determine identity.
type Auth struct {
	Password   string
	KeyFile    string
	Passphrase string
}

// JumpAuthMode selects how the second hop authenticates.
type JumpAuthMode int

const (
	// JumpAuthUnset is the zero value and is rejected, so every caller
	// has to pick a mode on purpose.
	JumpAuthUnset JumpAuthMode = iota
	// JumpAuthInternal relies on a pre-established trust relationship
	// between the hops (agent keys or host-based trust). It must be
	// chosen explicitly; it is never a silent fallback.
	JumpAuthInternal
	JumpAuthPassword
	JumpAuthKey
)

// JumpAuth carries credentials for the jump hop. User overrides the
// primary session's username when non-empty.
type JumpAuth struct {
	Mode     JumpAuthMode
	Password string
	KeyFile  string
	User     string
}

// Manager owns at most one primary and one jump session. The mutex
// guards connection state and endpoint selection; individual commands
// each open their own channel and may run concurrently.
type Manager struct {
	keys    *hostkeys.Store
	timeout time.Duration
	log     zerolog.Logger

	mu       sync.Mutex
	primary  client
	jump     client
	transfer transferClient
	host     string
	username string
	port     int
}

// NewManager returns a Manager verifying hosts against keys.
func NewManager(keys *hostkeys.Store) *Manager {
	return &Manager{
		keys:    keys,
		timeout: DefaultTimeout,
		log:     zerolog.Nop(),
	}
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(log zerolog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = log
}

// SetTimeout changes the connection/establishment timeout.
func (m *Manager) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.timeout = d
	}
}

// Connect opens the primary session to "[user@]host[:port]". On any
// failure the handle is cleared; no partially-open state remains.
func (m *Manager) Connect(hostString string, auth Auth) error {
	user, host, port := ParseHostString(hostString)
	if user == "" {
		return ErrMissingUser
	}

	methods, err := authMethods(auth.Password, auth.KeyFile, auth.Passphrase)
	if err != nil {
		return err
	}

	m.mu.Lock()
	timeout := m.timeout
	m.mu.Unlock()

	// The ssh package wraps host key callback errors inside its
	// handshake error; capture the trust failure directly so it
	// propagates as its own type, never diluted into a generic
	// connection error.
	var trustErr error
	cb := func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := m.keys.Callback()(hostname, remote, key)
		if err != nil {
			trustErr = err
		}
		return err
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            methods,
		HostKeyCallback: cb,
		Timeout:         timeout,
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	c, err := dialSSH(addr, cfg)
	if err != nil {
		if trustErr != nil {
			return trustErr
		}
		return &ConnectError{Host: host, User: user, Err: err}
	}

	// A reconnect supersedes every prior session. The old jump hop was
	// tunneled through the old primary, so it goes too.
	m.mu.Lock()
	oldPrimary := m.primary
	oldJump := m.jump
	oldTransfer := m.transfer
	m.primary = c
	m.jump = nil
	m.transfer = nil
	m.host = host
	m.username = user
	m.port = port
	m.mu.Unlock()

	closeAll(oldTransfer, oldJump, oldPrimary)

	m.log.Info().Str("host", host).Str("user", user).Int("port", port).Msg("connected")
	return nil
}

// closeAll tears down superseded handles, swallowing errors.
func closeAll(transfer transferClient, sessions ...client) {
	if transfer != nil {
		_ = transfer.Close()
	}
	for _, s := range sessions {
		if s != nil {
			_ = s.close()
		}
	}
}

// ConnectWithJump opens a second-hop session to target:22, tunneled
// through the primary transport. It requires an active primary session
// and reuses its username unless auth names another.
func (m *Manager) ConnectWithJump(target string, auth JumpAuth) error {
	m.mu.Lock()
	primary := m.primary
	timeout := m.timeout
	m.mu.Unlock()
	if primary == nil {
		return ErrJumpRequiresPrimary
	}

	user := auth.User
	if user == "" {
		user = primary.user()
	}

	methods, err := jumpAuthMethods(auth)
	if err != nil {
		return err
	}

	var trustErr error
	cb := func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := m.keys.Callback()(hostname, remote, key)
		if err != nil {
			trustErr = err
		}
		return err
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            methods,
		HostKeyCallback: cb,
		Timeout:         timeout,
	}

	addr := target + ":22"
	conn, err := primary.dialTCP(addr)
	if err != nil {
		return &ConnectError{Host: target, User: user, Err: fmt.Errorf("opening forwarded channel: %w", err)}
	}

	c, err := dialThrough(conn, addr, cfg)
	if err != nil {
		conn.Close()
		if trustErr != nil {
			return trustErr
		}
		return &ConnectError{Host: target, User: user, Err: err}
	}

	// Replacing an existing jump session also invalidates a transfer
	// sub-session that may have been opened on it.
	m.mu.Lock()
	oldJump := m.jump
	oldTransfer := m.transfer
	m.jump = c
	m.transfer = nil
	m.mu.Unlock()

	closeAll(oldTransfer, oldJump)

	m.log.Info().Str("target", target).Str("user", user).Msg("jump session established")
	return nil
}

// DisconnectJump tears down the jump session, if any. Idempotent;
// teardown errors are swallowed.
func (m *Manager) DisconnectJump() {
	m.mu.Lock()
	jump := m.jump
	m.jump = nil
	transfer := m.transfer
	m.transfer = nil
	m.mu.Unlock()

	if transfer != nil {
		_ = transfer.Close()
	}
	if jump != nil {
		_ = jump.close()
		m.log.Debug().Msg("jump session closed")
	}
}

// Disconnect tears down everything: jump session first, then transfer
// sub-session and primary. Idempotent; teardown errors are swallowed.
func (m *Manager) Disconnect() {
	m.DisconnectJump()

	m.mu.Lock()
	primary := m.primary
	m.primary = nil
	transfer := m.transfer
	m.transfer = nil
	m.host = ""
	m.username = ""
	m.port = 0
	m.mu.Unlock()

	if transfer != nil {
		_ = transfer.Close()
	}
	if primary != nil {
		_ = primary.close()
		m.log.Debug().Msg("disconnected")
	}
}

// IsConnected reports whether a primary session is open.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.primary != nil
}

// IsJumpConnected reports whether a jump session is open.
func (m *Manager) IsJumpConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jump != nil
}

// ActiveEndpoint reports which session commands currently route to.
func (m *Manager) ActiveEndpoint() Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.jump != nil:
		return JumpEstablished
	case m.primary != nil:
		return PrimaryOnly
	default:
		return Disconnected
	}
}

// Host returns the primary connection's hostname ("" when disconnected).
func (m *Manager) Host() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.host
}

// activeClient is the single accessor by which operations obtain a
// session handle: the jump session when established, else the primary.
func (m *Manager) activeClient() (client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jump != nil {
		return m.jump, nil
	}
	if m.primary != nil {
		return m.primary, nil
	}
	return nil, ErrNotConnected
}

// Execute runs cmd on the active endpoint and returns its buffered
// stdout, stderr, and exit code. A zero timeout falls back to the
// manager default.
func (m *Manager) Execute(cmd string, timeout time.Duration) (string, string, int, error) {
	c, err := m.activeClient()
	if err != nil {
		return "", "", 0, err
	}
	if timeout <= 0 {
		m.mu.Lock()
		timeout = m.timeout
		m.mu.Unlock()
	}
	return c.run(cmd, nil, timeout)
}

// ExecuteStream starts cmd on the active endpoint and returns its
// output lines as they arrive.
func (m *Manager) ExecuteStream(cmd string) (*Stream, error) {
	c, err := m.activeClient()
	if err != nil {
		return nil, err
	}
	return c.stream(cmd)
}

// TestConnection reports whether the active session still answers.
func (m *Manager) TestConnection() bool {
	_, _, exit, err := m.Execute("echo ok", 5*time.Second)
	return err == nil && exit == 0
}

func authMethods(password, keyFile, passphrase string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if keyFile != "" {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
		var signer ssh.Signer
		if passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(data)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing key file: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if password != "" {
		methods = append(methods, ssh.Password(password))
	}
	if len(methods) == 0 {
		return nil, errors.New("no authentication material provided")
	}
	return methods, nil
}

func jumpAuthMethods(auth JumpAuth) ([]ssh.AuthMethod, error) {
	switch auth.Mode {
	case JumpAuthPassword:
		if auth.Password == "" {
			return nil, errors.New("jump password auth selected but no password provided")
		}
		return []ssh.AuthMethod{ssh.Password(auth.Password)}, nil
	case JumpAuthKey:
		if auth.KeyFile == "" {
			return nil, errors.New("jump key auth selected but no key file provided")
		}
		return authMethods("", auth.KeyFile, "")
	case JumpAuthInternal:
		// Inside a controlled trust domain the hop may accept agent
		// keys or no client auth at all; offer agent signers when an
		// agent is reachable.
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if conn, err := net.Dial("unix", sock); err == nil {
				signers, err := agent.NewClient(conn).Signers()
				if err == nil && len(signers) > 0 {
					return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, nil
				}
				conn.Close()
			}
		}
		return nil, nil
	case JumpAuthUnset:
		return nil, errors.New("jump auth mode not set; internal trust must be chosen explicitly")
	default:
		return nil, fmt.Errorf("unknown jump auth mode %d", auth.Mode)
	}
}
