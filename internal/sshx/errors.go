package sshx

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConnected is returned by command, transfer, and probe operations
// attempted without an active session. It is distinct from network
// failures so callers can tell a usage bug from a flaky link.
var ErrNotConnected = errors.New("not connected to a server")

// ErrJumpRequiresPrimary is returned by ConnectWithJump when no primary
// session is active.
var ErrJumpRequiresPrimary = errors.New("must connect to main server first")

// ErrMissingUser is returned by Connect when the host string carries no
// username. There is no default-user assumption.
var ErrMissingUser = errors.New("username is required (format: user@host)")

// ConnectError wraps a transport-level connection failure with an
// actionable message. The connection handle is always fully torn down
// before one of these is returned.
type ConnectError struct {
	Host string
	User string
	Err  error
}

func (e *ConnectError) Error() string {
	msg := e.Err.Error()
	switch {
	case strings.Contains(msg, "no supported methods remain"):
		return fmt.Sprintf("SSH authentication failed for %s as %s: check the password or key", e.Host, e.User)
	case strings.Contains(msg, "i/o timeout") || strings.Contains(msg, "connection timed out"):
		return fmt.Sprintf("connection to %s timed out", e.Host)
	case strings.Contains(msg, "connection refused"):
		return fmt.Sprintf("connection refused by %s — is SSH running on the server?", e.Host)
	default:
		return fmt.Sprintf("SSH error connecting to %s: %s", e.Host, msg)
	}
}

func (e *ConnectError) Unwrap() error { return e.Err }
