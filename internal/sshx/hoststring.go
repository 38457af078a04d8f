package sshx

import (
	"strconv"
	"strings"
)

// DefaultPort is used when the host string names no port.
const DefaultPort = 22

// ParseHostString splits "[user@]host[:port]" into its parts. A missing
// user yields an empty string; an unparsable port is treated as part of
// the hostname (IPv6 literals and the like).
func ParseHostString(hostString string) (user, host string, port int) {
	port = DefaultPort
	rest := hostString

	if i := strings.Index(rest, "@"); i >= 0 {
		user = rest[:i]
		rest = rest[i+1:]
	}

	if i := strings.LastIndex(rest, ":"); i >= 0 {
		if p, err := strconv.Atoi(rest[i+1:]); err == nil {
			return user, rest[:i], p
		}
	}
	return user, rest, port
}
