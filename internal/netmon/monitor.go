// Package netmon turns the kernel's rtnetlink notification stream into
// interface registry updates.
//
// The Socket type owns the non-blocking NETLINK_ROUTE socket, the
// Interpreter decodes what it reads and applies one registry update per
// message, and the Enumerator lists current kernel state for the initial
// (and any resync) registry population.
package netmon

import (
	"errors"
	"path/filepath"

	"github.com/nlagent/nlagent/internal/rtnl"
)

// DefaultReceiveBuffer is the per-read datagram buffer size.
const DefaultReceiveBuffer = 32 * 1024

// ErrOverrun reports that the kernel dropped notifications because the
// socket receive queue was full. The registry must be resynchronized.
var ErrOverrun = errors.New("netlink receive queue overrun")

// Config holds notification socket configuration.
type Config struct {
	// Routes subscribes to IPv4/IPv6 route notifications. They are
	// logged only.
	Routes bool

	// ReceiveBuffer is the size of the buffer each datagram is read into.
	// Default: 32 KiB
	ReceiveBuffer int

	// SocketBuffer sets SO_RCVBUF when non-zero.
	SocketBuffer int

	// IgnoreInterfaces contains interface name patterns that are not
	// tracked, e.g. "veth*", "docker*".
	IgnoreInterfaces []string

	// Namespace is a network namespace name (under /var/run/netns) or
	// path to monitor instead of the agent's own.
	Namespace string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Routes:        true,
		ReceiveBuffer: DefaultReceiveBuffer,
	}
}

// Groups returns the multicast groups to bind to.
func (c Config) Groups() uint32 {
	groups := rtnl.GroupLink | rtnl.GroupIPv4Addr | rtnl.GroupIPv6Addr
	if c.Routes {
		groups |= rtnl.GroupIPv4Route | rtnl.GroupIPv6Route
	}
	return groups
}

// Ignored reports whether name matches one of the ignore patterns.
func (c Config) Ignored(name string) bool {
	if name == "" {
		return false
	}
	for _, pattern := range c.IgnoreInterfaces {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

// Observer receives per-message outcomes, typically for metrics.
type Observer interface {
	MessageReceived(kind string)
	MessageDropped(reason string)
}

type nopObserver struct{}

func (nopObserver) MessageReceived(string) {}
func (nopObserver) MessageDropped(string)  {}
