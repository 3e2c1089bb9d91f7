//go:build !linux

package netmon

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/vishvananda/netlink"

	"github.com/nlagent/nlagent/internal/registry"
)

var errUnsupported = errors.New("rtnetlink is only available on linux")

// Socket is unavailable on this platform.
type Socket struct{}

// Listen always fails on this platform.
func Listen(Config, zerolog.Logger) (*Socket, error) { return nil, errUnsupported }

func (s *Socket) Fd() int                         { return -1 }
func (s *Socket) Drain(func([]byte)) (int, error) { return 0, errUnsupported }
func (s *Socket) Close() error                    { return nil }

// Enumerator is unavailable on this platform.
type Enumerator struct{}

// NewEnumerator always fails on this platform.
func NewEnumerator(Config) (*Enumerator, error) { return nil, errUnsupported }

func (e *Enumerator) Links(context.Context) ([]registry.Link, error) { return nil, errUnsupported }

func (e *Enumerator) Addresses(context.Context) ([]registry.LinkAddress, error) {
	return nil, errUnsupported
}

// Handle returns nil on this platform.
func (e *Enumerator) Handle() *netlink.Handle { return nil }

func (e *Enumerator) Close() error { return nil }
