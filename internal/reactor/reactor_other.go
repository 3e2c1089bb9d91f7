//go:build !linux

package reactor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Reactor is unavailable on this platform.
type Reactor struct{}

// New always fails on this platform.
func New(Config, zerolog.Logger) (*Reactor, error) {
	return nil, errors.New("reactor requires epoll (linux)")
}

func (r *Reactor) Register(int, string, func()) error { return errors.New("unsupported") }
func (r *Reactor) OnInterval(func(time.Time))         {}
func (r *Reactor) State() State                       { return StateIdle }
func (r *Reactor) Run(context.Context) error          { return errors.New("unsupported") }
func (r *Reactor) Close() error                       { return nil }
