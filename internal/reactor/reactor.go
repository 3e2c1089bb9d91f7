// Package reactor runs the agent's single-threaded event loop: it waits for
// readiness on registered descriptors with a bounded timeout, dispatches
// each ready source synchronously and runs a periodic task on wall-clock
// intervals.
package reactor

import (
	"time"
)

// Config holds event loop timing.
type Config struct {
	// Tick bounds each readiness wait so the interval task and shutdown
	// are noticed without traffic. Default: 1s
	Tick time.Duration

	// Interval is the minimum wall-clock time between runs of the
	// interval task. Default: 5s
	Interval time.Duration

	// MaxEvents is the number of readiness events taken per wait.
	MaxEvents int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Tick:      time.Second,
		Interval:  5 * time.Second,
		MaxEvents: 16,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Tick <= 0 {
		c.Tick = d.Tick
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = d.MaxEvents
	}
	return c
}

// State is the lifecycle state of a Reactor.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type source struct {
	name   string
	handle func()
}
