// Package tracing keeps a rolling runtime trace so that the moments around a
// netlink overrun or a slow poll can be inspected with `go tool trace`.
package tracing

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/trace"
	"sync"
	"time"
)

// DefaultBufferSize is the default size of the trace ring buffer (10MB).
const DefaultBufferSize = 10 * 1024 * 1024

// DefaultMinAge is how much history the ring buffer tries to retain.
const DefaultMinAge = 30 * time.Second

// ErrNotEnabled is returned when a snapshot is requested from a recorder
// that is not running.
var ErrNotEnabled = errors.New("tracing not enabled")

// Config controls the flight recorder.
type Config struct {
	BufferSize int
	MinAge     time.Duration
	// DumpDir receives trace files written by Dump. Empty disables dumps.
	DumpDir string
	// DumpInterval is the minimum spacing between dumps.
	DumpInterval time.Duration
}

// Recorder wraps a runtime/trace FlightRecorder. A nil *Recorder is valid
// and behaves as a disabled recorder.
type Recorder struct {
	cfg Config

	mu       sync.Mutex
	fr       *trace.FlightRecorder
	lastDump time.Time
	now      func() time.Time
}

// Start creates and starts a recorder.
func Start(cfg Config) (*Recorder, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = DefaultMinAge
	}
	if cfg.DumpInterval <= 0 {
		cfg.DumpInterval = time.Minute
	}

	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   cfg.MinAge,
		MaxBytes: uint64(cfg.BufferSize),
	})
	if err := fr.Start(); err != nil {
		return nil, fmt.Errorf("start flight recorder: %w", err)
	}
	return &Recorder{cfg: cfg, fr: fr, now: time.Now}, nil
}

// Enabled reports whether the recorder is running.
func (r *Recorder) Enabled() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fr != nil
}

// Snapshot writes the current trace buffer to w.
func (r *Recorder) Snapshot(w io.Writer) error {
	if r == nil {
		return ErrNotEnabled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr == nil {
		return ErrNotEnabled
	}
	_, err := r.fr.WriteTo(w)
	return err
}

// Dump writes a snapshot into DumpDir, named after reason. It returns an
// empty path without error when dumps are disabled or the previous dump
// was less than DumpInterval ago.
func (r *Recorder) Dump(reason string) (string, error) {
	if r == nil || r.cfg.DumpDir == "" {
		return "", nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr == nil {
		return "", ErrNotEnabled
	}
	now := r.now()
	if !r.lastDump.IsZero() && now.Sub(r.lastDump) < r.cfg.DumpInterval {
		return "", nil
	}

	if err := os.MkdirAll(r.cfg.DumpDir, 0o755); err != nil {
		return "", fmt.Errorf("create dump dir: %w", err)
	}
	name := fmt.Sprintf("nlagent-%s-%s.trace", reason, now.UTC().Format("20060102T150405Z"))
	path := filepath.Join(r.cfg.DumpDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create trace file: %w", err)
	}
	if _, err := r.fr.WriteTo(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write trace: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	r.lastDump = now
	return path, nil
}

// Stop stops the recorder. It is safe to call Stop multiple times.
func (r *Recorder) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr != nil {
		r.fr.Stop()
		r.fr = nil
	}
}
