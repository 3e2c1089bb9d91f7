// Package audit records operator-visible actions as structured log events:
// who queried the agent, service management, and diagnostic dumps.
package audit

import (
	"github.com/rs/zerolog"
)

// Results recorded on audit events.
const (
	ResultOK      = "ok"
	ResultUnknown = "unknown"
	ResultFailed  = "failed"
)

// Peer identifies the process on the other end of a local socket.
// Known is false when the kernel did not report credentials.
type Peer struct {
	PID   int32
	UID   uint32
	GID   uint32
	Known bool
}

// Logger writes audit events. A nil *Logger discards everything, so
// callers never need to check whether auditing is enabled.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger returns an audit logger writing through logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger.With().Str("component", "audit").Logger()}
}

// LogQuery records one query socket request. Unknown commands are logged
// at warn level.
func (l *Logger) LogQuery(command, result string, peer Peer, bytes int) {
	if l == nil {
		return
	}
	level := zerolog.InfoLevel
	if result != ResultOK {
		level = zerolog.WarnLevel
	}

	event := l.logger.WithLevel(level).
		Str("event_type", "query").
		Str("command", command).
		Str("result", result).
		Int("bytes", bytes)
	event = withPeer(event, peer)
	event.Msg("Query served")
}

// LogService records a service management action such as install or stop.
func (l *Logger) LogService(action, name, result, details string) {
	if l == nil {
		return
	}
	level := zerolog.InfoLevel
	if result != ResultOK {
		level = zerolog.WarnLevel
	}

	event := l.logger.WithLevel(level).
		Str("event_type", "service").
		Str("action", action).
		Str("service", name).
		Str("result", result)
	if details != "" {
		event = event.Str("details", details)
	}
	event.Msg("Service action")
}

// LogTraceDump records an execution trace written to disk.
func (l *Logger) LogTraceDump(reason, path string, err error) {
	if l == nil {
		return
	}
	if err != nil {
		l.logger.Warn().
			Str("event_type", "trace_dump").
			Str("reason", reason).
			Str("result", ResultFailed).
			Err(err).
			Msg("Trace dump")
		return
	}
	l.logger.Info().
		Str("event_type", "trace_dump").
		Str("reason", reason).
		Str("result", ResultOK).
		Str("path", path).
		Msg("Trace dump")
}

func withPeer(event *zerolog.Event, peer Peer) *zerolog.Event {
	if !peer.Known {
		return event.Bool("peer_known", false)
	}
	return event.
		Int32("peer_pid", peer.PID).
		Uint32("peer_uid", peer.UID).
		Uint32("peer_gid", peer.GID)
}
