// Package admin serves the optional HTTP admin interface: health, metrics,
// an interface snapshot, and a websocket stream of registry changes.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nlagent/nlagent/internal/events"
	"github.com/nlagent/nlagent/internal/metrics"
	"github.com/nlagent/nlagent/internal/registry"
	"github.com/nlagent/nlagent/internal/tracing"
)

const (
	writeWait    = 5 * time.Second
	pingInterval = 30 * time.Second
	eventBuffer  = 128
)

// The default origin check rejects browser pages from other origins;
// clients that send no Origin header are accepted.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Snapshotter is the read side of the registry.
type Snapshotter interface {
	Snapshot() []registry.Interface
	Len() int
}

// Options configure an AdminServer.
type Options struct {
	InstanceID string
	Version    string
	// Trace backs /debug/trace. Nil disables the endpoint.
	Trace  *tracing.Recorder
	Logger zerolog.Logger
}

// AdminServer provides the HTTP admin interface.
type AdminServer struct {
	reg     Snapshotter
	hub     *events.Hub
	opts    Options
	log     zerolog.Logger
	started time.Time

	server   *http.Server
	listener net.Listener
	mux      *http.ServeMux
}

// NewAdminServer creates an admin server. hub may be nil, in which case
// /events is not served.
func NewAdminServer(reg Snapshotter, hub *events.Hub, opts Options) *AdminServer {
	s := &AdminServer{
		reg:     reg,
		hub:     hub,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "admin").Logger(),
		started: time.Now(),
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("GET /interfaces", s.interfacesHandler)
	if hub != nil {
		s.mux.HandleFunc("GET /events", s.eventsHandler)
	}
	s.mux.HandleFunc("GET /debug/trace", s.traceHandler)
	return s
}

// Handler returns the admin mux.
func (s *AdminServer) Handler() http.Handler {
	return s.mux
}

// Start listens on addr and serves in the background.
func (s *AdminServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("admin server stopped")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("admin server listening")
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *AdminServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the admin server. Websocket streams end when the
// hub is closed.
func (s *AdminServer) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status     string `json:"status"`
	Instance   string `json:"instance"`
	Version    string `json:"version"`
	Interfaces int    `json:"interfaces"`
	Uptime     string `json:"uptime"`
}

func (s *AdminServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, healthResponse{
		Status:     "ok",
		Instance:   s.opts.InstanceID,
		Version:    s.opts.Version,
		Interfaces: s.reg.Len(),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *AdminServer) interfacesHandler(w http.ResponseWriter, r *http.Request) {
	ifaces := s.reg.Snapshot()
	if ifaces == nil {
		ifaces = []registry.Interface{}
	}
	writeJSON(w, ifaces)
}

// eventsHandler streams registry events as JSON text frames.
func (s *AdminServer) eventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	ch, cancel := s.hub.Subscribe(eventBuffer)
	defer cancel()

	// Reader goroutine notices client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("event stream opened")
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug().Err(err).Msg("event stream write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			s.log.Debug().Str("remote", r.RemoteAddr).Msg("event stream closed")
			return
		}
	}
}

// traceHandler returns a runtime trace snapshot readable by `go tool trace`.
func (s *AdminServer) traceHandler(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Trace.Enabled() {
		http.Error(w, "tracing not enabled (set admin.trace)", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=trace.out")

	if err := s.opts.Trace.Snapshot(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
