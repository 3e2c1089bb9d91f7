// Package control provides the local query socket: a Unix socket serving one
// line-oriented command per connection from the interface registry.
package control

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nlagent/nlagent/internal/logging/audit"
	"github.com/nlagent/nlagent/internal/registry"
)

// DefaultSocketPath returns the default query socket path.
func DefaultSocketPath() string {
	return "/run/nlagent.sock"
}

// Commands understood by the query socket.
const (
	CmdList           = "list"
	CmdShowInterfaces = "show interfaces"
	CmdShowCounters   = "show counters"
)

// UnknownCommand is the response to anything not understood.
const UnknownCommand = "unknown command\n"

// cmdUnknown is the command name reported for unrecognised requests.
const cmdUnknown = "unknown"

// Timeouts and limits for query socket operations.
const (
	// SocketDialTimeout is the timeout for connecting to the query socket.
	SocketDialTimeout = 5 * time.Second
	// SocketReadWriteTimeout is the default per-connection deadline.
	SocketReadWriteTimeout = 2 * time.Second
	// AcceptTimeout bounds one accept on a readiness event.
	AcceptTimeout = 100 * time.Millisecond
	// DefaultMaxRequest is the largest request line read.
	DefaultMaxRequest = 256
	// DefaultMaxInterfaces is the most interfaces printed per response.
	DefaultMaxInterfaces = 256
)

// Snapshotter is the read side of the registry used by the server.
type Snapshotter interface {
	Snapshot() []registry.Interface
}

// Options tune a Server. Zero values select defaults.
type Options struct {
	MaxRequest    int
	MaxInterfaces int
	Timeout       time.Duration
	Logger        zerolog.Logger
	// OnQuery is called with the command name after each response.
	OnQuery func(command string)
	// Audit records each request with the caller's credentials. Nil
	// disables auditing.
	Audit *audit.Logger
}

// Server is the query socket server. The agent's event loop drives it:
// each time the listener is readable, HandleReadable accepts and serves
// one connection.
type Server struct {
	socketPath string
	reg        Snapshotter
	opts       Options
	log        zerolog.Logger
	listener   *net.UnixListener
}

// NewServer creates a query server answering from reg.
func NewServer(socketPath string, reg Snapshotter, opts Options) *Server {
	if opts.MaxRequest <= 0 {
		opts.MaxRequest = DefaultMaxRequest
	}
	if opts.MaxInterfaces <= 0 {
		opts.MaxInterfaces = DefaultMaxInterfaces
	}
	if opts.Timeout <= 0 {
		opts.Timeout = SocketReadWriteTimeout
	}
	return &Server{
		socketPath: socketPath,
		reg:        reg,
		opts:       opts,
		log:        opts.Logger,
	}
}

// Start begins listening on the query socket.
func (s *Server) Start() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	// Remove stale socket
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.socketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	listener.SetUnlinkOnClose(true)

	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.listener = listener
	s.log.Info().Str("path", s.socketPath).Msg("query socket listening")
	return nil
}

// Fd returns the listener descriptor for readiness polling.
func (s *Server) Fd() (int, error) {
	if s.listener == nil {
		return -1, errors.New("query socket not started")
	}
	raw, err := s.listener.SyscallConn()
	if err != nil {
		return -1, err
	}
	fd := -1
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return -1, err
	}
	return fd, nil
}

// HandleReadable accepts one pending connection and answers it.
func (s *Server) HandleReadable() {
	if s.listener == nil {
		return
	}
	_ = s.listener.SetDeadline(time.Now().Add(AcceptTimeout))
	conn, err := s.listener.Accept()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return
		}
		s.log.Error().Err(err).Msg("query socket accept error")
		return
	}
	s.ServeConn(conn)
}

// ServeConn reads one request line from conn, writes the response and
// closes conn.
func (s *Server) ServeConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(s.opts.Timeout))

	line, err := readRequest(conn, s.opts.MaxRequest)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.log.Debug().Err(err).Msg("query read failed")
		}
		return
	}

	command, resp := s.Respond(line)
	n, err := io.WriteString(conn, resp)
	if err != nil && !errors.Is(err, syscall.EPIPE) {
		s.log.Debug().Err(err).Str("command", command).Msg("query write failed")
	}
	if s.opts.Audit != nil {
		result := audit.ResultOK
		switch {
		case err != nil:
			result = audit.ResultFailed
		case command == cmdUnknown:
			result = audit.ResultUnknown
		}
		s.opts.Audit.LogQuery(command, result, peerOf(conn), n)
	}
	if s.opts.OnQuery != nil {
		s.opts.OnQuery(command)
	}
}

// readRequest returns the first line of at most max bytes. A request cut
// off by EOF or the size limit is used as is.
func readRequest(r io.Reader, max int) (string, error) {
	br := bufio.NewReaderSize(io.LimitReader(r, int64(max)), max)
	line, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if line == "" && err != nil {
		return "", io.EOF
	}
	return strings.TrimSpace(line), nil
}

// Respond returns the normalized command name and the response text for a
// request line.
func (s *Server) Respond(request string) (string, string) {
	command := strings.Join(strings.Fields(request), " ")
	switch command {
	case CmdList, CmdShowInterfaces:
		return CmdList, s.formatList()
	case CmdShowCounters:
		return CmdShowCounters, s.formatCounters()
	default:
		return cmdUnknown, UnknownCommand
	}
}

func (s *Server) formatList() string {
	var b strings.Builder
	s.each(&b, func(iface registry.Interface) {
		status := "DOWN"
		if iface.Up {
			status = "UP"
		}
		fmt.Fprintf(&b, "%s\t%s\n", iface.Name, status)
		for _, a := range iface.Addresses {
			fmt.Fprintf(&b, "  - %s\n", a)
		}
	})
	return b.String()
}

func (s *Server) formatCounters() string {
	var b strings.Builder
	s.each(&b, func(iface registry.Interface) {
		c := iface.Counters
		fmt.Fprintf(&b, "%s\trx_bytes=%d tx_bytes=%d rx_errors=%d tx_errors=%d\n",
			iface.Name, c.RxBytes, c.TxBytes, c.RxErrors, c.TxErrors)
	})
	return b.String()
}

func (s *Server) each(b *strings.Builder, fn func(registry.Interface)) {
	ifaces := s.reg.Snapshot()
	for i, iface := range ifaces {
		if i == s.opts.MaxInterfaces {
			fmt.Fprintf(b, "... %d more interfaces\n", len(ifaces)-i)
			return
		}
		fn(iface)
	}
}

// Stop closes the listener and removes the socket file.
func (s *Server) Stop() error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Client is a query socket client for CLI commands.
type Client struct {
	socketPath string
}

// NewClient creates a new query client.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Send sends one command and returns the full response.
func (c *Client) Send(command string) (string, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, SocketDialTimeout)
	if err != nil {
		return "", fmt.Errorf("connect to query socket: %w", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(SocketDialTimeout))

	if _, err := io.WriteString(conn, command+"\n"); err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(resp), nil
}

// List returns the interface listing.
func (c *Client) List() (string, error) {
	return c.Send(CmdList)
}
