//go:build linux

package netmon

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Socket is a non-blocking NETLINK_ROUTE socket bound to the link, address
// and (optionally) route multicast groups.
type Socket struct {
	fd  int
	buf []byte
	log zerolog.Logger
}

// Listen opens and binds the notification socket.
func Listen(cfg Config, logger zerolog.Logger) (*Socket, error) {
	size := cfg.ReceiveBuffer
	if size <= 0 {
		size = DefaultReceiveBuffer
	}

	var fd int
	open := func() error {
		var err error
		fd, err = unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.NETLINK_ROUTE)
		if err != nil {
			return fmt.Errorf("create netlink socket: %w", err)
		}
		if cfg.SocketBuffer > 0 {
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.SocketBuffer); err != nil {
				_ = unix.Close(fd)
				return fmt.Errorf("set netlink receive buffer: %w", err)
			}
		}
		// Pid 0 lets the kernel pick a unique port id.
		addr := &unix.SockaddrNetlink{
			Family: unix.AF_NETLINK,
			Groups: cfg.Groups(),
		}
		if err := unix.Bind(fd, addr); err != nil {
			_ = unix.Close(fd)
			return fmt.Errorf("bind netlink socket: %w", err)
		}
		return nil
	}

	var err error
	if cfg.Namespace != "" {
		err = inNamespace(cfg.Namespace, open)
	} else {
		err = open()
	}
	if err != nil {
		return nil, err
	}

	return &Socket{
		fd:  fd,
		buf: make([]byte, size),
		log: logger,
	}, nil
}

// Fd returns the socket descriptor for readiness polling.
func (s *Socket) Fd() int {
	return s.fd
}

// Drain reads every datagram currently queued and passes each to handle.
// It returns when the socket would block. The slice passed to handle is
// reused by the next read. ErrOverrun is returned, after draining, when the
// kernel reported dropped notifications.
func (s *Socket) Drain(handle func([]byte)) (int, error) {
	datagrams := 0
	overrun := false
	for {
		n, from, err := unix.Recvfrom(s.fd, s.buf, unix.MSG_TRUNC)
		if err != nil {
			//nolint:errorlint // Unix errors are sentinel errors, == is correct and more efficient than errors.Is
			switch err {
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				if overrun {
					return datagrams, ErrOverrun
				}
				return datagrams, nil
			case unix.ENOBUFS:
				overrun = true
				continue
			default:
				return datagrams, fmt.Errorf("receive netlink datagram: %w", err)
			}
		}

		switch s.check(n, from) {
		case datagramForeign:
			s.log.Debug().Msg("ignoring netlink datagram not sent by the kernel")
			continue
		case datagramTruncated:
			// The notifications in it are lost; resync like a kernel drop.
			s.log.Warn().Int("size", n).Int("buffer", len(s.buf)).Msg("netlink datagram truncated, discarding")
			overrun = true
			continue
		case datagramEmpty:
			continue
		}

		datagrams++
		handle(s.buf[:n])
	}
}

type datagramKind int

const (
	datagramOK datagramKind = iota
	datagramForeign
	datagramTruncated
	datagramEmpty
)

// check classifies a received datagram of n bytes from sender. n may
// exceed the buffer because reads use MSG_TRUNC.
func (s *Socket) check(n int, from unix.Sockaddr) datagramKind {
	if sa, ok := from.(*unix.SockaddrNetlink); !ok || sa.Pid != 0 {
		return datagramForeign
	}
	switch {
	case n > len(s.buf):
		return datagramTruncated
	case n == 0:
		return datagramEmpty
	}
	return datagramOK
}

// Close releases the socket.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}
