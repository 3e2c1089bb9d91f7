//go:build linux

package control

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/nlagent/nlagent/internal/logging/audit"
)

// peerOf returns the credentials the kernel recorded for the connecting
// process.
func peerOf(conn net.Conn) audit.Peer {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return audit.Peer{}
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return audit.Peer{}
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil || credErr != nil {
		return audit.Peer{}
	}
	return audit.Peer{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid, Known: true}
}
