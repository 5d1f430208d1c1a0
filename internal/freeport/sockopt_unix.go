//go:build unix

package freeport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// The Go runtime turns SO_REUSEADDR on for every listener on unix.
func disableReuseAddr(network, address string, rawConn syscall.RawConn) (err error) {
	if cerr := rawConn.Control(func(fd uintptr) {
		err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 0)
	}); cerr != nil {
		return cerr
	}
	return err
}
