//go:build windows

package freeport

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// SO_EXCLUSIVEADDRUSE is defined by winsock as ~SO_REUSEADDR.
const soExclusiveAddrUse = ^windows.SO_REUSEADDR

// Windows never sets SO_REUSEADDR by default; ask for exclusive use so
// another process cannot bind on top of us either.
func disableReuseAddr(network, address string, rawConn syscall.RawConn) (err error) {
	if cerr := rawConn.Control(func(fd uintptr) {
		err = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, soExclusiveAddrUse, 1)
	}); cerr != nil {
		return cerr
	}
	return err
}
