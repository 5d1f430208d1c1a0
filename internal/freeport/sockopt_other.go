//go:build !unix && !windows

package freeport

import "syscall"

func disableReuseAddr(network, address string, rawConn syscall.RawConn) error {
	return nil
}
