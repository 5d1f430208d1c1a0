// Package freeport binds the first available TCP port in a fixed range.
package freeport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
)

// ErrNoFreePort is returned when every port in the range is taken.
var ErrNoFreePort = errors.New("no free port in range")

// Attempter is told about each bind attempt; *metrics.Metrics satisfies it.
type Attempter interface {
	RecordPortAttempt()
}

// Listen tries host:first through host:last in order and returns the first
// listener that binds. SO_REUSEADDR is switched off on each socket so that a
// port still held by a crashed previous run reads as taken.
func Listen(ctx context.Context, host string, first, last int, attempts Attempter) (net.Listener, int, error) {
	if first > last {
		return nil, 0, fmt.Errorf("invalid port range %d-%d", first, last)
	}

	lc := net.ListenConfig{Control: disableReuseAddr}
	for port := first; port <= last; port++ {
		if attempts != nil {
			attempts.RecordPortAttempt()
		}
		ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			// port 0 asks the kernel to choose
			return ln, ln.Addr().(*net.TCPAddr).Port, nil
		}
		if !isPortTaken(err) {
			return nil, 0, fmt.Errorf("listen on port %d: %w", port, err)
		}
	}
	return nil, 0, fmt.Errorf("%w %d-%d on %s", ErrNoFreePort, first, last, host)
}

func isPortTaken(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) || errors.Is(err, syscall.EACCES)
}
