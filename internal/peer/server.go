package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mumumio1/llpeer/internal/freeport"
	"github.com/mumumio1/llpeer/internal/log"
	"github.com/mumumio1/llpeer/internal/metrics"
)

// ServerConfig holds what the listener needs.
type ServerConfig struct {
	Address           string
	PortFirst         int
	PortLast          int
	ReadHeaderTimeout time.Duration
}

// Server is the bound peer. It is created bound: Start returns only after
// the port is held, so bind failures surface in the caller's goroutine.
type Server struct {
	listener net.Listener
	port     int
	srv      *http.Server
	logger   log.Logger
}

// Start binds the first free port of the configured range. net/http serves
// each accepted connection on its own goroutine.
func Start(ctx context.Context, cfg ServerConfig, handler http.Handler, logger log.Logger, m *metrics.Metrics) (*Server, error) {
	ln, port, err := freeport.Listen(ctx, cfg.Address, cfg.PortFirst, cfg.PortLast, m)
	if err != nil {
		return nil, fmt.Errorf("start peer: %w", err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ErrorLog:          logger.StdLogger(),
	}

	logger.Info("Peer listening",
		log.String("address", ln.Addr().String()),
		log.Int("port", port),
	)

	return &Server{listener: ln, port: port, srv: srv, logger: logger}, nil
}

// Port is the bound port number.
func (s *Server) Port() int {
	return s.port
}

// URL is the base URL of the peer.
func (s *Server) URL() string {
	return "http://" + net.JoinHostPort(s.listener.Addr().(*net.TCPAddr).IP.String(), strconv.Itoa(s.port))
}

// Serve runs the accept loop until the server is closed.
func (s *Server) Serve() error {
	err := s.srv.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops the accept loop. Hijacked connections in flight are not
// affected. The harness never calls this; process exit ends the server.
func (s *Server) Close() error {
	err := s.srv.Close()
	// Serve may never have run and taken ownership of the listener
	_ = s.listener.Close()
	return err
}
