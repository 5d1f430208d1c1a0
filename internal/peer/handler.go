// Package peer implements the scripted LLSD/HTTP test double: every request
// is answered from a fixed, ordered rule table keyed on substrings of the
// request path.
package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mumumio1/llpeer/internal/llsd"
	"github.com/mumumio1/llpeer/internal/log"
	"github.com/mumumio1/llpeer/internal/metrics"
)

// Options tunes the handler.
type Options struct {
	// ReadChunkSize bounds each read of a request body.
	ReadChunkSize int64
	// SleepDuration is how long a /sleep/ request blocks.
	SleepDuration time.Duration
	// ServerName is sent in the Server header.
	ServerName string
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		ReadChunkSize: 10 * 1024 * 1024,
		SleepDuration: 30 * time.Second,
		ServerName:    "llpeer",
	}
}

// Handler answers every request from the rule table. It keeps no state
// between requests.
type Handler struct {
	opts    Options
	rules   []rule
	logger  log.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewHandler builds a handler. m may be nil.
func NewHandler(opts Options, logger log.Logger, m *metrics.Metrics) *Handler {
	if opts.ReadChunkSize <= 0 {
		opts.ReadChunkSize = DefaultOptions().ReadChunkSize
	}
	if opts.ServerName == "" {
		opts.ServerName = DefaultOptions().ServerName
	}
	h := &Handler{
		opts:    opts,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	h.rules = h.buildRules()
	return h
}

// RuleNames lists the rules in evaluation order.
func (h *Handler) RuleNames() []string {
	names := make([]string, len(h.rules))
	for i, r := range h.rules {
		names[i] = r.name
	}
	return names
}

// ServeHTTP answers one request. Anything that goes wrong is logged and the
// connection dropped; it never reaches the listener.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := context.WithValue(r.Context(), log.RequestIDKey, uuid.NewString())
	logger := h.logger.WithContext(ctx).With(
		log.String("method", r.Method),
		log.String("path", r.URL.Path),
		log.String("remote_addr", r.RemoteAddr),
	)

	h.metrics.IncActiveConnections()
	defer h.metrics.DecActiveConnections()

	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				panic(p)
			}
			logger.Error("Ignoring panic during processing of request", log.Any("panic", p))
			h.metrics.RecordHandlerError("panic")
			drop(w)
		}
	}()

	rep, ruleName, bodySize, err := h.Respond(r)
	if err != nil {
		logger.Error("Ignoring exception during processing of request", log.Error(err))
		h.metrics.RecordHandlerError(errorStage(err))
		drop(w)
		return
	}

	written, err := h.write(w, rep)
	if err != nil {
		logger.Warn("Failed to write reply", log.String("rule", ruleName), log.Error(err))
		h.metrics.RecordHandlerError("write")
	}

	duration := time.Since(start)
	logger.Debug("HTTP request",
		log.String("rule", ruleName),
		log.Int("status", rep.Status),
		log.Int64("bytes", written),
		log.Duration("duration", duration),
	)
	h.metrics.RecordRequest(r.Method, ruleName, rep.Status, duration, bodySize, written)
}

// Respond synthesizes the reply for r without touching the connection. It
// returns the reply, the name of the rule that produced it and the number
// of body bytes read.
func (h *Handler) Respond(r *http.Request) (*Reply, string, int64, error) {
	ex := &exchange{
		method:  r.Method,
		path:    r.URL.Path,
		host:    r.Host,
		header:  r.Header,
		reflect: pathContainsReflect(r.URL.Path),
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		ex.payload = llsd.Map{"reply": "success", "status": 200, "reason": "Your GET operation worked"}
	case http.MethodPost, http.MethodPut:
		body, err := readBody(r, h.opts.ReadChunkSize)
		if err != nil {
			return nil, "", 0, &stageError{stage: "read", err: err}
		}
		ex.body = body
		ex.payload = llsd.Map{"reply": "success", "status": 200, "reason": string(body)}
	default:
		return unsupportedMethod(r.Method), "unsupported", 0, nil
	}

	for _, rl := range h.rules {
		if !rl.match(ex.path) {
			continue
		}
		rep, err := rl.apply(ex)
		if err != nil {
			return nil, rl.name, int64(len(ex.body)), &stageError{stage: "decode", err: fmt.Errorf("%s: %w", rl.name, err)}
		}
		if rl.terminal {
			return rep, rl.name, int64(len(ex.body)), nil
		}
	}
	// the default rule always matches
	return nil, "", 0, errors.New("no terminal rule matched")
}

func pathContainsReflect(path string) bool {
	return pathContains("/reflect/")(path)
}

func unsupportedMethod(method string) *Reply {
	reason := fmt.Sprintf("Unsupported method (%q)", method)
	rep := &Reply{Status: http.StatusNotImplemented, Reason: reason}
	rep.AddHeader("Content-Type", "text/html")
	rep.AddHeader("Connection", "close")
	rep.Body = errorPage(http.StatusNotImplemented, reason)
	return rep
}

// readBody reads exactly Content-Length bytes in chunks of at most chunk
// bytes. A missing or unparsable Content-Length means an empty body.
func readBody(r *http.Request, chunk int64) ([]byte, error) {
	size, err := strconv.ParseInt(r.Header.Get("Content-Length"), 10, 64)
	if err != nil || size <= 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	for remaining := size; remaining > 0; {
		n := min(remaining, chunk)
		buf.Grow(int(n))
		got, err := io.CopyN(&buf, r.Body, n)
		remaining -= got
		if err != nil {
			return nil, fmt.Errorf("short body: read %d of %d bytes: %w", size-remaining, size, err)
		}
	}
	return buf.Bytes(), nil
}

// write puts rep on the wire. On a hijackable connection the reply is
// written verbatim and the connection closed.
func (h *Handler) write(w http.ResponseWriter, rep *Reply) (int64, error) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return writeViaResponseWriter(w, rep)
	}
	conn, bufrw, err := hj.Hijack()
	if err != nil {
		return writeViaResponseWriter(w, rep)
	}
	defer closeConn(conn)

	return writeReply(bufrw.Writer, rep, h.opts.ServerName, h.now())
}

// drop abandons the request without a reply.
func drop(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return
	}
	if conn, _, err := hj.Hijack(); err == nil {
		conn.Close()
	}
}

func closeConn(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	_ = conn.Close()
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func errorStage(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return "unknown"
}
