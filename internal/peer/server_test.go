package peer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mumumio1/llpeer/internal/llsd"
	"github.com/mumumio1/llpeer/internal/log"
	"github.com/mumumio1/llpeer/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPeer(t *testing.T, sleep time.Duration) (*Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics()
	opts := DefaultOptions()
	opts.SleepDuration = sleep
	h := NewHandler(opts, log.NewNopLogger(), m)

	srv, err := Start(context.Background(), ServerConfig{Address: "127.0.0.1", ReadHeaderTimeout: 5 * time.Second}, h, log.NewNopLogger(), m)
	require.NoError(t, err)

	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, m
}

// rawExchange sends a literal request and returns everything the peer
// writes before closing the connection.
func rawExchange(t *testing.T, srv *Server, request string) string {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, request)
	require.NoError(t, err)

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(out)
}

func splitResponse(raw string) (statusLine string, headers []string, body string) {
	head, body, _ := strings.Cut(raw, "\r\n\r\n")
	lines := strings.Split(head, "\r\n")
	return lines[0], lines[1:], body
}

func withoutDate(raw string) string {
	var kept []string
	for _, line := range strings.Split(raw, "\r\n") {
		if !strings.HasPrefix(line, "Date: ") {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\r\n")
}

func TestStartBindsBeforeServing(t *testing.T) {
	srv, _ := startPeer(t, time.Second)
	assert.NotZero(t, srv.Port())
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", srv.Port()), srv.URL())
}

func TestStartFailsWhenRangeTaken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	_, err = Start(context.Background(), ServerConfig{Address: "127.0.0.1", PortFirst: port, PortLast: port},
		http.NotFoundHandler(), log.NewNopLogger(), nil)
	assert.Error(t, err)
}

func TestWireDefaultReply(t *testing.T) {
	srv, _ := startPeer(t, time.Second)

	raw := rawExchange(t, srv, "GET /hello/ HTTP/1.1\r\nHost: peer\r\n\r\n")
	status, headers, body := splitResponse(raw)

	assert.Equal(t, "HTTP/1.0 200 OK", status)
	assert.True(t, strings.HasPrefix(headers[0], "Server: llpeer"))
	assert.True(t, strings.HasPrefix(headers[1], "Date: "))
	assert.Equal(t, "Content-type: application/llsd+xml", headers[2])
	assert.Equal(t, fmt.Sprintf("Content-Length: %d", len(body)), headers[3])
	assert.Equal(t, "X-LL-Special: Mememememe", headers[4])

	v, err := llsd.ParseXML([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "success", v.(llsd.Map)["reply"])
}

func TestWireFailReasonPhrase(t *testing.T) {
	srv, _ := startPeer(t, time.Second)

	body := `<llsd><map><key>status</key><integer>404</integer><key>reason</key><string>nope</string></map></llsd>`
	raw := rawExchange(t, srv, fmt.Sprintf("POST /fail/ HTTP/1.1\r\nHost: peer\r\nContent-Length: %d\r\n\r\n%s", len(body), body))
	status, _, _ := splitResponse(raw)
	assert.Equal(t, "HTTP/1.0 404 nope", status)

	// the standard client sees the same thing
	resp, err := http.Post(srv.URL()+"/fail/", llsd.ContentType, strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "404 nope", resp.Status)
}

func TestWirePartialContentWithoutBody(t *testing.T) {
	srv, _ := startPeer(t, time.Second)

	for _, method := range []string{"GET", "HEAD", "POST"} {
		raw := rawExchange(t, srv, method+" /bug2295/0/ HTTP/1.1\r\nHost: peer\r\n\r\n")
		status, headers, body := splitResponse(raw)

		assert.Equal(t, "HTTP/1.0 206 Partial Content", status, method)
		assert.Contains(t, headers, "Content-Range: bytes 0-75/2983", method)
		assert.NotContains(t, raw, "Content-Length", method)
		assert.Empty(t, body, method)
	}
}

func TestWireLyingContentLength(t *testing.T) {
	srv, _ := startPeer(t, time.Second)

	raw := rawExchange(t, srv, "GET /bug2295/00000018/0/ HTTP/1.1\r\nHost: peer\r\n\r\n")
	_, headers, body := splitResponse(raw)
	assert.Contains(t, headers, "Content-Length: 76")
	assert.Empty(t, body, "no body bytes may be written")

	resp, err := http.Get(srv.URL() + "/bug2295/00000018/0/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 206, resp.StatusCode)
	assert.Equal(t, int64(76), resp.ContentLength)

	_, err = io.ReadAll(resp.Body)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "want partial transfer error, got %v", err)
}

func TestWireInvalidContentRangeBody(t *testing.T) {
	srv, _ := startPeer(t, time.Second)

	raw := rawExchange(t, srv, "HEAD /bug2295/inv_cont_range/0/ HTTP/1.1\r\nHost: peer\r\n\r\n")
	_, headers, body := splitResponse(raw)
	assert.NotContains(t, raw, "Content-Length")
	assert.Contains(t, headers, "Content-type: text/plain")
	assert.Equal(t, "Some text, but not enough.", body)
}

func TestWireReflect(t *testing.T) {
	srv, _ := startPeer(t, time.Second)

	req, err := http.NewRequest(http.MethodGet, srv.URL()+"/reflect/", nil)
	require.NoError(t, err)
	req.Header.Set("X-Foo", "bar")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "bar", resp.Header.Get("X-Reflect-X-Foo"))
	assert.NotEmpty(t, resp.Header.Get("X-Reflect-Host"))
}

func TestWireIdempotentGet(t *testing.T) {
	srv, _ := startPeer(t, time.Second)

	first := withoutDate(rawExchange(t, srv, "GET /same/ HTTP/1.1\r\nHost: peer\r\n\r\n"))
	for i := 0; i < 5; i++ {
		again := withoutDate(rawExchange(t, srv, "GET /same/ HTTP/1.1\r\nHost: peer\r\n\r\n"))
		require.Equal(t, first, again)
	}
}

func TestWireSlowRequestDoesNotBlockFast(t *testing.T) {
	srv, _ := startPeer(t, 1500*time.Millisecond)

	var wg sync.WaitGroup
	var slowStatus int
	var slowErr error
	slowStart := time.Now()
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := http.Get(srv.URL() + "/sleep/")
		if err != nil {
			slowErr = err
			return
		}
		resp.Body.Close()
		slowStatus = resp.StatusCode
	}()

	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	resp, err := http.Get(srv.URL() + "/fast/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 200, resp.StatusCode)

	wg.Wait()
	require.NoError(t, slowErr)
	assert.Equal(t, 200, slowStatus)
	assert.GreaterOrEqual(t, time.Since(slowStart), 1500*time.Millisecond)
}

func TestWireBadRequestDoesNotKillListener(t *testing.T) {
	srv, m := startPeer(t, time.Second)

	// Undecodable /fail/ body: the connection is dropped without a reply.
	body := "this is not llsd"
	raw := rawExchange(t, srv, fmt.Sprintf("POST /fail/ HTTP/1.1\r\nHost: peer\r\nContent-Length: %d\r\n\r\n%s", len(body), body))
	assert.Empty(t, raw)

	// Short body: client promises more than it sends.
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	_, err = io.WriteString(conn, "PUT /x/ HTTP/1.1\r\nHost: peer\r\nContent-Length: 100\r\n\r\nshort")
	require.NoError(t, err)
	conn.(*net.TCPConn).CloseWrite()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	rest, _ := io.ReadAll(bufio.NewReader(conn))
	conn.Close()
	assert.Empty(t, rest)

	// The listener is still serving.
	resp, err := http.Get(srv.URL() + "/after/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var errorsSeen float64
	for _, mf := range families {
		if mf.GetName() == "llpeer_handler_errors_total" {
			for _, metric := range mf.GetMetric() {
				errorsSeen += metric.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(2), errorsSeen)
}
