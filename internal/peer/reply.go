package peer

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HeaderField is one response header line. Replies keep their headers as an
// ordered list because clients under test are sensitive to exactly what is
// sent, including the spelling of names such as "Content-type".
type HeaderField struct {
	Name  string
	Value string
}

// Reply is a fully synthesized response, written verbatim to the wire.
type Reply struct {
	Status int
	Reason string
	Header []HeaderField
	Body   []byte
}

// AddHeader appends a header line.
func (r *Reply) AddHeader(name, value string) {
	r.Header = append(r.Header, HeaderField{Name: name, Value: value})
}

// HeaderValue returns the first value for name, compared case-insensitively.
func (r *Reply) HeaderValue(name string) (string, bool) {
	for _, f := range r.Header {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// writeReply renders rep as an HTTP/1.0 response: status line, Server and
// Date, the reply's own headers in order, a blank line and the body. No
// Content-Length is added; the connection is closed afterwards.
func writeReply(w *bufio.Writer, rep *Reply, serverName string, now time.Time) (int64, error) {
	cw := &countingWriter{w: w}

	fmt.Fprintf(cw, "HTTP/1.0 %d %s\r\n", rep.Status, headerSafe(rep.Reason))
	fmt.Fprintf(cw, "Server: %s\r\n", serverName)
	fmt.Fprintf(cw, "Date: %s\r\n", now.UTC().Format(http.TimeFormat))
	for _, f := range rep.Header {
		fmt.Fprintf(cw, "%s: %s\r\n", f.Name, headerSafe(f.Value))
	}
	cw.Write([]byte("\r\n"))
	if len(rep.Body) > 0 {
		cw.Write(rep.Body)
	}

	if cw.err != nil {
		return cw.n, cw.err
	}
	return cw.n, w.Flush()
}

// headerSafe keeps caller-supplied text (a /fail/ reason, say) from
// splitting the header block.
func headerSafe(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, s)
}

type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

// writeViaResponseWriter is the fallback for writers that cannot be
// hijacked (HTTP/2, httptest.ResponseRecorder). Header spelling is kept
// by assigning map keys directly; the reason phrase is lost.
func writeViaResponseWriter(w http.ResponseWriter, rep *Reply) (int64, error) {
	h := w.Header()
	for _, f := range rep.Header {
		h[f.Name] = append(h[f.Name], f.Value)
	}
	w.WriteHeader(rep.Status)
	if len(rep.Body) == 0 {
		return 0, nil
	}
	n, err := w.Write(rep.Body)
	return int64(n), err
}
