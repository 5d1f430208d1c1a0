package peer

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mumumio1/llpeer/internal/llsd"
)

// exchange is one request as the rules see it.
type exchange struct {
	method  string
	path    string
	host    string
	header  http.Header
	body    []byte
	payload llsd.Map
	reflect bool
}

// rule pairs a path predicate with an action. The rules are walked in
// order; a non-terminal rule runs and the walk continues, the first
// terminal match produces the reply.
type rule struct {
	name     string
	match    func(path string) bool
	terminal bool
	apply    func(ex *exchange) (*Reply, error)
}

func pathContains(marker string) func(string) bool {
	return func(path string) bool { return strings.Contains(path, marker) }
}

func always(string) bool { return true }

func (h *Handler) buildRules() []rule {
	return []rule{
		{name: "sleep", match: pathContains("/sleep/"), apply: h.sleep},
		{name: "fail", match: pathContains("/fail/"), terminal: true, apply: failReply},
		{name: "bug2295", match: pathContains("/bug2295/"), terminal: true, apply: partialContentReply},
		{name: "default", match: always, terminal: true, apply: successReply},
	}
}

// sleep stalls the handling goroutine; clients use it to exercise their
// timeouts.
func (h *Handler) sleep(*exchange) (*Reply, error) {
	time.Sleep(h.opts.SleepDuration)
	return nil, nil
}

// reflectInto echoes every request header back as X-Reflect-<Name>.
func (ex *exchange) reflectInto(rep *Reply) {
	if !ex.reflect {
		return
	}
	fields := make(map[string]string, len(ex.header)+1)
	for name, values := range ex.header {
		fields[name] = strings.Join(values, ", ")
	}
	// net/http moves Host out of the header map
	if _, ok := fields["Host"]; !ok && ex.host != "" {
		fields["Host"] = ex.host
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rep.AddHeader("X-Reflect-"+name, fields[name])
	}
}

func failReply(ex *exchange) (*Reply, error) {
	status, reason, err := failDirective(ex.body)
	if err != nil {
		return nil, err
	}

	rep := &Reply{Status: status, Reason: reason}
	rep.AddHeader("Content-Type", "text/html")
	rep.AddHeader("Connection", "close")
	ex.reflectInto(rep)
	if ex.method != http.MethodHead && status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified {
		rep.Body = errorPage(status, reason)
	}
	return rep, nil
}

// failDirective decodes the status and reason a /fail/ request asks for.
// An empty body asks for the defaults; a body that is not LLSD is an error.
func failDirective(body []byte) (int, string, error) {
	status := http.StatusInternalServerError
	var reason string
	haveReason := false

	if len(bytes.TrimSpace(body)) > 0 {
		v, err := llsd.ParseXML(body)
		if err != nil {
			return 0, "", fmt.Errorf("decode /fail/ body: %w", err)
		}
		if m, ok := v.(llsd.Map); ok {
			if n, ok := llsd.AsInteger(m.Get("status")); ok && n >= 100 && n <= 999 {
				status = n
			}
			reason, haveReason = llsd.AsString(m.Get("reason"))
		}
	}

	if !haveReason {
		reason = defaultFailReason(status)
	}
	return status, reason, nil
}

// partialContentCase is one of the malformed 206 replies. They promise data
// in their headers that the body does not deliver.
type partialContentCase struct {
	marker string
	header []HeaderField
	body   string
}

var contentRange = HeaderField{Name: "Content-Range", Value: "bytes 0-75/2983"}

var partialContentCases = []partialContentCase{
	{marker: "/bug2295/0/", header: []HeaderField{contentRange}},
	{marker: "/bug2295/1/", header: []HeaderField{{Name: "Content-Range", Value: "bytes 0-75/*"}}},
	{marker: "/bug2295/2/", header: []HeaderField{contentRange, {Name: "Content-Length", Value: "0"}}},
	// 18 is libcurl's CURLE_PARTIAL_FILE; older clients used 00000012.
	{marker: "/bug2295/00000018/0/", header: []HeaderField{contentRange, {Name: "Content-Length", Value: "76"}}},
	{marker: "/bug2295/00000012/0/", header: []HeaderField{contentRange, {Name: "Content-Length", Value: "76"}}},
	// Body shorter than the range and no Content-Length at all; keep it that way.
	{marker: "/bug2295/inv_cont_range/0/", header: []HeaderField{contentRange}, body: "Some text, but not enough."},
}

func partialContentReply(ex *exchange) (*Reply, error) {
	rep := &Reply{Status: http.StatusBadRequest, Reason: reasonPhrase(http.StatusBadRequest)}
	for _, c := range partialContentCases {
		if strings.Contains(ex.path, c.marker) {
			rep.Status = http.StatusPartialContent
			rep.Reason = reasonPhrase(http.StatusPartialContent)
			rep.Header = append(rep.Header, c.header...)
			// written for every method, HEAD included
			rep.Body = []byte(c.body)
			break
		}
	}
	ex.reflectInto(rep)
	rep.AddHeader("Content-type", "text/plain")
	return rep, nil
}

func successReply(ex *exchange) (*Reply, error) {
	data := make(llsd.Map, len(ex.payload)+1)
	for k, v := range ex.payload {
		data[k] = v
	}
	if _, ok := data["reply"]; !ok {
		data["reply"] = "success"
	}

	doc, err := llsd.FormatXML(data)
	if err != nil {
		return nil, fmt.Errorf("format reply: %w", err)
	}

	rep := &Reply{Status: http.StatusOK, Reason: reasonPhrase(http.StatusOK)}
	ex.reflectInto(rep)
	rep.AddHeader("Content-type", llsd.ContentType)
	rep.AddHeader("Content-Length", fmt.Sprint(len(doc)))
	rep.AddHeader("X-LL-Special", "Mememememe")
	if ex.method != http.MethodHead {
		rep.Body = doc
	}
	return rep, nil
}
