package peer

import (
	"fmt"
	"html"
	"net/http"
)

// explanations holds the long-form status descriptions used when a /fail/
// request names a status but no reason.
var explanations = map[int]string{
	100: "Request received, please continue",
	101: "Switching to new protocol; obey Upgrade header",
	200: "Request fulfilled, document follows",
	201: "Document created, URL follows",
	202: "Request accepted, processing continues off-line",
	203: "Request fulfilled from cache",
	204: "Request fulfilled, nothing follows",
	205: "Clear input form for further input.",
	206: "Partial content follows.",
	300: "Object has several resources -- see URI list",
	301: "Object moved permanently -- see URI list",
	302: "Object moved temporarily -- see URI list",
	303: "Object moved -- see Method and URL list",
	304: "Document has not changed since given time",
	305: "You must use proxy specified in Location to access this resource.",
	307: "Object moved temporarily -- see URI list",
	400: "Bad request syntax or unsupported method",
	401: "No permission -- see authorization schemes",
	402: "No payment -- see charging schemes",
	403: "Request forbidden -- authorization will not help",
	404: "Nothing matches the given URI",
	405: "Specified method is invalid for this resource.",
	406: "URI not available in preferred format.",
	407: "You must authenticate with this proxy before proceeding.",
	408: "Request timed out; try again later.",
	409: "Request conflict.",
	410: "URI no longer exists and has been permanently removed.",
	411: "Client must specify Content-Length.",
	412: "Precondition in headers is false.",
	413: "Entity is too large.",
	414: "URI is too long.",
	415: "Entity body in unsupported format.",
	416: "Cannot satisfy request range.",
	417: "Expect condition could not be satisfied.",
	500: "Server got itself in trouble",
	501: "Server does not support this operation",
	502: "Invalid responses from another server/proxy.",
	503: "The server cannot process the request due to a high load",
	504: "The gateway server did not receive a timely response",
	505: "Cannot fulfill request.",
}

// defaultFailReason is the reason phrase for a /fail/ request that gave none.
func defaultFailReason(status int) string {
	if long, ok := explanations[status]; ok {
		return long
	}
	return fmt.Sprintf("Your request specified failure status %d without providing a reason", status)
}

// reasonPhrase is the standard short phrase, empty for unknown codes.
func reasonPhrase(status int) string {
	return http.StatusText(status)
}

const errorPageFormat = `<head>
<title>Error response</title>
</head>
<body>
<h1>Error response</h1>
<p>Error code %d.
<p>Message: %s.
<p>Error code explanation: %d = %s.
</body>
`

func errorPage(status int, message string) []byte {
	explain, ok := explanations[status]
	if !ok {
		explain = "???"
	}
	return []byte(fmt.Sprintf(errorPageFormat, status, html.EscapeString(message), status, explain))
}
