// Package llsd encodes and decodes LLSD, the schema-less structured data
// format used for request and response bodies, in its XML serialization.
//
// Values map onto Go types as follows:
//
//	undef    nil
//	boolean  bool
//	integer  int
//	real     float64
//	string   string
//	uuid     uuid.UUID
//	date     time.Time
//	uri      URI
//	binary   Binary
//	map      Map
//	array    Array
package llsd

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ContentType is the media type of XML-serialized LLSD.
const ContentType = "application/llsd+xml"

// Map is an LLSD map.
type Map map[string]any

// Array is an LLSD array.
type Array []any

// URI is an LLSD uri; it is kept distinct from string so it round-trips.
type URI string

// Binary is an LLSD binary blob.
type Binary []byte

// Get returns the value stored under key, or nil.
func (m Map) Get(key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

// AsInteger converts integer, real, boolean and numeric string values.
func AsInteger(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case float32:
		return int(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			f, ferr := strconv.ParseFloat(x, 64)
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return n, true
	}
	return 0, false
}

// AsString converts scalar values to their LLSD string form.
func AsString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case URI:
		return string(x), true
	case uuid.UUID:
		return x.String(), true
	case int:
		return strconv.Itoa(x), true
	case float64:
		return formatReal(x), true
	case bool:
		if x {
			return "true", true
		}
		return "false", true
	case time.Time:
		return formatDate(x), true
	}
	return "", false
}

func formatReal(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}
