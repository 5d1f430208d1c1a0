package llsd

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

// ErrNotLLSD is returned when a document has no <llsd> root element.
var ErrNotLLSD = errors.New("llsd: document is not LLSD XML")

// FormatXML renders v as an LLSD XML document. Map keys are written in
// sorted order so equal values always render to equal bytes.
func FormatXML(v any) ([]byte, error) {
	doc := etree.NewDocument()
	doc.WriteSettings.CanonicalEndTags = false
	// CR is written as &#xD; so parsers do not fold it into LF
	doc.WriteSettings.CanonicalText = true
	doc.CreateProcInst("xml", `version="1.0" `)

	root := doc.CreateElement("llsd")
	if err := encodeValue(root, v); err != nil {
		return nil, err
	}
	return doc.WriteToBytes()
}

func encodeValue(parent *etree.Element, v any) error {
	switch x := v.(type) {
	case nil:
		parent.CreateElement("undef")
	case bool:
		parent.CreateElement("boolean").SetText(strconv.FormatBool(x))
	case int:
		parent.CreateElement("integer").SetText(strconv.Itoa(x))
	case int32:
		parent.CreateElement("integer").SetText(strconv.FormatInt(int64(x), 10))
	case int64:
		parent.CreateElement("integer").SetText(strconv.FormatInt(x, 10))
	case float64:
		parent.CreateElement("real").SetText(formatReal(x))
	case float32:
		parent.CreateElement("real").SetText(formatReal(float64(x)))
	case string:
		parent.CreateElement("string").SetText(x)
	case URI:
		parent.CreateElement("uri").SetText(string(x))
	case uuid.UUID:
		parent.CreateElement("uuid").SetText(x.String())
	case time.Time:
		parent.CreateElement("date").SetText(formatDate(x))
	case Binary:
		encodeBinary(parent, x)
	case []byte:
		encodeBinary(parent, x)
	case Map:
		return encodeMap(parent, x)
	case map[string]any:
		return encodeMap(parent, x)
	case Array:
		return encodeArray(parent, x)
	case []any:
		return encodeArray(parent, x)
	default:
		return fmt.Errorf("llsd: cannot encode %T", v)
	}
	return nil
}

func encodeBinary(parent *etree.Element, b []byte) {
	el := parent.CreateElement("binary")
	el.CreateAttr("encoding", "base64")
	el.SetText(base64.StdEncoding.EncodeToString(b))
}

func encodeMap(parent *etree.Element, m map[string]any) error {
	el := parent.CreateElement("map")
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		el.CreateElement("key").SetText(k)
		if err := encodeValue(el, m[k]); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
	}
	return nil
}

func encodeArray(parent *etree.Element, a []any) error {
	el := parent.CreateElement("array")
	for i, item := range a {
		if err := encodeValue(el, item); err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
	}
	return nil
}

// ParseXML decodes an LLSD XML document. An empty <llsd/> decodes to nil.
func ParseXML(data []byte) (any, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("llsd: invalid XML: %w", err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "llsd" {
		return nil, ErrNotLLSD
	}

	children := root.ChildElements()
	switch len(children) {
	case 0:
		return nil, nil
	case 1:
		return decodeElement(children[0])
	default:
		return nil, fmt.Errorf("llsd: root holds %d values, want one", len(children))
	}
}

func decodeElement(el *etree.Element) (any, error) {
	text := el.Text()
	switch el.Tag {
	case "undef":
		return nil, nil
	case "boolean":
		switch strings.TrimSpace(text) {
		case "", "0", "false":
			return false, nil
		case "1", "true":
			return true, nil
		}
		return nil, fmt.Errorf("llsd: bad boolean %q", text)
	case "integer":
		s := strings.TrimSpace(text)
		if s == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("llsd: bad integer: %w", err)
		}
		return int(n), nil
	case "real":
		s := strings.TrimSpace(text)
		if s == "" {
			return 0.0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("llsd: bad real: %w", err)
		}
		return f, nil
	case "string":
		return text, nil
	case "uri":
		return URI(text), nil
	case "uuid":
		s := strings.TrimSpace(text)
		if s == "" {
			return uuid.Nil, nil
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("llsd: bad uuid: %w", err)
		}
		return id, nil
	case "date":
		s := strings.TrimSpace(text)
		if s == "" {
			return time.Unix(0, 0).UTC(), nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("llsd: bad date: %w", err)
		}
		return t.UTC(), nil
	case "binary":
		return decodeBinary(el)
	case "map":
		return decodeMap(el)
	case "array":
		items := el.ChildElements()
		a := make(Array, 0, len(items))
		for _, item := range items {
			v, err := decodeElement(item)
			if err != nil {
				return nil, err
			}
			a = append(a, v)
		}
		return a, nil
	}
	return nil, fmt.Errorf("llsd: unknown element <%s>", el.Tag)
}

func decodeBinary(el *etree.Element) (any, error) {
	s := strings.Join(strings.Fields(el.Text()), "")
	switch el.SelectAttrValue("encoding", "base64") {
	case "base64":
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("llsd: bad base64 binary: %w", err)
		}
		return Binary(b), nil
	case "base16":
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("llsd: bad base16 binary: %w", err)
		}
		return Binary(b), nil
	default:
		return nil, fmt.Errorf("llsd: unsupported binary encoding %q", el.SelectAttrValue("encoding", ""))
	}
}

func decodeMap(el *etree.Element) (any, error) {
	children := el.ChildElements()
	if len(children)%2 != 0 {
		return nil, errors.New("llsd: map has a key without a value")
	}
	m := make(Map, len(children)/2)
	for i := 0; i < len(children); i += 2 {
		keyEl, valEl := children[i], children[i+1]
		if keyEl.Tag != "key" {
			return nil, fmt.Errorf("llsd: expected <key> in map, got <%s>", keyEl.Tag)
		}
		v, err := decodeElement(valEl)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", keyEl.Text(), err)
		}
		m[keyEl.Text()] = v
	}
	return m, nil
}
