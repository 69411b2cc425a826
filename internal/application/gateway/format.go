package gateway

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
)

// BodyFormat is a wire format a body can be converted between
type BodyFormat string

const (
	FormatJSON       BodyFormat = "json"
	FormatXML        BodyFormat = "xml"
	FormatCSV        BodyFormat = "csv"
	FormatURLEncoded BodyFormat = "urlencoded"
)

const defaultXMLRoot = "root"

var formatContentTypes = map[BodyFormat]string{
	FormatJSON:       "application/json",
	FormatXML:        "application/xml",
	FormatCSV:        "text/csv",
	FormatURLEncoded: "application/x-www-form-urlencoded",
}

// ErrUnsupportedFormat is returned for formats outside BodyFormat
var ErrUnsupportedFormat = errors.New("unsupported body format")

// ParseBodyFormat validates a format name
func ParseBodyFormat(name string) (BodyFormat, error) {
	f := BodyFormat(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := formatContentTypes[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
	return f, nil
}

// ContentType returns the media type of f
func (f BodyFormat) ContentType() string {
	return formatContentTypes[f]
}

// FormatFromContentType maps a media type (without parameters) to a format
func FormatFromContentType(contentType string) (BodyFormat, bool) {
	switch {
	case isJSON(contentType):
		return FormatJSON, true
	case contentType == "application/xml", contentType == "text/xml", strings.HasSuffix(contentType, "+xml"):
		return FormatXML, true
	case contentType == "text/csv":
		return FormatCSV, true
	case contentType == "application/x-www-form-urlencoded":
		return FormatURLEncoded, true
	}
	return "", false
}

// ConvertBody decodes body from one format and encodes it in another. root
// names the XML document element and defaults to "root".
func ConvertBody(body []byte, from, to BodyFormat, root string) ([]byte, error) {
	if from == to {
		return body, nil
	}
	doc, err := decodeBody(body, from)
	if err != nil {
		return nil, err
	}
	return encodeBody(doc, to, root)
}

func decodeBody(body []byte, f BodyFormat) (any, error) {
	switch f {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return doc, nil
	case FormatXML:
		return decodeXML(body)
	case FormatCSV:
		return decodeCSV(body)
	case FormatURLEncoded:
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("decode urlencoded: %w", err)
		}
		doc := make(map[string]any, len(values))
		for k, vs := range values {
			if len(vs) == 1 {
				doc[k] = vs[0]
				continue
			}
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			doc[k] = list
		}
		return doc, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

func encodeBody(doc any, f BodyFormat, root string) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.Marshal(doc)
	case FormatXML:
		return encodeXML(doc, root)
	case FormatCSV:
		return encodeCSV(doc)
	case FormatURLEncoded:
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, errors.New("urlencoded output requires an object")
		}
		values := url.Values{}
		for _, k := range sortedKeys(obj) {
			if list, ok := obj[k].([]any); ok {
				for _, item := range list {
					values.Add(k, scalarString(item))
				}
				continue
			}
			values.Set(k, scalarString(obj[k]))
		}
		return []byte(values.Encode()), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// decodeXML turns the document element's children into an object. Repeated
// names become arrays and text-only elements become strings.
func decodeXML(body []byte) (any, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, errors.New("decode xml: no document element")
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return decodeXMLElement(dec, start)
		}
	}
}

func decodeXMLElement(dec *xml.Decoder, _ xml.StartElement) (any, error) {
	var (
		children map[string]any
		text     strings.Builder
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeXMLElement(dec, t)
			if err != nil {
				return nil, err
			}
			if children == nil {
				children = map[string]any{}
			}
			name := t.Name.Local
			switch prev := children[name].(type) {
			case nil:
				children[name] = child
			case []any:
				children[name] = append(prev, child)
			default:
				children[name] = []any{prev, child}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if children != nil {
				return children, nil
			}
			return strings.TrimSpace(text.String()), nil
		}
	}
}

func encodeXML(doc any, root string) ([]byte, error) {
	if root == "" {
		root = defaultXMLRoot
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := writeXMLElement(enc, root, doc); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeXMLElement(enc *xml.Encoder, name string, v any) error {
	if !validXMLName(name) {
		return fmt.Errorf("encode xml: invalid element name %q", name)
	}
	start := xml.StartElement{Name: xml.Name{Local: name}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	switch val := v.(type) {
	case map[string]any:
		for _, k := range sortedKeys(val) {
			if list, ok := val[k].([]any); ok {
				for _, item := range list {
					if err := writeXMLElement(enc, k, item); err != nil {
						return err
					}
				}
				continue
			}
			if err := writeXMLElement(enc, k, val[k]); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range val {
			if err := writeXMLElement(enc, "item", item); err != nil {
				return err
			}
		}
	default:
		if err := enc.EncodeToken(xml.CharData(scalarString(val))); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func validXMLName(name string) bool {
	if name == "" || strings.HasPrefix(strings.ToLower(name), "xml") {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r == '-' || r == '.' || r >= '0' && r <= '9'):
		default:
			return false
		}
	}
	return true
}

// decodeCSV reads a header row and returns one object per record
func decodeCSV(body []byte) (any, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))))
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}
	if len(records) == 0 {
		return []any{}, nil
	}
	header := records[0]
	rows := make([]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[name] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// encodeCSV writes an array of objects, or a single object, as CSV. The
// header is the first row's keys in sorted order; nested values are JSON.
func encodeCSV(doc any) ([]byte, error) {
	var rows []any
	switch v := doc.(type) {
	case []any:
		rows = v
	case map[string]any:
		rows = []any{v}
	default:
		return nil, errors.New("csv output requires an object or an array of objects")
	}
	if len(rows) == 0 {
		return []byte{}, nil
	}
	first, ok := rows[0].(map[string]any)
	if !ok {
		return nil, errors.New("csv output requires an array of objects")
	}
	header := sortedKeys(first)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, item := range rows {
		row, ok := item.(map[string]any)
		if !ok {
			return nil, errors.New("csv output requires an array of objects")
		}
		rec := make([]string, len(header))
		for i, name := range header {
			rec[i] = scalarString(row[name])
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool, float64, int, int64:
		return fmt.Sprint(val)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
