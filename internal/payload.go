package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/yosuke-furukawa/json5/encoding/json5"
)

// PayloadType is the classification of a message body
type PayloadType string

const (
	PayloadText   PayloadType = "text"
	PayloadJSON   PayloadType = "json"
	PayloadObject PayloadType = "object"
)

// Valid reports whether t is one of the known payload types
func (t PayloadType) Valid() bool {
	switch t {
	case PayloadText, PayloadJSON, PayloadObject:
		return true
	}
	return false
}

// Payload is a classified message body. Text always holds the canonical
// string form; Value holds the structured value for json and object payloads.
type Payload struct {
	Type  PayloadType
	Text  string
	Value any
}

// Classify detects the type of v and produces its canonical form.
func Classify(v any) Payload {
	if isStructured(v) {
		return Payload{Type: PayloadObject, Text: Stringify(v), Value: v}
	}

	text := Stringify(v)
	parsed := Parse(text)
	if m, ok := parsed.(map[string]any); ok {
		return Payload{Type: PayloadJSON, Text: Stringify(m), Value: m}
	}
	return Payload{Type: PayloadText, Text: text}
}

// DetectType classifies v as object, json or text
func DetectType(v any) PayloadType {
	if isStructured(v) {
		return PayloadObject
	}
	if _, ok := Parse(Stringify(v)).(map[string]any); ok {
		return PayloadJSON
	}
	return PayloadText
}

// Stringify renders structured values as strict JSON and passes strings through.
func Stringify(v any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprint(v)
		}
	}()

	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case json.RawMessage:
		return string(val)
	case fmt.Stringer:
		if !isStructured(v) {
			return val.String()
		}
	}

	switch reflect.Indirect(reflect.ValueOf(v)).Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		data, err := marshalCanonical(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return data
	}
	return fmt.Sprint(v)
}

// Parse leniently decodes s (JSON5 syntax is accepted). When s cannot be
// decoded it is returned unchanged.
func Parse(s string) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = s
		}
	}()

	trimmed := bytes.TrimSpace([]byte(s))
	if len(trimmed) == 0 {
		return s
	}
	var v any
	if err := json5.Unmarshal(trimmed, &v); err == nil {
		return v
	}
	// json5 rejects comments and single-quoted keys; retry without them
	normalized, ok := normalizeJSON5(trimmed)
	if !ok {
		return s
	}
	v = nil
	if err := json5.Unmarshal(normalized, &v); err != nil {
		return s
	}
	return v
}

// normalizeJSON5 drops // and /* */ comments and rewrites single-quoted
// strings as double-quoted ones. Text inside strings is left alone. ok is
// false when a string or block comment is left open.
func normalizeJSON5(src []byte) (out []byte, ok bool) {
	buf := make([]byte, 0, len(src))
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '"':
			end, closed := scanString(src, i, '"')
			if !closed {
				return nil, false
			}
			buf = append(buf, src[i:end+1]...)
			i = end
		case c == '\'':
			end, closed := scanString(src, i, '\'')
			if !closed {
				return nil, false
			}
			buf = appendDoubleQuoted(buf, src[i+1:end])
			i = end
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			buf = append(buf, '\n')
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := bytes.Index(src[i+2:], []byte("*/"))
			if end < 0 {
				return nil, false
			}
			buf = append(buf, ' ')
			i += end + 3
		default:
			buf = append(buf, c)
		}
	}
	return buf, true
}

// scanString returns the index of the quote closing the string opened at start
func scanString(src []byte, start int, quote byte) (int, bool) {
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case quote:
			return i, true
		}
	}
	return 0, false
}

// appendDoubleQuoted re-quotes the body of a single-quoted string
func appendDoubleQuoted(buf, body []byte) []byte {
	buf = append(buf, '"')
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\\' && i+1 < len(body) && body[i+1] == '\'':
			buf = append(buf, '\'')
			i++
		case c == '\\' && i+1 < len(body):
			buf = append(buf, c, body[i+1])
			i++
		case c == '"':
			buf = append(buf, '\\', '"')
		default:
			buf = append(buf, c)
		}
	}
	return append(buf, '"')
}

func marshalCanonical(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// isStructured reports whether v is already a key-value mapping (a map or a
// struct, possibly behind a pointer).
func isStructured(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		return true
	case reflect.Struct:
		// time.Time and similar value types render as scalars
		_, isText := v.(interface{ MarshalText() ([]byte, error) })
		return !isText
	}
	return false
}
