package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrHTMLBody means the upstream answered with an HTML page instead of JSON.
var ErrHTMLBody = errors.New("response body is HTML, not JSON")

type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode payload: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Normalize readies a raw body for decoding. A body that is a JSON string
// literal is decoded one more level.
func Normalize(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Err: errors.New("empty body")}
	}
	if trimmed[0] == '<' {
		return nil, ErrHTMLBody
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}

	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("double encoded body: %w", err)}
	}
	inner = string(bytes.TrimSpace([]byte(inner)))
	if inner == "" {
		return nil, &DecodeError{Err: errors.New("double encoded body is empty")}
	}
	return []byte(inner), nil
}

// Parse decodes raw into the generic tree with numbers kept as json.Number.
func Parse(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &DecodeError{Err: errors.New("unexpected data after top-level value")}
	}
	return v, nil
}

// Decode runs Normalize and Parse and also fills out when it is non-nil.
func Decode(body []byte, out any) (any, error) {
	raw, err := Normalize(body)
	if err != nil {
		return nil, err
	}
	tree, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return tree, &DecodeError{Err: err}
		}
	}
	return tree, nil
}

// Recode decodes an already parsed tree into out.
func Recode(tree any, out any) error {
	raw, err := json.Marshal(tree)
	if err != nil {
		return &DecodeError{Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// Obj returns v as an object, or an empty one.
func Obj(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// List returns v as an array, or nil.
func List(v any) []any {
	if a, ok := v.([]any); ok {
		return a
	}
	return nil
}

// Str returns v when it is a non-empty string, else def.
func Str(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func Num(v any, def float64) float64 {
	switch n := v.(type) {
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	case float64:
		return n
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return def
}

func Bool(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// Path walks nested objects by key.
func Path(v any, keys ...string) any {
	cur := v
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}
