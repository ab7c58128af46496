// Package schema describes the expected shape of a provider payload as data
// and checks decoded JSON against it.
//
// Values are the generic tree produced by encoding/json: map[string]any,
// []any, string, bool, nil and json.Number or float64 for numbers. Keys not
// named by an Object are ignored.
package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Kind int

const (
	KindAny Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindArray:
		return "array"
	case KindObject, KindRecord:
		return "object"
	default:
		return "any"
	}
}

type Node struct {
	kind     Kind
	nullable bool
	elem     *Node
	fields   []Field
}

type Field struct {
	Name     string
	Node     *Node
	Optional bool
}

func Any() *Node    { return &Node{kind: KindAny} }
func String() *Node { return &Node{kind: KindString} }
func Number() *Node { return &Node{kind: KindNumber} }
func Bool() *Node   { return &Node{kind: KindBool} }

func Array(elem *Node) *Node {
	return &Node{kind: KindArray, elem: elem}
}

// Record is an object with arbitrary keys whose values all match elem.
func Record(elem *Node) *Node {
	return &Node{kind: KindRecord, elem: elem}
}

func Object(fields ...Field) *Node {
	return &Node{kind: KindObject, fields: fields}
}

func Required(name string, n *Node) Field {
	return Field{Name: name, Node: n}
}

func Optional(name string, n *Node) Field {
	return Field{Name: name, Node: n, Optional: true}
}

// Nullable returns a copy of n that also accepts null. A required nullable
// field must still be present.
func (n *Node) Nullable() *Node {
	c := *n
	c.nullable = true
	return &c
}

func (n *Node) Kind() Kind {
	return n.kind
}

type Issue struct {
	Path    string
	Message string
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

type Error struct {
	Issues []Issue
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, is.String())
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// Validate reports every mismatch between v and the schema, or nil.
func (n *Node) Validate(v any) error {
	var issues []Issue
	n.check(v, "", &issues)
	if len(issues) == 0 {
		return nil
	}
	return &Error{Issues: issues}
}

func (n *Node) check(v any, path string, issues *[]Issue) {
	if v == nil {
		if !n.nullable && n.kind != KindAny {
			*issues = append(*issues, Issue{Path: path, Message: "expected " + n.kind.String() + ", received null"})
		}
		return
	}

	switch n.kind {
	case KindAny:
	case KindString:
		if _, ok := v.(string); !ok {
			*issues = append(*issues, mismatch(path, n.kind, v))
		}
	case KindNumber:
		if !isNumber(v) {
			*issues = append(*issues, mismatch(path, n.kind, v))
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			*issues = append(*issues, mismatch(path, n.kind, v))
		}
	case KindArray:
		arr, ok := v.([]any)
		if !ok {
			*issues = append(*issues, mismatch(path, n.kind, v))
			return
		}
		for i, item := range arr {
			n.elem.check(item, path+"["+strconv.Itoa(i)+"]", issues)
		}
	case KindRecord:
		obj, ok := v.(map[string]any)
		if !ok {
			*issues = append(*issues, mismatch(path, n.kind, v))
			return
		}
		for k, item := range obj {
			n.elem.check(item, join(path, k), issues)
		}
	case KindObject:
		obj, ok := v.(map[string]any)
		if !ok {
			*issues = append(*issues, mismatch(path, n.kind, v))
			return
		}
		for _, f := range n.fields {
			item, present := obj[f.Name]
			if !present {
				if !f.Optional {
					*issues = append(*issues, Issue{Path: join(path, f.Name), Message: "required"})
				}
				continue
			}
			if item == nil && f.Optional {
				continue
			}
			f.Node.check(item, join(path, f.Name), issues)
		}
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case json.Number, float64, float32, int, int64:
		return true
	}
	return false
}

func mismatch(path string, want Kind, got any) Issue {
	return Issue{Path: path, Message: fmt.Sprintf("expected %s, received %s", want, describe(got))}
}

func describe(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	if isNumber(v) {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
