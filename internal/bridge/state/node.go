// Package state holds the vehicle state document: a map of domains to JSON trees.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Node.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Node is one value of a JSON tree. A nil *Node stands for an absent value and
// every accessor accepts it.
type Node struct {
	kind Kind
	b    bool
	n    json.Number
	s    string
	a    []*Node
	o    map[string]*Node
}

func Null() *Node                { return &Node{kind: KindNull} }
func Bool(v bool) *Node          { return &Node{kind: KindBool, b: v} }
func String(v string) *Node      { return &Node{kind: KindString, s: v} }
func Number(v json.Number) *Node { return &Node{kind: KindNumber, n: v} }

// Float returns a number node holding v.
func Float(v float64) *Node {
	return Number(json.Number(strconv.FormatFloat(v, 'f', -1, 64)))
}

// Int returns a number node holding v.
func Int(v int64) *Node {
	return Number(json.Number(strconv.FormatInt(v, 10)))
}

// Array returns an array node of items.
func Array(items ...*Node) *Node {
	if items == nil {
		items = []*Node{}
	}
	return &Node{kind: KindArray, a: items}
}

// Object returns an empty object node.
func Object() *Node {
	return &Node{kind: KindObject, o: map[string]*Node{}}
}

// ObjectOf returns an object node holding the given members.
func ObjectOf(members map[string]*Node) *Node {
	obj := Object()
	for k, v := range members {
		obj.o[k] = v
	}
	return obj
}

// Parse decodes a JSON document into a tree. Numbers keep their literal text.
func Parse(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return FromValue(v)
}

// MustParse is Parse that panics on malformed input. Meant for literals.
func MustParse(s string) *Node {
	n, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return n
}

// FromValue converts a decoded JSON value, or any value encoding/json can
// marshal, into a tree.
func FromValue(v any) (*Node, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case *Node:
		return t.Clone(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return Number(t), nil
	case float64:
		return Float(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case []any:
		items := make([]*Node, 0, len(t))
		for _, item := range t {
			n, err := FromValue(item)
			if err != nil {
				return nil, err
			}
			items = append(items, n)
		}
		return Array(items...), nil
	case map[string]any:
		obj := Object()
		for k, item := range t {
			n, err := FromValue(item)
			if err != nil {
				return nil, err
			}
			obj.o[k] = n
		}
		return obj, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("converting %T: %w", v, err)
		}
		return Parse(data)
	}
}

// Kind returns the variant of n. A nil node reports KindNull.
func (n *Node) Kind() Kind {
	if n == nil {
		return KindNull
	}
	return n.kind
}

func (n *Node) IsNull() bool   { return n.Kind() == KindNull }
func (n *Node) IsObject() bool { return n.Kind() == KindObject }
func (n *Node) IsArray() bool  { return n.Kind() == KindArray }

// IsScalar reports whether n is a string, number or bool.
func (n *Node) IsScalar() bool {
	switch n.Kind() {
	case KindBool, KindNumber, KindString:
		return true
	}
	return false
}

// Get returns the member key of an object node, or nil.
func (n *Node) Get(key string) *Node {
	if n.Kind() != KindObject {
		return nil
	}
	return n.o[key]
}

// Has reports whether the object node has a member key.
func (n *Node) Has(key string) bool {
	if n.Kind() != KindObject {
		return false
	}
	_, ok := n.o[key]
	return ok
}

// Path follows a chain of object keys.
func (n *Node) Path(keys ...string) *Node {
	cur := n
	for _, k := range keys {
		cur = cur.Get(k)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Index returns element i of an array node, or nil.
func (n *Node) Index(i int) *Node {
	if n.Kind() != KindArray || i < 0 || i >= len(n.a) {
		return nil
	}
	return n.a[i]
}

// Items returns the elements of an array node.
func (n *Node) Items() []*Node {
	if n.Kind() != KindArray {
		return nil
	}
	return n.a
}

// Len returns the number of members or elements. Scalars and null have length 0.
func (n *Node) Len() int {
	switch n.Kind() {
	case KindObject:
		return len(n.o)
	case KindArray:
		return len(n.a)
	}
	return 0
}

// Keys returns the sorted member names of an object node.
func (n *Node) Keys() []string {
	if n.Kind() != KindObject {
		return nil
	}
	keys := make([]string, 0, len(n.o))
	for k := range n.o {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Set stores v under key. n must be an object node.
func (n *Node) Set(key string, v *Node) {
	if n.Kind() != KindObject {
		panic("state: Set on " + n.Kind().String() + " node")
	}
	n.o[key] = v
}

// Delete removes key from an object node.
func (n *Node) Delete(key string) {
	if n.Kind() == KindObject {
		delete(n.o, key)
	}
}

// Append adds items to an array node.
func (n *Node) Append(items ...*Node) {
	if n.Kind() != KindArray {
		panic("state: Append on " + n.Kind().String() + " node")
	}
	n.a = append(n.a, items...)
}

// Str returns the string value of n.
func (n *Node) Str() (string, bool) {
	if n.Kind() != KindString {
		return "", false
	}
	return n.s, true
}

// StringOr returns the string value of n, or def when n is not a string.
func (n *Node) StringOr(def string) string {
	if s, ok := n.Str(); ok {
		return s
	}
	return def
}

// Float64 returns the numeric value of n. Numeric strings are accepted.
func (n *Node) Float64() (float64, bool) {
	switch n.Kind() {
	case KindNumber:
		f, err := n.n.Float64()
		return f, err == nil
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(n.s), 64)
		return f, err == nil
	}
	return 0, false
}

// Bool returns the boolean value of n.
func (n *Node) Bool() (bool, bool) {
	if n.Kind() != KindBool {
		return false, false
	}
	return n.b, true
}

// Truthy reports true for the boolean true and for the string "true" in any case.
func (n *Node) Truthy() bool {
	if b, ok := n.Bool(); ok {
		return b
	}
	if s, ok := n.Str(); ok {
		return strings.EqualFold(s, "true")
	}
	return false
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{kind: n.kind, b: n.b, n: n.n, s: n.s}
	switch n.kind {
	case KindArray:
		c.a = make([]*Node, len(n.a))
		for i, item := range n.a {
			c.a[i] = item.Clone()
		}
	case KindObject:
		c.o = make(map[string]*Node, len(n.o))
		for k, v := range n.o {
			c.o[k] = v.Clone()
		}
	}
	return c
}

// Equal reports whether n and o hold the same tree. Numbers compare by value.
func (n *Node) Equal(o *Node) bool {
	if n.Kind() != o.Kind() {
		return false
	}
	switch n.Kind() {
	case KindNull:
		return true
	case KindBool:
		return n.b == o.b
	case KindString:
		return n.s == o.s
	case KindNumber:
		a, errA := n.n.Float64()
		b, errB := o.n.Float64()
		if errA != nil || errB != nil {
			return n.n == o.n
		}
		return a == b
	case KindArray:
		if len(n.a) != len(o.a) {
			return false
		}
		for i := range n.a {
			if !n.a[i].Equal(o.a[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(n.o) != len(o.o) {
			return false
		}
		for k, v := range n.o {
			ov, ok := o.o[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface converts n into plain Go values: map[string]any, []any,
// json.Number, string, bool or nil.
func (n *Node) Interface() any {
	switch n.Kind() {
	case KindBool:
		return n.b
	case KindNumber:
		return n.n
	case KindString:
		return n.s
	case KindArray:
		out := make([]any, len(n.a))
		for i, item := range n.a {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(n.o))
		for k, v := range n.o {
			out[k] = v.Interface()
		}
		return out
	}
	return nil
}

func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Interface())
}

func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

// String renders n as compact JSON.
func (n *Node) String() string {
	data, err := n.MarshalJSON()
	if err != nil {
		return "<invalid>"
	}
	return string(data)
}
