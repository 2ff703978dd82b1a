// Package shape models the requested shape of a query: the tree of fields a
// caller wants back, derived from a query definition by stripping operation
// syntax and parameters.
package shape

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/hanpama/hurdles/internal/querykey"
)

type Kind uint8

const (
	// Field is a requested leaf, written as null in the query.
	Field Kind = iota
	// Const is a literal constant. Literal arrays are constants too.
	Const
	// Object selects named children.
	Object
	// Many is the fan-out marker of a collection operation: every element
	// must match Elem.
	Many
)

func (k Kind) String() string {
	switch k {
	case Field:
		return "field"
	case Const:
		return "const"
	case Object:
		return "object"
	case Many:
		return "many"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Shape is one node of a requested shape. A nil *Shape behaves like a Field.
type Shape struct {
	Kind   Kind
	Value  any               // Const
	Fields map[string]*Shape // Object
	Elem   *Shape            // Many
}

func NewField() *Shape           { return &Shape{Kind: Field} }
func NewConst(v any) *Shape      { return &Shape{Kind: Const, Value: v} }
func NewMany(elem *Shape) *Shape { return &Shape{Kind: Many, Elem: elem} }

func NewObject(fields map[string]*Shape) *Shape {
	if fields == nil {
		fields = map[string]*Shape{}
	}
	return &Shape{Kind: Object, Fields: fields}
}

func (s *Shape) kind() Kind {
	if s == nil {
		return Field
	}
	return s.Kind
}

// IsEmpty reports whether s requests nothing below itself: a leaf or an
// object without fields.
func (s *Shape) IsEmpty() bool {
	switch s.kind() {
	case Object:
		return len(s.Fields) == 0
	case Many:
		return s.Elem.IsEmpty()
	default:
		return true
	}
}

// Keys returns the object keys in sorted order.
func (s *Shape) Keys() []string {
	if s.kind() != Object {
		return nil
	}
	keys := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Extract derives the shape of a query definition subtree.
func Extract(def any) *Shape {
	switch v := def.(type) {
	case nil:
		return NewField()
	case map[string]any:
		fields := make(map[string]*Shape, len(v))
		for key, value := range v {
			if key == querykey.ParamsKey {
				continue
			}
			if k, ok := querykey.Parse(key); ok {
				fields[k.Name] = ExtractOperation(value, k.Collection)
				continue
			}
			fields[key] = Extract(value)
		}
		return NewObject(fields)
	default:
		return NewConst(v)
	}
}

// ExtractOperation derives the shape an operation key is responsible for.
// Collection operations yield Many(inner).
func ExtractOperation(def any, collection bool) *Shape {
	inner := Extract(def)
	if collection {
		return NewMany(inner)
	}
	return inner
}

// Raw converts s back into the plain tree handed to handlers: nil for
// fields, the literal for constants, maps for objects and a one-element
// slice for Many.
func (s *Shape) Raw() any {
	switch s.kind() {
	case Field:
		return nil
	case Const:
		return s.Value
	case Object:
		out := make(map[string]any, len(s.Fields))
		for k, f := range s.Fields {
			out[k] = f.Raw()
		}
		return out
	case Many:
		return []any{s.Elem.Raw()}
	}
	return nil
}

// Union returns a shape requesting every field requested by a or b. Inputs
// are not modified.
func Union(a, b *Shape) *Shape {
	if a == nil {
		return b.Clone()
	}
	if b == nil {
		return a.Clone()
	}
	switch {
	case a.Kind == Object && b.Kind == Object:
		fields := make(map[string]*Shape, len(a.Fields)+len(b.Fields))
		for k, f := range a.Fields {
			fields[k] = f.Clone()
		}
		for k, f := range b.Fields {
			if existing, ok := fields[k]; ok {
				fields[k] = Union(existing, f)
			} else {
				fields[k] = f.Clone()
			}
		}
		return NewObject(fields)
	case a.Kind == Many && b.Kind == Many:
		return NewMany(Union(a.Elem, b.Elem))
	case isLeaf(a) && isLeaf(b):
		if a.Kind == Const && b.Kind == Field {
			return b.Clone()
		}
		return a.Clone()
	case isLeaf(b):
		return a.Clone()
	default:
		// a is a leaf, or object and many disagree: the later request wins.
		return b.Clone()
	}
}

func isLeaf(s *Shape) bool {
	k := s.kind()
	return k == Field || k == Const
}

// Covers reports whether a handler invoked with have already produced every
// field want asks for.
func Covers(have, want *Shape) bool {
	switch want.kind() {
	case Field, Const:
		return true
	case Object:
		if have.kind() != Object {
			return false
		}
		for k, f := range want.Fields {
			h, ok := have.Fields[k]
			if !ok || !Covers(h, f) {
				return false
			}
		}
		return true
	case Many:
		return have.kind() == Many && Covers(have.Elem, want.Elem)
	}
	return false
}

// Clone returns a deep copy of s. Constant values are shared.
func (s *Shape) Clone() *Shape {
	if s == nil {
		return nil
	}
	c := &Shape{Kind: s.Kind, Value: s.Value}
	if s.Fields != nil {
		c.Fields = make(map[string]*Shape, len(s.Fields))
		for k, f := range s.Fields {
			c.Fields[k] = f.Clone()
		}
	}
	if s.Elem != nil {
		c.Elem = s.Elem.Clone()
	}
	return c
}

// Equal reports structural equality, comparing constants with
// reflect.DeepEqual.
func (s *Shape) Equal(o *Shape) bool {
	if s.kind() != o.kind() {
		return false
	}
	switch s.kind() {
	case Const:
		return reflect.DeepEqual(s.Value, o.Value)
	case Object:
		if len(s.Fields) != len(o.Fields) {
			return false
		}
		for k, f := range s.Fields {
			g, ok := o.Fields[k]
			if !ok || !f.Equal(g) {
				return false
			}
		}
		return true
	case Many:
		return s.Elem.Equal(o.Elem)
	}
	return true
}

// String renders s compactly for error messages, e.g. {id name posts:[{id}]}.
func (s *Shape) String() string {
	var b strings.Builder
	s.write(&b)
	return b.String()
}

func (s *Shape) write(b *strings.Builder) {
	switch s.kind() {
	case Field:
		b.WriteString("null")
	case Const:
		fmt.Fprintf(b, "%v", s.Value)
	case Many:
		b.WriteByte('[')
		s.Elem.write(b)
		b.WriteByte(']')
	case Object:
		b.WriteByte('{')
		for i, k := range s.Keys() {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(k)
			f := s.Fields[k]
			if f.kind() == Field {
				continue
			}
			b.WriteByte(':')
			f.write(b)
		}
		b.WriteByte('}')
	}
}
