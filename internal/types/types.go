// Package types provides the structural type descriptors attached to operator
// outputs: atomic scalars, arrays of tuples, and tuples of fields.
//
// A Field is one position of an operator's output tuple. Besides its type it
// carries an Attr (the provenance token shared by every field that represents
// the same logical column) and a set of Props maintained by the sortedness
// pass. Type equality only ever compares types; attributes and properties
// are annotations.
package types

import (
	"fmt"
	"strings"
)

// Kind enumerates the atomic scalar kinds, ordered by arithmetic rank.
type Kind uint8

const (
	Invalid Kind = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Float
	Double
)

var kindNames = [...]string{
	Invalid: "invalid",
	Bool:    "bool",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Float:   "float",
	Double:  "double",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsInteger reports whether k is one of the integer kinds.
func (k Kind) IsInteger() bool { return k >= Int8 && k <= Int64 }

// IsNumeric reports whether k supports arithmetic.
func (k Kind) IsNumeric() bool { return k >= Int8 && k <= Double }

// KindOf resolves an atomic type name.
func KindOf(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name && Kind(k) != Invalid {
			return Kind(k), true
		}
	}
	return Invalid, false
}

// Promote returns the arithmetic result kind of combining a and b.
func Promote(a, b Kind) Kind {
	k := max(a, b)
	if k == Bool {
		return Int8
	}
	return k
}

// Type is a field type: either an Atomic scalar or an Array of tuples.
type Type interface {
	String() string
	Equal(Type) bool
	isType()
}

// Atomic is a scalar type.
type Atomic struct {
	Kind Kind
}

func (Atomic) isType() {}

func (a Atomic) String() string { return a.Kind.String() }

// Equal implements Type.
func (a Atomic) Equal(o Type) bool {
	b, ok := o.(Atomic)
	return ok && a.Kind == b.Kind
}

// Array is a materialized collection of tuples.
type Array struct {
	Elem Tuple
}

func (Array) isType() {}

func (a Array) String() string { return "[" + a.Elem.String() + "]" }

// Equal implements Type.
func (a Array) Equal(o Type) bool {
	b, ok := o.(Array)
	return ok && a.Elem.Equal(b.Elem)
}

// IsAtomic reports whether t is a scalar type.
func IsAtomic(t Type) bool {
	_, ok := t.(Atomic)
	return ok
}

// Field is one position of a tuple.
type Field struct {
	Type  Type
	Attr  Attr
	Props Props
}

// Tuple is the output row type of an operator.
type Tuple []Field

// FromTypes builds a tuple of fresh fields (no attributes, no properties).
func FromTypes(ts ...Type) Tuple {
	t := make(Tuple, len(ts))
	for i, typ := range ts {
		t[i] = Field{Type: typ}
	}
	return t
}

// Concat returns the concatenation of the given tuples as a new tuple.
func Concat(ts ...Tuple) Tuple {
	var out Tuple
	for _, t := range ts {
		out = append(out, t.Clone()...)
	}
	if out == nil {
		out = Tuple{}
	}
	return out
}

func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, f := range t {
		if f.Type == nil {
			parts[i] = "?"
			continue
		}
		parts[i] = f.Type.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Types returns the field types of t.
func (t Tuple) Types() []Type {
	ts := make([]Type, len(t))
	for i, f := range t {
		ts[i] = f.Type
	}
	return ts
}

// Equal compares field types position by position.
func (t Tuple) Equal(o Tuple) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if t[i].Type == nil || o[i].Type == nil {
			if t[i].Type != o[i].Type {
				return false
			}
			continue
		}
		if !t[i].Type.Equal(o[i].Type) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of t.
func (t Tuple) Clone() Tuple {
	if t == nil {
		return nil
	}
	out := make(Tuple, len(t))
	for i, f := range t {
		out[i] = f
		if arr, ok := f.Type.(Array); ok {
			out[i].Type = Array{Elem: arr.Elem.Clone()}
		}
	}
	return out
}

// Attrs returns the set of attributes carried by t.
func (t Tuple) Attrs() AttrSet {
	attrs := make([]Attr, 0, len(t))
	for _, f := range t {
		if f.Attr != NoAttr {
			attrs = append(attrs, f.Attr)
		}
	}
	return NewAttrSet(attrs...)
}

// IndexOf returns the first position carrying attribute a, or -1.
func (t Tuple) IndexOf(a Attr) int {
	if a == NoAttr {
		return -1
	}
	for i, f := range t {
		if f.Attr == a {
			return i
		}
	}
	return -1
}

// Retype returns a tuple with the given field types. Attributes and
// properties of t survive at positions whose type is unchanged.
func (t Tuple) Retype(ts []Type) Tuple {
	out := make(Tuple, len(ts))
	for i, typ := range ts {
		out[i] = Field{Type: typ}
		if i < len(t) && t[i].Type != nil && typ != nil && t[i].Type.Equal(typ) {
			out[i].Attr = t[i].Attr
			out[i].Props = t[i].Props
		}
	}
	return out
}
