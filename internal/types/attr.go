package types

import (
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
)

// Attr is a provenance token: every Field holding the same Attr represents
// the same logical column. Attrs are small integer handles minted by
// NewAttr; NoAttr marks a field whose provenance has not been computed.
type Attr uint32

// NoAttr is the zero Attr.
const NoAttr Attr = 0

var lastAttr atomic.Uint32

// NewAttr mints a process-wide unique Attr. Safe for concurrent use so that
// independent optimizers can share the process.
func NewAttr() Attr {
	return Attr(lastAttr.Add(1))
}

func (a Attr) String() string {
	if a == NoAttr {
		return "#-"
	}
	return "#" + strconv.FormatUint(uint64(a), 10)
}

// AttrSet is a sorted, duplicate-free set of attributes. The zero value is
// the empty set.
type AttrSet []Attr

// NewAttrSet builds a set from attrs, dropping NoAttr and duplicates.
func NewAttrSet(attrs ...Attr) AttrSet {
	s := make(AttrSet, 0, len(attrs))
	for _, a := range attrs {
		if a != NoAttr {
			s = append(s, a)
		}
	}
	slices.Sort(s)
	return slices.Compact(s)
}

// Contains reports whether a is in s.
func (s AttrSet) Contains(a Attr) bool {
	_, ok := slices.BinarySearch(s, a)
	return ok
}

// ContainsAll reports whether every attribute of o is in s.
func (s AttrSet) ContainsAll(o AttrSet) bool {
	for _, a := range o {
		if !s.Contains(a) {
			return false
		}
	}
	return true
}

// Union returns s ∪ o.
func (s AttrSet) Union(o AttrSet) AttrSet {
	return NewAttrSet(append(slices.Clone(s), o...)...)
}

// Minus returns s \ o.
func (s AttrSet) Minus(o AttrSet) AttrSet {
	out := make(AttrSet, 0, len(s))
	for _, a := range s {
		if !o.Contains(a) {
			out = append(out, a)
		}
	}
	return out
}

// Equal reports whether s and o hold the same attributes.
func (s AttrSet) Equal(o AttrSet) bool { return slices.Equal(s, o) }

func (s AttrSet) String() string {
	parts := make([]string, len(s))
	for i, a := range s {
		parts[i] = a.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}
