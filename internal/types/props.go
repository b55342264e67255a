package types

import "strings"

// Props is the set of ordering properties known to hold for a field.
type Props uint8

const (
	// Sorted means the field's values arrive in ascending order.
	Sorted Props = 1 << iota
	// Grouped means equal values arrive contiguously.
	Grouped
	// Unique means no value appears twice.
	Unique
)

// NoProps is the empty property set.
const NoProps Props = 0

// Has reports whether every property of q is set in p.
func (p Props) Has(q Props) bool { return p&q == q }

// Close applies the closure rule: Unique or Sorted implies Grouped.
func (p Props) Close() Props {
	if p&(Sorted|Unique) != 0 {
		p |= Grouped
	}
	return p
}

func (p Props) String() string {
	var parts []string
	if p.Has(Sorted) {
		parts = append(parts, "sorted")
	}
	if p.Has(Grouped) {
		parts = append(parts, "grouped")
	}
	if p.Has(Unique) {
		parts = append(parts, "unique")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}
