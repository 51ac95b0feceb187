package domain

import "fmt"

// Comparator defines how an observed value is judged against an SLA target.
type Comparator string

const (
	CompLT Comparator = "lt"
	CompLE Comparator = "le"
	CompEQ Comparator = "eq"
	CompNE Comparator = "ne"
	CompGE Comparator = "ge"
	CompGT Comparator = "gt"
)

// ParseComparator returns the comparator for s or an error for anything
// outside the closed set.
func ParseComparator(s string) (Comparator, error) {
	switch c := Comparator(s); c {
	case CompLT, CompLE, CompEQ, CompNE, CompGE, CompGT:
		return c, nil
	}
	return "", fmt.Errorf("unknown comparator %q", s)
}

// Evaluate reports whether observed satisfies the comparator against
// target. Exact integer comparison, no tolerance.
func (c Comparator) Evaluate(observed, target int64) bool {
	switch c {
	case CompLT:
		return observed < target
	case CompLE:
		return observed <= target
	case CompEQ:
		return observed == target
	case CompNE:
		return observed != target
	case CompGE:
		return observed >= target
	case CompGT:
		return observed > target
	}
	// comparators are validated at every entry point; an unknown kind
	// here is a decoding bug and must never read as a pass
	return false
}
