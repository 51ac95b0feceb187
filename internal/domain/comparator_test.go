package domain

import "testing"

func TestComparatorTable(t *testing.T) {
	cases := []struct {
		comp             Comparator
		observed, target int64
		want             bool
	}{
		{CompLT, 1, 2, true},
		{CompLT, 2, 2, false},
		{CompLT, 3, 2, false},
		{CompLE, 1, 2, true},
		{CompLE, 2, 2, true},
		{CompLE, 3, 2, false},
		{CompEQ, 2, 2, true},
		{CompEQ, 1, 2, false},
		{CompNE, 1, 2, true},
		{CompNE, 2, 2, false},
		{CompGE, 3, 2, true},
		{CompGE, 2, 2, true},
		{CompGE, 1, 2, false},
		{CompGT, 3, 2, true},
		{CompGT, 2, 2, false},
		{CompGT, 1, 2, false},
		// negative values behave like any other integers
		{CompLT, -5, -1, true},
		{CompGT, -1, -5, true},
		{CompLE, -3, -3, true},
		{CompEQ, -3, -3, true},
	}
	for _, tc := range cases {
		if got := tc.comp.Evaluate(tc.observed, tc.target); got != tc.want {
			t.Errorf("%s: Evaluate(%d, %d) = %v, want %v", tc.comp, tc.observed, tc.target, got, tc.want)
		}
	}
}

func TestParseComparator(t *testing.T) {
	for _, s := range []string{"lt", "le", "eq", "ne", "ge", "gt"} {
		c, err := ParseComparator(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if string(c) != s {
			t.Fatalf("parse %q returned %q", s, c)
		}
	}
	for _, s := range []string{"", "LT", "lte", "equals", "<="} {
		if _, err := ParseComparator(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestUnknownComparatorNeverPasses(t *testing.T) {
	if Comparator("bogus").Evaluate(1, 1) {
		t.Fatal("unknown comparator must not evaluate as pass")
	}
}
