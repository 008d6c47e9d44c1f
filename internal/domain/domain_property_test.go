package domain

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func genValidPriority() *rapid.Generator[Priority] {
	return rapid.SampledFrom([]Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical})
}

// TestPriority_RoundTripThroughString tests that priorities survive String/Parse
func TestPriority_RoundTripThroughString(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := genValidPriority().Draw(t, "priority")

		got, err := ParsePriority(p.String())
		if err != nil {
			t.Fatalf("round-trip should not produce error: %v", err)
		}
		if got != p {
			t.Fatalf("round-trip should preserve value: %v != %v", got, p)
		}
	})
}

// TestPriority_TotalOrder tests that exactly one of higher/lower/equal holds
func TestPriority_TotalOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genValidPriority().Draw(t, "a")
		b := genValidPriority().Draw(t, "b")

		n := 0
		if a.IsHigherThan(b) {
			n++
		}
		if a.IsLowerThan(b) {
			n++
		}
		if a == b {
			n++
		}
		if n != 1 {
			t.Fatalf("expected exactly one relation between %v and %v, got %d", a, b, n)
		}
		if a.IsHigherThan(b) != b.IsLowerThan(a) {
			t.Fatalf("ordering not antisymmetric for %v, %v", a, b)
		}
	})
}

// TestPriority_OutOfRangeInvalid tests that every integer outside 1..4 fails validation
func TestPriority_OutOfRangeInvalid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.OneOf(rapid.IntRange(-1000, 0), rapid.IntRange(5, 1000)).Draw(t, "n")
		if err := Priority(n).Validate(); err == nil {
			t.Fatalf("priority %d should be invalid", n)
		}
	})
}

// TestTaskID_GeneratedIDsValidate tests that generated ids are well formed and distinct
func TestTaskID_GeneratedIDsValidate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 50).Draw(t, "n")
		seen := make(map[TaskID]bool, n)
		for range n {
			id := NewTaskID()
			if err := id.Validate(); err != nil {
				t.Fatalf("generated id %q should validate: %v", id, err)
			}
			if !strings.HasPrefix(string(id), "task-") || len(id) != len("task-")+8 {
				t.Fatalf("unexpected id shape %q", id)
			}
			seen[id] = true
		}
		if len(seen) != n {
			t.Fatalf("expected %d distinct ids, got %d", n, len(seen))
		}
	})
}

// TestTaskID_ParseAcceptsPattern tests that ids matching the pattern parse unchanged
func TestTaskID_ParseAcceptsPattern(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[a-z][a-z0-9_-]{0,40}`).Draw(t, "id")
		id, err := ParseTaskID(s)
		if err != nil {
			t.Fatalf("id %q should parse: %v", s, err)
		}
		if id.String() != s {
			t.Fatalf("parse changed %q to %q", s, id)
		}
	})
}

// TestTaskID_ParseRejectsBadStart tests that ids not starting with a letter are rejected
func TestTaskID_ParseRejectsBadStart(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[0-9_A-Z-][a-z0-9]{0,10}`).Draw(t, "id")
		if _, err := ParseTaskID(s); err == nil {
			t.Fatalf("id %q should be rejected", s)
		}
	})
}
