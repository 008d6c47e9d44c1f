package domain

import (
	"fmt"
	"strings"
)

// Priority orders ready tasks for dispatch. Higher priorities go first.
// The zero value is invalid; callers default to PriorityMedium.
type Priority int

// Valid priority levels, lowest first.
const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = []string{"", "low", "medium", "high", "critical"}

// ParsePriority parses a priority name (case-insensitive).
func ParsePriority(value string) (Priority, error) {
	s := strings.ToLower(strings.TrimSpace(value))
	for i := int(PriorityLow); i <= int(PriorityCritical); i++ {
		if priorityNames[i] == s {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("invalid priority %q: must be low, medium, high, or critical", value)
}

// Validate checks if the priority is valid
func (p Priority) Validate() error {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Errorf("invalid priority %d: must be low, medium, high, or critical", int(p))
	}
	return nil
}

// String returns the lowercase name, or "invalid" for out-of-range values.
func (p Priority) String() string {
	if p.Validate() != nil {
		return "invalid"
	}
	return priorityNames[p]
}

// Rank returns the numeric rank (higher = more important, 0 for invalid).
func (p Priority) Rank() int {
	if p.Validate() != nil {
		return 0
	}
	return int(p)
}

// IsHigherThan checks if this priority is higher than another
func (p Priority) IsHigherThan(other Priority) bool {
	return p.Rank() > other.Rank()
}

// IsLowerThan checks if this priority is lower than another
func (p Priority) IsLowerThan(other Priority) bool {
	return p.Rank() < other.Rank()
}

// OrDefault returns p, or PriorityMedium when p is unset.
func (p Priority) OrDefault() Priority {
	if p == 0 {
		return PriorityMedium
	}
	return p
}

// MarshalText encodes the priority by name for JSON and YAML. The unset
// priority encodes as the empty string.
func (p Priority) MarshalText() ([]byte, error) {
	if p == 0 {
		return []byte{}, nil
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a priority name.
func (p *Priority) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*p = 0
		return nil
	}
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
