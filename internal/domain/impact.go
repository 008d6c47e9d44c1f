package domain

import (
	"fmt"
	"strings"
)

// Impact classifies how disruptive a plan step is.
type Impact string

const (
	ImpactMinimal     Impact = "minimal"
	ImpactModerate    Impact = "moderate"
	ImpactSignificant Impact = "significant"
	ImpactCritical    Impact = "critical"
)

// ParseImpact parses an impact name. The empty string maps to ImpactMinimal.
func ParseImpact(value string) (Impact, error) {
	s := Impact(strings.ToLower(strings.TrimSpace(value)))
	if s == "" {
		return ImpactMinimal, nil
	}
	if err := s.Validate(); err != nil {
		return "", err
	}
	return s, nil
}

// Validate checks if the impact is one of the known levels. Empty is allowed.
func (i Impact) Validate() error {
	switch i {
	case "", ImpactMinimal, ImpactModerate, ImpactSignificant, ImpactCritical:
		return nil
	default:
		return fmt.Errorf("invalid impact %q: must be minimal, moderate, significant, or critical", string(i))
	}
}

// RequiresApproval reports whether a step with this impact should be
// confirmed by a person before it runs.
func (i Impact) RequiresApproval() bool {
	return i == ImpactSignificant || i == ImpactCritical
}

// Rank orders impacts from 1 (minimal) to 4 (critical). Empty counts as
// minimal; unknown values rank 0.
func (i Impact) Rank() int {
	switch i {
	case "", ImpactMinimal:
		return 1
	case ImpactModerate:
		return 2
	case ImpactSignificant:
		return 3
	case ImpactCritical:
		return 4
	}
	return 0
}

func (i Impact) String() string {
	if i == "" {
		return string(ImpactMinimal)
	}
	return string(i)
}
