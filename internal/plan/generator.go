package plan

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/stagehand/internal/domain"
	"github.com/felixgeelhaar/stagehand/internal/snapshot"
)

// EditRequest is one requested change, before it is planned.
type EditRequest struct {
	Target      string          `json:"target" yaml:"target"`
	Change      Change          `json:"change" yaml:"change"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Validation  []string        `json:"validation,omitempty" yaml:"validation,omitempty"`
	Priority    domain.Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// GenerateOptions contains options for plan generation
type GenerateOptions struct {
	// ID is used as the plan id; a random one is generated when empty.
	ID          string
	Description string
	// ValidationSteps are applied to every generated step.
	ValidationSteps []string
	// EstimateImpact classifies each step from its change. Without it every
	// step is minimal.
	EstimateImpact bool
}

// Generate creates a Plan from requested edits. Steps are numbered in
// request order; a step depends on the closest earlier step whose target
// overlaps its own, so independent files can be edited concurrently.
func Generate(edits []EditRequest, opts GenerateOptions) (*Plan, error) {
	if len(edits) == 0 {
		return nil, fmt.Errorf("at least one edit is required")
	}

	id := opts.ID
	if id == "" {
		id = "plan-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}

	p := &Plan{
		ID:              id,
		Description:     opts.Description,
		ValidationSteps: opts.ValidationSteps,
		Concurrent:      true,
		Status:          StatusPending,
	}

	for i, edit := range edits {
		target, err := snapshot.CleanPath(edit.Target)
		if err != nil {
			return nil, fmt.Errorf("edit %d: %w", i+1, err)
		}

		step := Step{
			ID:          fmt.Sprintf("step-%03d", i+1),
			Description: edit.Description,
			Target:      target,
			Change:      edit.Change,
			Validation:  edit.Validation,
			DependsOn:   determineDependencies(p.Steps, target),
			Priority:    edit.Priority,
		}
		if step.Description == "" {
			step.Description = fmt.Sprintf("%s %s", edit.Change.Kind, target)
		}
		if opts.EstimateImpact {
			step.Impact = estimateImpact(edit.Change)
		}

		p.Steps = append(p.Steps, step)
		if !slices.Contains(p.RequiredChanges, target) {
			p.RequiredChanges = append(p.RequiredChanges, target)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// determineDependencies returns the last earlier step touching an
// overlapping path.
func determineDependencies(earlier []Step, target string) []string {
	for i := len(earlier) - 1; i >= 0; i-- {
		if snapshot.Overlaps([]string{earlier[i].Target}, []string{target}) {
			return []string{earlier[i].ID}
		}
	}
	return nil
}

// estimateImpact classifies a change by how much it can destroy.
func estimateImpact(c Change) domain.Impact {
	switch c.Kind {
	case KindDelete:
		return domain.ImpactSignificant
	case KindWrite:
		if strings.Count(c.Content, "\n") > 200 {
			return domain.ImpactSignificant
		}
		return domain.ImpactModerate
	case KindReplace:
		if strings.Contains(c.Old, "\n") {
			return domain.ImpactModerate
		}
		return domain.ImpactMinimal
	case KindAppend:
		return domain.ImpactMinimal
	default:
		return domain.ImpactModerate
	}
}
