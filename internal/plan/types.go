// Package plan describes edit plans: ordered, dependency-annotated steps
// that a transactional runner applies to a workspace as one unit.
package plan

import (
	"github.com/felixgeelhaar/stagehand/internal/domain"
	"github.com/felixgeelhaar/stagehand/internal/snapshot"
)

// Status is the lifecycle state of a plan.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
)

// Change kinds understood by the built-in edit handlers.
const (
	KindWrite   = "write"
	KindAppend  = "append"
	KindReplace = "replace"
	KindDelete  = "delete"
)

// Plan represents a set of edits to apply atomically. ValidationSteps are
// requirement ids checked against every step. Unless Concurrent is set, a
// plan in which no step declares DependsOn runs its steps in order.
type Plan struct {
	ID              string   `json:"id" yaml:"id"`
	Description     string   `json:"description,omitempty" yaml:"description,omitempty"`
	Steps           []Step   `json:"steps" yaml:"steps"`
	RequiredChanges []string `json:"required_changes,omitempty" yaml:"required_changes,omitempty"`
	ValidationSteps []string `json:"validation_steps,omitempty" yaml:"validation_steps,omitempty"`
	Concurrent      bool     `json:"concurrent,omitempty" yaml:"concurrent,omitempty"`
	Rollback        Rollback `json:"rollback" yaml:"rollback"`
	Status          Status   `json:"status,omitempty" yaml:"status,omitempty"`
}

// Rollback records how to undo a plan.
type Rollback struct {
	SnapshotID string `json:"snapshot_id,omitempty" yaml:"snapshot_id,omitempty"`
}

// Step represents a single edit in the plan. Target is a
// workspace-relative path.
type Step struct {
	ID          string          `json:"id" yaml:"id"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Target      string          `json:"target" yaml:"target"`
	Change      Change          `json:"change" yaml:"change"`
	Impact      domain.Impact   `json:"impact,omitempty" yaml:"impact,omitempty"`
	Validation  []string        `json:"validation,omitempty" yaml:"validation,omitempty"`
	DependsOn   []string        `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Priority    domain.Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Change describes the edit a step makes. Kind selects the handler; the
// other fields are interpreted by it.
type Change struct {
	Kind    string `json:"kind" yaml:"kind"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
	Old     string `json:"old,omitempty" yaml:"old,omitempty"`
	New     string `json:"new,omitempty" yaml:"new,omitempty"`
}

// Step returns the step with id.
func (p *Plan) Step(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Region returns the normalized set of paths the plan claims: its
// RequiredChanges together with every step target. A required change naming
// the workspace root claims the whole workspace (nil). Paths that fail to
// normalize are ignored; Validate reports them.
func (p *Plan) Region() []string {
	paths := make([]string, 0, len(p.RequiredChanges)+len(p.Steps))
	for _, rc := range p.RequiredChanges {
		c, err := snapshot.CleanPath(rc)
		if err != nil {
			continue
		}
		if c == "" {
			return nil
		}
		paths = append(paths, c)
	}
	for _, s := range p.Steps {
		if c, err := snapshot.CleanPath(s.Target); err == nil && c != "" {
			paths = append(paths, c)
		}
	}
	region, _ := snapshot.NormalizeRegion(paths)
	return region
}

// HasDependencies reports whether any step declares DependsOn.
func (p *Plan) HasDependencies() bool {
	for _, s := range p.Steps {
		if len(s.DependsOn) > 0 {
			return true
		}
	}
	return false
}

// MaxImpact returns the highest impact among the steps.
func (p *Plan) MaxImpact() domain.Impact {
	highest := domain.ImpactMinimal
	for _, s := range p.Steps {
		if s.Impact.Rank() > highest.Rank() {
			highest = s.Impact
		}
	}
	return highest
}

// RequiresApproval reports whether any step is significant or critical.
func (p *Plan) RequiresApproval() bool {
	return p.MaxImpact().RequiresApproval()
}

// Requirements returns the requirement ids to check for s: the plan-wide
// validation steps followed by the step's own, without duplicates.
func (p *Plan) Requirements(s Step) []string {
	seen := make(map[string]bool)
	var reqs []string
	for _, list := range [][]string{p.ValidationSteps, s.Validation} {
		for _, r := range list {
			if !seen[r] {
				seen[r] = true
				reqs = append(reqs, r)
			}
		}
	}
	return reqs
}
