package plan

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/stagehand/internal/domain"
	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	"github.com/felixgeelhaar/stagehand/internal/snapshot"
)

// Validate checks if the Step is well formed on its own
func (s *Step) Validate() error {
	// Step ids become task titles and graph nodes
	if _, err := domain.ParseTaskID(s.ID); err != nil {
		return fmt.Errorf("invalid step ID: %w", err)
	}

	target, err := snapshot.CleanPath(s.Target)
	if err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}
	if target == "" {
		return fmt.Errorf("target cannot be empty")
	}

	if strings.TrimSpace(s.Change.Kind) == "" {
		return fmt.Errorf("change kind cannot be empty")
	}
	if s.Change.Kind == KindReplace && s.Change.Old == "" {
		return fmt.Errorf("replace change needs the text to replace")
	}

	if err := s.Impact.Validate(); err != nil {
		return err
	}
	if s.Priority != 0 {
		if err := s.Priority.Validate(); err != nil {
			return fmt.Errorf("invalid priority: %w", err)
		}
	}

	for i, dep := range s.DependsOn {
		if dep == s.ID {
			return fmt.Errorf("step depends on itself")
		}
		if strings.TrimSpace(dep) == "" {
			return fmt.Errorf("dependency at index %d is empty", i)
		}
	}

	for i, req := range s.Validation {
		if strings.TrimSpace(req) == "" {
			return fmt.Errorf("validation requirement at index %d is empty", i)
		}
	}
	return nil
}

// Validate checks the plan's structure: step shape, unique ids, known and
// acyclic dependencies. It never touches a workspace.
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return serr.NewPlanInvalidError("plan id cannot be empty")
	}
	if len(p.Steps) == 0 {
		return serr.NewPlanInvalidError("plan must have at least one step")
	}
	switch p.Status {
	case "", StatusPending, StatusCommitted, StatusRolledBack:
	default:
		return serr.NewPlanInvalidError(fmt.Sprintf("unknown plan status %q", p.Status))
	}

	stepIDs := make(map[string]bool)
	for i, step := range p.Steps {
		if err := step.Validate(); err != nil {
			return serr.NewPlanInvalidError(fmt.Sprintf("step at index %d (%s) is invalid: %v", i, step.ID, err))
		}
		if stepIDs[step.ID] {
			return serr.NewPlanInvalidError(fmt.Sprintf("duplicate step ID %q at index %d", step.ID, i))
		}
		stepIDs[step.ID] = true
	}

	for i, step := range p.Steps {
		for _, dep := range step.DependsOn {
			if !stepIDs[dep] {
				return serr.NewPlanInvalidError(fmt.Sprintf("step at index %d (%s) depends on %q, which is not in the plan", i, step.ID, dep))
			}
		}
	}

	for i, rc := range p.RequiredChanges {
		if strings.TrimSpace(rc) == "" {
			return serr.NewPlanInvalidError(fmt.Sprintf("required change at index %d is empty", i))
		}
		if _, err := snapshot.CleanPath(rc); err != nil {
			return serr.NewPlanInvalidError(fmt.Sprintf("required change at index %d is invalid: %v", i, err))
		}
	}

	for i, req := range p.ValidationSteps {
		if strings.TrimSpace(req) == "" {
			return serr.NewPlanInvalidError(fmt.Sprintf("plan validation step at index %d is empty", i))
		}
	}

	return p.checkCircularDependencies()
}

// checkCircularDependencies detects cycles in the step dependency graph
func (p *Plan) checkCircularDependencies() error {
	deps := make(map[string][]string, len(p.Steps))
	for _, step := range p.Steps {
		deps[step.ID] = step.DependsOn
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dep := range deps[id] {
			if !visited[dep] {
				if err := visit(dep, path); err != nil {
					return err
				}
			} else if onStack[dep] {
				cycle := append(path, dep)
				return serr.NewCyclicDependencyError(id, dep, cycle).
					WithSuggestion("Run 'stagehand plan graph <file>' to inspect step dependencies")
			}
		}

		onStack[id] = false
		return nil
	}

	for _, step := range p.Steps {
		if !visited[step.ID] {
			if err := visit(step.ID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
