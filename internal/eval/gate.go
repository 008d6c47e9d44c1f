// Package eval validates completed plan steps against named checks.
package eval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	"github.com/felixgeelhaar/stagehand/internal/exec"
	"github.com/felixgeelhaar/stagehand/internal/log"
	"github.com/felixgeelhaar/stagehand/internal/plan"
	"github.com/felixgeelhaar/stagehand/internal/snapshot"
	"github.com/felixgeelhaar/stagehand/internal/task"
	"github.com/felixgeelhaar/stagehand/internal/txn"
)

// Gate runs a step's validation requirements against the workspace.
type Gate struct {
	ws     snapshot.Workspace
	dir    string
	logger *log.Logger
	now    func() time.Time

	mu     sync.RWMutex
	checks map[string]Check
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithDir sets the on-disk workspace directory used by command checks.
func WithDir(dir string) GateOption {
	return func(g *Gate) { g.dir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// NewGate returns a gate with the built-in checks registered.
func NewGate(ws snapshot.Workspace, opts ...GateOption) *Gate {
	g := &Gate{ws: ws, now: time.Now, checks: builtinChecks()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = log.OrNop(g.logger)
	return g
}

// Register adds a named check. Built-in names cannot be replaced.
func (g *Gate) Register(name string, check Check) error {
	if name == "" || check == nil {
		return serr.NewInvalidArgumentError("check needs a name and a function")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.checks[name]; ok {
		return serr.NewInvalidArgumentError(fmt.Sprintf("check %q is already registered", name))
	}
	g.checks[name] = check
	return nil
}

// Checks returns the registered check names, sorted.
func (g *Gate) Checks() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.checks))
	for name := range g.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate runs every requirement in step.Validation, in order.
func (g *Gate) Evaluate(ctx context.Context, step plan.Step) (*GateReport, error) {
	start := g.now()
	report := &GateReport{StepID: step.ID}

	for _, raw := range step.Validation {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req := ParseRequirement(raw)
		report.Checks = append(report.Checks, g.run(ctx, step, req))
	}

	for _, c := range report.Checks {
		if c.Passed {
			report.TotalPassed++
		} else {
			report.TotalFailed++
		}
	}
	report.AllPassed = report.TotalFailed == 0
	report.Duration = g.now().Sub(start)
	return report, nil
}

func (g *Gate) run(ctx context.Context, step plan.Step, req Requirement) CheckResult {
	start := g.now()
	result := CheckResult{Name: req.String()}

	g.mu.RLock()
	check, ok := g.checks[req.Name]
	g.mu.RUnlock()
	if !ok {
		result.Message = fmt.Sprintf("unknown check %q", req.Name)
		result.Duration = g.now().Sub(start)
		return result
	}

	passed, msg, err := check(ctx, Input{Workspace: g.ws, Step: step, Arg: req.Arg, Dir: g.dir})
	result.Passed = passed && err == nil
	result.Message = msg
	if err != nil {
		result.Message = err.Error()
	}
	result.Duration = g.now().Sub(start)
	g.logger.Debug("check finished", "step_id", step.ID, "check", result.Name, "passed", result.Passed)
	return result
}

// Validate implements txn.Validator. A step that did not complete fails
// without running any check.
func (g *Gate) Validate(ctx context.Context, step plan.Step, res exec.TaskResult) (txn.Validation, error) {
	if res.Status != task.StatusCompleted {
		return txn.Validation{Success: false, Details: fmt.Sprintf("step is %s, not completed", res.Status)}, nil
	}
	report, err := g.Evaluate(ctx, step)
	if err != nil {
		return txn.Validation{}, err
	}
	if !report.AllPassed {
		return txn.Validation{Success: false, Details: report.Failures()}, nil
	}
	return txn.Validation{Success: true}, nil
}
