// Package txn applies plans to a workspace transactionally: every step is
// executed and validated, or the workspace is restored to its pre-plan
// snapshot.
package txn

import (
	"context"
	"time"

	"github.com/felixgeelhaar/stagehand/internal/domain"
	"github.com/felixgeelhaar/stagehand/internal/exec"
	"github.com/felixgeelhaar/stagehand/internal/plan"
	"github.com/felixgeelhaar/stagehand/internal/task"
)

// Validation is a validator's verdict on one step.
type Validation struct {
	Success bool   `json:"success"`
	Details string `json:"details,omitempty"`
}

// Validator checks a completed step. step.Validation holds every
// requirement that applies, plan-wide ones included. A returned error is
// treated like a failed validation.
type Validator interface {
	Validate(ctx context.Context, step plan.Step, result exec.TaskResult) (Validation, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, step plan.Step, result exec.TaskResult) (Validation, error)

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, step plan.Step, result exec.TaskResult) (Validation, error) {
	return f(ctx, step, result)
}

// StepResult is the outcome of one plan step.
type StepResult struct {
	StepID     string        `json:"step_id"`
	TaskID     domain.TaskID `json:"task_id"`
	Status     task.Status   `json:"status"`
	Output     exec.Output   `json:"output,omitempty"`
	Validation *Validation   `json:"validation,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// Result is the outcome of Runner.Run.
type Result struct {
	RunID       string        `json:"run_id"`
	PlanID      string        `json:"plan_id"`
	Success     bool          `json:"success"`
	RolledBack  bool          `json:"rolled_back"`
	Cancelled   bool          `json:"cancelled,omitempty"`
	FailingStep string        `json:"failing_step,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Steps       []StepResult  `json:"steps"`
	SnapshotID  string        `json:"snapshot_id"`
	Patches     []string      `json:"patches,omitempty"`
	Duration    time.Duration `json:"duration"`
	Report      *exec.Report  `json:"-"`
}

// Step returns the result for stepID.
func (r *Result) Step(stepID string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return StepResult{}, false
}

// Phase names a stage of a plan run.
type Phase string

const (
	PhaseSnapshot Phase = "snapshot"
	PhaseStep     Phase = "step"
	PhaseValidate Phase = "validate"
	PhaseRollback Phase = "rollback"
	PhaseCommit   Phase = "commit"
)

// Progress is reported while a plan runs. Step events carry the step and
// its status; Done counts finished steps out of Total.
type Progress struct {
	RunID  string      `json:"run_id"`
	PlanID string      `json:"plan_id"`
	Phase  Phase       `json:"phase"`
	StepID string      `json:"step_id,omitempty"`
	Status task.Status `json:"status,omitempty"`
	Reason string      `json:"reason,omitempty"`
	Done   int         `json:"done"`
	Total  int         `json:"total"`
}

// ProgressFunc receives progress events. It may be called from several
// goroutines and must not block.
type ProgressFunc func(Progress)
