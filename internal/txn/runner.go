package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/stagehand/internal/checkpoint"
	"github.com/felixgeelhaar/stagehand/internal/domain"
	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	"github.com/felixgeelhaar/stagehand/internal/exec"
	"github.com/felixgeelhaar/stagehand/internal/log"
	"github.com/felixgeelhaar/stagehand/internal/patch"
	"github.com/felixgeelhaar/stagehand/internal/plan"
	"github.com/felixgeelhaar/stagehand/internal/snapshot"
	"github.com/felixgeelhaar/stagehand/internal/task"
)

// DefaultMaxConcurrency is the step ceiling used when none is configured.
const DefaultMaxConcurrency = 5

// Runner applies plans to one workspace.
type Runner struct {
	ws        snapshot.Workspace
	store     *snapshot.Store
	registry  *task.Registry
	handlers  *exec.Handlers
	validator Validator

	maxConcurrency int
	grace          time.Duration
	keepSnapshots  bool
	retainTasks    bool
	locks          *RegionLocks
	checkpoints    *checkpoint.Manager
	patches        *patch.Writer
	progress       ProgressFunc
	logger         *log.Logger
	now            func() time.Time
	newRunID       func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxConcurrency sets how many steps may run at once.
func WithMaxConcurrency(n int) Option {
	return func(r *Runner) { r.maxConcurrency = n }
}

// WithCancelGrace sets how long a cancelled run waits for in-flight steps.
func WithCancelGrace(d time.Duration) Option {
	return func(r *Runner) { r.grace = d }
}

// WithKeepSnapshots keeps the pre-plan snapshot after the run finishes.
func WithKeepSnapshots(keep bool) Option {
	return func(r *Runner) { r.keepSnapshots = keep }
}

// WithRetainTasks leaves a run's tasks in the registry after Run returns.
// By default they are removed once the run finishes.
func WithRetainTasks(retain bool) Option {
	return func(r *Runner) { r.retainTasks = retain }
}

// WithLocks shares a lock table between runners over the same workspace.
func WithLocks(l *RegionLocks) Option {
	return func(r *Runner) { r.locks = l }
}

// WithCheckpoints records every run's state through mgr.
func WithCheckpoints(mgr *checkpoint.Manager) Option {
	return func(r *Runner) { r.checkpoints = mgr }
}

// WithPatches saves the patch of every changed step when a plan commits.
func WithPatches(w *patch.Writer) Option {
	return func(r *Runner) { r.patches = w }
}

// WithProgress reports progress events to fn.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) { r.progress = fn }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithRunIDGenerator overrides run id generation.
func WithRunIDGenerator(gen func() string) Option {
	return func(r *Runner) { r.newRunID = gen }
}

// NewRunner creates a runner. A nil validator accepts every completed step.
func NewRunner(ws snapshot.Workspace, store *snapshot.Store, registry *task.Registry, handlers *exec.Handlers, validator Validator, opts ...Option) *Runner {
	r := &Runner{
		ws:             ws,
		store:          store,
		registry:       registry,
		handlers:       handlers,
		validator:      validator,
		maxConcurrency: DefaultMaxConcurrency,
		grace:          exec.DefaultCancelGrace,
		now:            time.Now,
		newRunID:       func() string { return "run-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.locks == nil {
		r.locks = NewRegionLocks()
	}
	r.logger = log.OrNop(r.logger)
	return r
}

// run carries the state of one Run call.
type run struct {
	r      *Runner
	plan   *plan.Plan
	id     string
	logger *log.Logger
	result *Result

	stepOf map[domain.TaskID]plan.Step

	mu    sync.Mutex
	state *checkpoint.State
	done  int
}

// Run applies p. It validates the plan, locks and snapshots the region the
// plan touches, executes the steps as tasks, validates each completed step
// and then either commits or restores the snapshot.
//
// Step failures, blocked steps and failed validations are reported in the
// Result with a nil error. Structural problems with the plan are returned
// as errors before anything is touched. A cancelled run is rolled back and
// returns the Result together with an EXEC-002 error.
func (r *Runner) Run(ctx context.Context, p *plan.Plan) (*Result, error) {
	if p == nil {
		return nil, serr.NewInvalidArgumentError("plan is nil")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if r.maxConcurrency < 1 {
		return nil, serr.NewInvalidArgumentError(fmt.Sprintf("max concurrency must be at least 1, got %d", r.maxConcurrency))
	}
	if p.Status != "" && p.Status != plan.StatusPending {
		return nil, serr.NewPlanInvalidError(fmt.Sprintf("plan %s is already %s", p.ID, p.Status))
	}
	order, err := creationOrder(p)
	if err != nil {
		return nil, err
	}

	start := r.now()
	rn := &run{
		r:      r,
		plan:   p,
		id:     r.newRunID(),
		stepOf: make(map[domain.TaskID]plan.Step, len(p.Steps)),
	}
	rn.logger = r.logger.WithPlan(p.ID).With("run_id", rn.id)
	rn.result = &Result{RunID: rn.id, PlanID: p.ID}
	defer func() { rn.result.Duration = r.now().Sub(start) }()

	region := p.Region()
	release, err := r.locks.Acquire(ctx, region)
	if err != nil {
		return nil, serr.NewCancelledError(err)
	}
	defer release()

	rn.emit(Progress{Phase: PhaseSnapshot})
	snapID, err := r.store.Create(ctx, r.ws, region...)
	if err != nil {
		return nil, err
	}
	p.Rollback.SnapshotID = snapID
	rn.result.SnapshotID = snapID
	rn.logger.Info("plan started", "steps", len(p.Steps), "snapshot_id", snapID, "region", strings.Join(region, ","))

	rn.startCheckpoint(snapID)
	defer rn.forgetTasks()

	ids, err := rn.createTasks(order)
	if err != nil {
		rn.discard(snapID)
		rn.finishCheckpoint(checkpoint.StatusRolledBack, "", err.Error())
		return nil, err
	}

	ex := exec.New(r.registry, r.handlers,
		exec.WithLogger(rn.logger),
		exec.WithCancelGrace(r.grace),
		exec.WithHooks(rn.hooks()))
	report, execErr := ex.Execute(ctx, ids, r.maxConcurrency)
	rn.result.Report = report
	rn.collect(ids, report)

	failing, reason := rn.firstFailure(execErr)
	if failing == "" && reason == "" {
		failing, reason = rn.validate(ctx)
	}
	if reason == "" && ctx.Err() != nil {
		return rn.rollback(ctx, "", "run cancelled", serr.NewCancelledError(ctx.Err()))
	}
	if reason != "" {
		return rn.rollback(ctx, failing, reason, execErr)
	}
	return rn.commit()
}

// creationOrder lists step ids so every step follows its dependencies.
func creationOrder(p *plan.Plan) ([]string, error) {
	g, err := p.Graph()
	if err != nil {
		return nil, err
	}
	batches, err := g.Batches()
	if err != nil {
		return nil, err
	}
	var order []string
	for batch := range batches {
		order = append(order, batch...)
	}
	return order, nil
}

func (rn *run) createTasks(order []string) ([]domain.TaskID, error) {
	deps := rn.plan.Dependencies()
	taskOf := make(map[string]domain.TaskID, len(order))
	for _, stepID := range order {
		step, _ := rn.plan.Step(stepID)
		var taskDeps []domain.TaskID
		for _, d := range deps[stepID] {
			taskDeps = append(taskDeps, taskOf[d])
		}
		t, err := rn.r.registry.Create(task.NewTask{
			Title:        step.ID,
			Description:  step.Description,
			Kind:         step.Change.Kind,
			Priority:     step.Priority,
			Dependencies: taskDeps,
			Context: task.Context{
				Files:   []string{step.Target},
				Payload: step,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("create task for step %s: %w", stepID, err)
		}
		taskOf[stepID] = t.ID
		rn.stepOf[t.ID] = step
		rn.withState(func(s *checkpoint.State) { s.SetTaskID(stepID, string(t.ID)) })
	}

	ids := make([]domain.TaskID, 0, len(rn.plan.Steps))
	for _, s := range rn.plan.Steps {
		ids = append(ids, taskOf[s.ID])
	}
	return ids, nil
}

// forgetTasks drops the run's tasks from the registry unless the runner
// retains them.
func (rn *run) forgetTasks() {
	if rn.r.retainTasks || len(rn.stepOf) == 0 {
		return
	}
	ids := make([]domain.TaskID, 0, len(rn.stepOf))
	for id := range rn.stepOf {
		ids = append(ids, id)
	}
	if err := rn.r.registry.Remove(ids...); err != nil {
		rn.logger.WithError(err).Warn("could not remove finished tasks from the registry")
	}
}

func (rn *run) hooks() exec.Hooks {
	total := len(rn.plan.Steps)
	return exec.Hooks{
		Before: func(ctx context.Context, t task.Task) {
			step := rn.stepOf[t.ID]
			rn.withState(func(s *checkpoint.State) { s.UpdateStep(step.ID, string(task.StatusInProgress), nil) })
			rn.emit(Progress{Phase: PhaseStep, StepID: step.ID, Status: task.StatusInProgress, Total: total})
		},
		After: func(ctx context.Context, t task.Task, res exec.TaskResult) {
			step := rn.stepOf[t.ID]
			var stepErr error
			if res.Reason != "" {
				stepErr = errors.New(res.Reason)
			}
			rn.mu.Lock()
			rn.done++
			done := rn.done
			rn.mu.Unlock()
			rn.withState(func(s *checkpoint.State) { s.UpdateStep(step.ID, string(res.Status), stepErr) })
			rn.saveCheckpoint()
			rn.emit(Progress{Phase: PhaseStep, StepID: step.ID, Status: res.Status, Reason: res.Reason, Done: done, Total: total})
		},
	}
}

// collect fills the per-step results from the execution report.
func (rn *run) collect(ids []domain.TaskID, report *exec.Report) {
	for i, s := range rn.plan.Steps {
		sr := StepResult{StepID: s.ID, TaskID: ids[i], Status: task.StatusPlanned}
		if report != nil {
			if res, ok := report.Result(ids[i]); ok {
				sr.Status = res.Status
				sr.Output = res.Output
				sr.Reason = res.Reason
			}
		}
		if sr.Status == task.StatusBlocked {
			rn.withState(func(st *checkpoint.State) { st.UpdateStep(s.ID, string(task.StatusBlocked), errors.New(sr.Reason)) })
		}
		rn.result.Steps = append(rn.result.Steps, sr)
	}
}

// firstFailure returns the first failed step in plan order, else the first
// step that did not complete. A cancelled run names the first unfinished
// step.
func (rn *run) firstFailure(execErr error) (string, string) {
	if serr.HasCode(execErr, serr.ErrCodeCancelled) {
		for _, s := range rn.result.Steps {
			if s.Status != task.StatusCompleted {
				return s.StepID, "run cancelled"
			}
		}
		return "", "run cancelled"
	}
	if execErr != nil {
		return "", execErr.Error()
	}
	for _, s := range rn.result.Steps {
		if s.Status == task.StatusFailed {
			return s.StepID, "execution failed: " + s.Reason
		}
	}
	for _, s := range rn.result.Steps {
		if s.Status != task.StatusCompleted {
			return s.StepID, s.Reason
		}
	}
	return "", ""
}

// validate checks completed steps in plan order and stops at the first
// rejection.
func (rn *run) validate(ctx context.Context) (string, string) {
	if rn.r.validator == nil {
		return "", ""
	}
	total := len(rn.plan.Steps)
	for i := range rn.result.Steps {
		sr := &rn.result.Steps[i]
		step, _ := rn.plan.Step(sr.StepID)
		step.Validation = rn.plan.Requirements(step)

		res, _ := rn.result.Report.Result(sr.TaskID)
		v, err := rn.r.validator.Validate(ctx, step, *res)
		if err != nil {
			if ctx.Err() != nil {
				return sr.StepID, "run cancelled"
			}
			v = Validation{Success: false, Details: err.Error()}
		}
		sr.Validation = &v
		rn.emit(Progress{Phase: PhaseValidate, StepID: sr.StepID, Status: sr.Status, Reason: v.Details, Done: i + 1, Total: total})
		if !v.Success {
			reason := "validation failed"
			if v.Details != "" {
				reason += ": " + v.Details
			}
			sr.Reason = reason
			rn.logger.WithError(serr.NewValidationFailure(sr.StepID, v.Details)).Warn("step rejected")
			return sr.StepID, reason
		}
	}
	return "", ""
}

// rollback restores the snapshot. Restoration ignores cancellation of ctx.
func (rn *run) rollback(ctx context.Context, failing, reason string, execErr error) (*Result, error) {
	res := rn.result
	res.FailingStep = failing
	res.Reason = reason
	res.Cancelled = serr.HasCode(execErr, serr.ErrCodeCancelled) || ctx.Err() != nil

	rn.emit(Progress{Phase: PhaseRollback, StepID: failing, Reason: reason})
	rn.logger.Warn("rolling back plan", "failing_step", failing, "reason", reason)

	if err := rn.r.store.Restore(context.WithoutCancel(ctx), rn.r.ws, res.SnapshotID); err != nil {
		rn.logger.WithError(err).Error("rollback failed, workspace may be partially modified")
		rn.finishCheckpoint(checkpoint.StatusFailed, failing, "rollback failed: "+err.Error())
		return res, err
	}
	res.RolledBack = true
	rn.plan.Status = plan.StatusRolledBack
	rn.discard(res.SnapshotID)
	rn.finishCheckpoint(checkpoint.StatusRolledBack, failing, reason)
	rn.logger.Info("plan rolled back", "failing_step", failing)

	if res.Cancelled {
		if execErr != nil {
			return res, execErr
		}
		return res, serr.NewCancelledError(ctx.Err())
	}
	return res, nil
}

func (rn *run) commit() (*Result, error) {
	res := rn.result
	res.Success = true
	rn.plan.Status = plan.StatusCommitted
	res.Patches = rn.savePatches()
	rn.discard(res.SnapshotID)
	rn.finishCheckpoint(checkpoint.StatusCommitted, "", "")
	rn.emit(Progress{Phase: PhaseCommit, Done: len(res.Steps), Total: len(res.Steps)})
	rn.logger.Info("plan committed", "steps", len(res.Steps))
	return res, nil
}

// savePatches writes one patch file per step whose output changed a file.
// Failures are logged; the plan is already applied.
func (rn *run) savePatches() []string {
	if rn.r.patches == nil {
		return nil
	}
	var paths []string
	for _, sr := range rn.result.Steps {
		fp, ok := sr.Output.(patch.FilePatch)
		if !ok || fp.Status == "" {
			continue
		}
		step, _ := rn.plan.Step(sr.StepID)
		p := &patch.Patch{
			PlanID:      rn.plan.ID,
			StepID:      sr.StepID,
			StepKind:    step.Change.Kind,
			Timestamp:   rn.r.now(),
			Description: step.Description,
		}
		p.Add(fp)
		path, err := rn.r.patches.WritePatch(p)
		if err != nil {
			rn.logger.WithError(err).Warn("could not save patch", "step_id", sr.StepID)
			continue
		}
		paths = append(paths, path)
		rn.withState(func(s *checkpoint.State) { s.AddArtifact(sr.StepID, path) })
	}
	return paths
}

func (rn *run) discard(snapID string) {
	if rn.r.keepSnapshots {
		return
	}
	if err := rn.r.store.Discard(snapID); err != nil {
		rn.logger.WithSnapshot(snapID).WithError(err).Warn("could not discard snapshot")
	}
}

func (rn *run) emit(p Progress) {
	if rn.r.progress == nil {
		return
	}
	p.RunID = rn.id
	p.PlanID = rn.plan.ID
	rn.r.progress(p)
}

func (rn *run) startCheckpoint(snapID string) {
	if rn.r.checkpoints == nil {
		return
	}
	ids := make([]string, 0, len(rn.plan.Steps))
	for _, s := range rn.plan.Steps {
		ids = append(ids, s.ID)
	}
	state := checkpoint.NewState(rn.id, rn.plan.ID, ids)
	state.SnapshotID = snapID
	state.SetMetadata("region", strings.Join(rn.plan.Region(), ","))

	rn.mu.Lock()
	rn.state = state
	rn.mu.Unlock()
	rn.saveCheckpoint()
}

func (rn *run) withState(fn func(*checkpoint.State)) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.state != nil {
		fn(rn.state)
	}
}

func (rn *run) saveCheckpoint() {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.state == nil {
		return
	}
	if err := rn.r.checkpoints.Save(rn.state); err != nil {
		rn.logger.WithError(err).Warn("could not save checkpoint")
	}
}

func (rn *run) finishCheckpoint(status, failing, reason string) {
	rn.withState(func(s *checkpoint.State) { s.Finish(status, failing, reason) })
	rn.saveCheckpoint()
}
