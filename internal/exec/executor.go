// Package exec runs registry tasks through per-kind handlers with a bounded
// number of tasks in progress at once.
package exec

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/felixgeelhaar/stagehand/internal/domain"
	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	"github.com/felixgeelhaar/stagehand/internal/log"
	"github.com/felixgeelhaar/stagehand/internal/task"
)

// DefaultCancelGrace is how long a cancelled run waits for in-flight
// handlers to return.
const DefaultCancelGrace = 10 * time.Second

// Executor dispatches tasks held in a task.Registry.
type Executor struct {
	registry *task.Registry
	handlers *Handlers
	hooks    Hooks
	grace    time.Duration
	now      func() time.Time
	logger   *log.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithHooks installs hooks around every handler call.
func WithHooks(h Hooks) Option {
	return func(e *Executor) { e.hooks = h }
}

// WithCancelGrace sets how long cancellation waits for in-flight handlers.
func WithCancelGrace(d time.Duration) Option {
	return func(e *Executor) { e.grace = d }
}

// WithClock overrides the time source used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an executor over registry dispatching through handlers.
func New(registry *task.Registry, handlers *Handlers, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		handlers: handlers,
		grace:    DefaultCancelGrace,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.handlers == nil {
		e.handlers = NewHandlers()
	}
	e.logger = log.OrNop(e.logger)
	return e
}

// outcome is what a worker reports back to the dispatcher.
type outcome struct {
	id     domain.TaskID
	output Output
	err    error
}

// run is the state of one Execute call. Only the dispatcher goroutine
// touches it.
type run struct {
	e      *Executor
	ctx    context.Context
	report *Report

	tasks     map[domain.TaskID]task.Task
	requested map[domain.TaskID]bool
	pending   map[domain.TaskID]bool
	ready     []domain.TaskID
	inFlight  map[domain.TaskID]*TaskResult

	sem        *semaphore.Weighted
	done       chan outcome
	workCtx    context.Context
	cancelWork context.CancelFunc
}

// Execute runs the requested tasks to completion, honoring their
// dependencies, with at most maxConcurrency of them in progress at any
// instant. Tasks whose dependencies fail, or depend on work that is neither
// completed nor requested, end up blocked. Execute returns once every
// requested task is terminal or blocked.
//
// A failing task is recorded in the report, not returned as an error. The
// error is non-nil for invalid arguments, unknown task ids and
// cancellation; in the latter case the partial report is returned as well.
func (e *Executor) Execute(ctx context.Context, ids []domain.TaskID, maxConcurrency int) (*Report, error) {
	if maxConcurrency < 1 {
		return nil, serr.NewInvalidArgumentError(fmt.Sprintf("max concurrency must be at least 1, got %d", maxConcurrency))
	}

	r := &run{
		e:         e,
		ctx:       ctx,
		report:    &Report{Results: make(map[domain.TaskID]*TaskResult)},
		tasks:     make(map[domain.TaskID]task.Task, len(ids)),
		requested: make(map[domain.TaskID]bool, len(ids)),
		pending:   make(map[domain.TaskID]bool, len(ids)),
		inFlight:  make(map[domain.TaskID]*TaskResult),
		sem:       semaphore.NewWeighted(int64(maxConcurrency)),
		done:      make(chan outcome, len(ids)),
	}
	for _, id := range ids {
		if r.requested[id] {
			continue
		}
		t, err := e.registry.Get(id)
		if err != nil {
			return nil, err
		}
		if t.Status == task.StatusInProgress {
			return nil, serr.NewInvalidArgumentError(fmt.Sprintf("task %s is already in progress", id))
		}
		r.tasks[id] = t
		r.requested[id] = true
		r.pending[id] = true
		r.report.Requested = append(r.report.Requested, id)
	}

	r.workCtx, r.cancelWork = context.WithCancel(ctx)
	defer r.cancelWork()

	r.report.StartTime = e.now()
	e.logger.Info("execution started", "tasks", len(r.report.Requested), "max_concurrency", maxConcurrency)

	err := r.loop()

	r.report.EndTime = e.now()
	r.report.AllSucceeded = len(r.report.Completed()) == len(r.report.Requested)
	e.logger.Info("execution finished",
		"completed", len(r.report.Completed()),
		"failed", len(r.report.Failed()),
		"blocked", len(r.report.Blocked()),
		"cancelled", r.report.Cancelled,
		"duration", r.report.Duration())
	return r.report, err
}

func (r *run) loop() error {
	for {
		if err := r.ctx.Err(); err != nil {
			return r.cancel(err)
		}
		r.resolve()
		r.dispatch()

		if len(r.inFlight) == 0 {
			// Nothing running and nothing dispatchable: whatever is left can
			// never become ready.
			r.blockRemaining("blocked: dependencies never resolved")
			return nil
		}

		select {
		case o := <-r.done:
			r.complete(o)
		case <-r.ctx.Done():
			return r.cancel(r.ctx.Err())
		}
	}
}

// resolve settles pending tasks until nothing changes: terminal ones are
// recorded, unsatisfiable ones are blocked, satisfiable ones join the
// ready queue.
func (r *run) resolve() {
	for changed := true; changed; {
		changed = false
		for _, id := range r.pendingIDs() {
			t, err := r.e.registry.Get(id)
			if err != nil {
				r.settle(id, task.StatusBlocked, err.Error())
				changed = true
				continue
			}
			if t.Status.IsTerminal() {
				r.settle(id, t.Status, "")
				changed = true
				continue
			}

			waiting, reason := r.classify(t)
			switch {
			case reason != "":
				r.block(t, reason)
				changed = true
			case waiting:
			default:
				if t.Status != task.StatusReady {
					if err := r.e.registry.Transition(id, task.StatusReady); err != nil {
						r.block(t, err.Error())
						changed = true
						continue
					}
				}
				delete(r.pending, id)
				r.ready = append(r.ready, id)
				changed = true
			}
		}
	}
	slices.SortFunc(r.ready, r.less)
}

// classify reports whether t still waits on requested work, or the reason
// it can never run.
func (r *run) classify(t task.Task) (waiting bool, reason string) {
	for _, dep := range t.Dependencies {
		d, err := r.e.registry.Get(dep)
		if err != nil {
			return false, err.Error()
		}
		switch {
		case d.Status == task.StatusCompleted:
		case d.Status == task.StatusFailed:
			return false, fmt.Sprintf("blocked: dependency %s failed", dep)
		case !r.requested[dep]:
			return false, fmt.Sprintf("blocked: dependency %s is %s and not part of this run", dep, d.Status)
		case r.settledBlocked(dep):
			return false, fmt.Sprintf("blocked: dependency %s is blocked", dep)
		default:
			waiting = true
		}
	}
	return waiting, ""
}

func (r *run) settledBlocked(id domain.TaskID) bool {
	res, ok := r.report.Results[id]
	return ok && res.Status == task.StatusBlocked
}

// block moves t to blocked unless failure propagation already did.
func (r *run) block(t task.Task, reason string) {
	if t.Status != task.StatusBlocked {
		if err := r.e.registry.Block(t.ID, reason); err != nil {
			r.e.logger.WithTask(string(t.ID)).WithError(err).Warn("could not block task")
		}
	} else if n := len(t.Notes); n > 0 {
		reason = t.Notes[n-1]
	}
	r.settle(t.ID, task.StatusBlocked, reason)
}

func (r *run) settle(id domain.TaskID, status task.Status, reason string) {
	delete(r.pending, id)
	r.report.Results[id] = &TaskResult{TaskID: id, Status: status, Reason: reason}
}

// dispatch starts ready tasks while admission slots are free.
func (r *run) dispatch() {
	for len(r.ready) > 0 && r.sem.TryAcquire(1) {
		id := r.ready[0]
		r.ready = r.ready[1:]

		if err := r.e.registry.Transition(id, task.StatusInProgress); err != nil {
			r.sem.Release(1)
			if t, gerr := r.e.registry.Get(id); gerr == nil {
				r.block(t, err.Error())
			} else {
				r.settle(id, task.StatusBlocked, err.Error())
			}
			continue
		}
		t, err := r.e.registry.Get(id)
		if err != nil {
			r.sem.Release(1)
			r.settle(id, task.StatusBlocked, err.Error())
			continue
		}

		r.inFlight[id] = &TaskResult{TaskID: id, Status: task.StatusInProgress, StartedAt: r.e.now()}
		r.report.DispatchOrder = append(r.report.DispatchOrder, id)
		r.report.MaxInFlight = max(r.report.MaxInFlight, len(r.inFlight))
		r.e.logger.WithTask(string(id)).Debug("task dispatched", "kind", t.Kind, "in_flight", len(r.inFlight))

		go r.work(t)
	}
}

// work runs on its own goroutine and never touches the registry.
func (r *run) work(t task.Task) {
	defer func() {
		if p := recover(); p != nil {
			r.done <- outcome{id: t.ID, err: fmt.Errorf("handler panicked: %v", p)}
		}
	}()

	if r.e.hooks.Before != nil {
		r.e.hooks.Before(r.workCtx, t)
	}
	h, ok := r.e.handlers.Lookup(t.Kind)
	if !ok {
		r.done <- outcome{id: t.ID, err: fmt.Errorf("no handler registered for kind %q", t.Kind)}
		return
	}
	out, err := h.Execute(r.workCtx, t)
	r.done <- outcome{id: t.ID, output: out, err: err}
}

// complete records a worker's outcome and frees its admission slot.
func (r *run) complete(o outcome) {
	res, ok := r.inFlight[o.id]
	if !ok {
		return
	}
	delete(r.inFlight, o.id)
	logger := r.e.logger.WithTask(string(o.id))

	res.Output = o.output
	err := o.err
	if err == nil {
		if terr := r.e.registry.Transition(o.id, task.StatusCompleted); terr != nil {
			err = terr
		}
	}
	if err == nil {
		res.Status = task.StatusCompleted
		logger.Debug("task completed")
	} else {
		r.fail(res, err.Error())
		logger.WithError(err).Warn("task failed")
	}
	r.finish(res)
}

func (r *run) fail(res *TaskResult, reason string) {
	blocked, err := r.e.registry.Fail(res.TaskID, reason)
	if err != nil {
		r.e.logger.WithTask(string(res.TaskID)).WithError(err).Warn("could not record failure")
	}
	res.Status = task.StatusFailed
	res.Reason = reason
	if len(blocked) > 0 {
		r.e.logger.WithTask(string(res.TaskID)).Debug("dependents blocked", "count", len(blocked))
	}
}

func (r *run) finish(res *TaskResult) {
	res.FinishedAt = r.e.now()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)
	r.sem.Release(1)
	r.report.Results[res.TaskID] = res
	r.after(res)
}

// after runs the After hook on the dispatcher. A panicking hook is logged
// and does not change the task's result.
func (r *run) after(res *TaskResult) {
	if r.e.hooks.After == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.e.logger.WithTask(string(res.TaskID)).Error("after hook panicked", "panic", fmt.Sprint(p))
		}
	}()
	r.e.hooks.After(r.ctx, r.tasks[res.TaskID], *res)
}

// cancel stops dispatching, gives in-flight handlers the grace period to
// return, then fails whatever is still running and blocks the rest.
func (r *run) cancel(cause error) error {
	r.report.Cancelled = true
	r.cancelWork()
	r.e.logger.Warn("execution cancelled", "in_flight", len(r.inFlight), "grace", r.e.grace)

	timer := time.NewTimer(r.e.grace)
	defer timer.Stop()
wait:
	for len(r.inFlight) > 0 {
		select {
		case o := <-r.done:
			r.complete(o)
		case <-timer.C:
			break wait
		}
	}

	stuck := make([]domain.TaskID, 0, len(r.inFlight))
	for id := range r.inFlight {
		stuck = append(stuck, id)
	}
	slices.SortFunc(stuck, r.less)
	for _, id := range stuck {
		res := r.inFlight[id]
		delete(r.inFlight, id)
		r.fail(res, "cancelled")
		r.finish(res)
	}

	for _, id := range r.ready {
		r.pending[id] = true
	}
	r.ready = nil
	r.blockRemaining("run cancelled")

	return serr.NewCancelledError(cause)
}

// blockRemaining blocks every task still pending.
func (r *run) blockRemaining(reason string) {
	for _, id := range r.pendingIDs() {
		t, err := r.e.registry.Get(id)
		if err != nil {
			r.settle(id, task.StatusBlocked, err.Error())
			continue
		}
		if t.Status.IsTerminal() {
			r.settle(id, t.Status, "")
			continue
		}
		r.block(t, reason)
	}
}

func (r *run) pendingIDs() []domain.TaskID {
	ids := make([]domain.TaskID, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, r.less)
	return ids
}

// less orders by priority descending, then creation order.
func (r *run) less(a, b domain.TaskID) int {
	ta, tb := r.tasks[a], r.tasks[b]
	if ta.Priority != tb.Priority {
		return tb.Priority.Rank() - ta.Priority.Rank()
	}
	switch {
	case ta.Seq < tb.Seq:
		return -1
	case ta.Seq > tb.Seq:
		return 1
	}
	return 0
}
