// Package task holds the task registry: creation, lookup, the status state
// machine and failure propagation over the dependency graph.
package task

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/felixgeelhaar/stagehand/internal/domain"
	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	"github.com/felixgeelhaar/stagehand/internal/graph"
	"github.com/felixgeelhaar/stagehand/internal/log"
)

// TransitionRecord is one entry of a registry's status history.
type TransitionRecord struct {
	TaskID domain.TaskID `json:"task_id"`
	From   Status        `json:"from"`
	To     Status        `json:"to"`
	At     time.Time     `json:"at"`
	Note   string        `json:"note,omitempty"`
}

// Registry stores tasks and owns their dependency graph. It is safe for
// concurrent use; one mutex guards everything.
type Registry struct {
	mu      sync.Mutex
	tasks   map[domain.TaskID]*Task
	order   []domain.TaskID
	graph   *graph.Graph
	seq     uint64
	history []TransitionRecord

	now    func() time.Time
	newID  func() domain.TaskID
	logger *log.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides task id generation.
func WithIDGenerator(gen func() domain.TaskID) Option {
	return func(r *Registry) { r.newID = gen }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tasks: make(map[domain.TaskID]*Task),
		graph: graph.New(),
		now:   time.Now,
		newID: domain.NewTaskID,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.OrNop(r.logger)
	return r
}

// Create registers a new task in status planned. Every dependency must
// already exist. On error the registry is unchanged.
func (r *Registry) Create(spec NewTask) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.createLocked(spec)
	if err != nil {
		return Task{}, err
	}
	return t.clone(), nil
}

// CreateSequence creates tasks in order, each depending on the one before
// it. Either every task is created or none is.
func (r *Registry) CreateSequence(specs []NewTask) ([]Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := make([]*Task, 0, len(specs))
	for i, spec := range specs {
		if i > 0 {
			spec.Dependencies = append(slices.Clone(spec.Dependencies), created[i-1].ID)
		}
		t, err := r.createLocked(spec)
		if err != nil {
			for _, c := range created {
				r.removeLocked(c.ID)
			}
			return nil, err
		}
		created = append(created, t)
	}

	out := make([]Task, len(created))
	for i, t := range created {
		out[i] = t.clone()
	}
	return out, nil
}

func (r *Registry) createLocked(spec NewTask) (*Task, error) {
	priority := spec.Priority.OrDefault()
	if err := priority.Validate(); err != nil {
		return nil, serr.NewInvalidArgumentError(err.Error())
	}

	var deps []domain.TaskID
	for _, d := range spec.Dependencies {
		if _, ok := r.tasks[d]; !ok {
			return nil, serr.NewTaskNotFoundError(string(d))
		}
		deps = insertSorted(deps, d)
	}

	id := r.newID()
	for attempts := 0; r.graph.HasNode(string(id)); attempts++ {
		if attempts > 16 {
			return nil, serr.NewInvalidArgumentError(fmt.Sprintf("id generator keeps returning existing id %s", id))
		}
		id = r.newID()
	}

	if len(deps) == 0 {
		r.graph.AddNode(string(id))
	} else if err := r.graph.AddEdges(string(id), domain.TaskIDs(deps)...); err != nil {
		r.graph.RemoveNode(string(id))
		return nil, err
	}

	now := r.now()
	r.seq++
	t := &Task{
		ID:           id,
		Title:        spec.Title,
		Description:  spec.Description,
		Kind:         spec.Kind,
		Status:       StatusPlanned,
		Priority:     priority,
		Dependencies: deps,
		Context:      spec.Context,
		CreatedAt:    now,
		UpdatedAt:    now,
		Seq:          r.seq,
	}
	r.tasks[id] = t
	r.order = append(r.order, id)

	r.logger.Debug("task created", "task_id", string(id), "kind", t.Kind, "dependencies", len(deps))
	return t, nil
}

func (r *Registry) removeLocked(id domain.TaskID) {
	delete(r.tasks, id)
	r.order = slices.DeleteFunc(r.order, func(o domain.TaskID) bool { return o == id })
	r.graph.RemoveNode(string(id))
}

// Remove deletes tasks together with their graph nodes and history. A task
// that is in progress, or that a task outside ids still depends on, cannot
// be removed. On error the registry is unchanged.
func (r *Registry) Remove(ids ...domain.TaskID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	gone := make(map[domain.TaskID]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	for _, id := range ids {
		t, ok := r.tasks[id]
		if !ok {
			return serr.NewTaskNotFoundError(string(id))
		}
		if t.Status == StatusInProgress {
			return serr.NewInvalidArgumentError(fmt.Sprintf("task %s is in progress and cannot be removed", id))
		}
		for _, d := range r.graph.Dependents(string(id)) {
			if !gone[domain.TaskID(d)] {
				return serr.NewInvalidArgumentError(fmt.Sprintf("task %s is still needed by %s", id, d))
			}
		}
	}

	for _, id := range ids {
		r.removeLocked(id)
	}
	r.history = slices.DeleteFunc(r.history, func(h TransitionRecord) bool { return gone[h.TaskID] })
	r.logger.Debug("tasks removed", "count", len(ids))
	return nil
}

// AddDependency makes id depend on dep. Completed, failed and in-progress
// tasks cannot gain dependencies, and a ready task can only gain one that is
// already completed.
func (r *Registry) AddDependency(id, dep domain.TaskID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addDependencyLocked(id, dep)
}

func (r *Registry) addDependencyLocked(id, dep domain.TaskID) error {
	t, err := r.getLocked(id)
	if err != nil {
		return err
	}
	d, err := r.getLocked(dep)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() || t.Status == StatusInProgress {
		return serr.NewInvalidArgumentError(fmt.Sprintf("task %s is %s and cannot gain dependencies", id, t.Status))
	}
	if t.Status == StatusReady && d.Status != StatusCompleted {
		return serr.NewInvalidArgumentError(fmt.Sprintf("ready task %s cannot gain unfinished dependency %s", id, dep))
	}
	if err := r.graph.AddEdge(string(id), string(dep)); err != nil {
		return err
	}
	t.Dependencies = insertSorted(t.Dependencies, dep)
	t.UpdatedAt = r.now()
	return nil
}

// AddSubtask attaches child to parent. The parent depends on the child, so
// it only becomes ready once every subtask has completed.
func (r *Registry) AddSubtask(parent, child domain.TaskID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.getLocked(child)
	if err != nil {
		return err
	}
	if c.Parent != "" {
		return serr.NewInvalidArgumentError(fmt.Sprintf("task %s is already a subtask of %s", child, c.Parent))
	}
	if err := r.addDependencyLocked(parent, child); err != nil {
		return err
	}
	p := r.tasks[parent]
	p.Subtasks = append(p.Subtasks, child)
	c.Parent = parent
	return nil
}

// Get returns a copy of the task.
func (r *Registry) Get(id domain.TaskID) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.getLocked(id)
	if err != nil {
		return Task{}, err
	}
	return t.clone(), nil
}

func (r *Registry) getLocked(id domain.TaskID) (*Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, serr.NewTaskNotFoundError(string(id))
	}
	return t, nil
}

// List returns copies of every task in creation order.
func (r *Registry) List() []Task {
	return r.filter(func(*Task) bool { return true })
}

// ListByStatus returns copies of the tasks in status s, in creation order.
func (r *Registry) ListByStatus(s Status) []Task {
	return r.filter(func(t *Task) bool { return t.Status == s })
}

func (r *Registry) filter(keep func(*Task) bool) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Task
	for _, id := range r.order {
		if t := r.tasks[id]; keep(t) {
			out = append(out, t.clone())
		}
	}
	return out
}

// Len returns the number of tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Graph returns a copy of the dependency graph.
func (r *Registry) Graph() *graph.Graph {
	return r.graph.Clone()
}

// DependenciesSatisfied reports whether every dependency of id is completed.
func (r *Registry) DependenciesSatisfied(id domain.TaskID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.getLocked(id)
	if err != nil {
		return false, err
	}
	return r.unmetLocked(t) == "", nil
}

// unmetLocked returns the first dependency of t that is not completed.
func (r *Registry) unmetLocked(t *Task) domain.TaskID {
	for _, d := range t.Dependencies {
		if r.tasks[d].Status != StatusCompleted {
			return d
		}
	}
	return ""
}

// Transition moves id to status to. Entering failed blocks every
// non-terminal transitive dependent.
func (r *Registry) Transition(id domain.TaskID, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.transitionLocked(id, to, "")
	return err
}

// Fail records reason on id and moves it to failed. It returns the ids
// blocked as a consequence.
func (r *Registry) Fail(id domain.TaskID, reason string) ([]domain.TaskID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.transitionLocked(id, StatusFailed, "execution failed: "+reason)
}

// Block moves id to blocked, recording reason as a note when non-empty.
func (r *Registry) Block(id domain.TaskID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.transitionLocked(id, StatusBlocked, reason)
	return err
}

func (r *Registry) transitionLocked(id domain.TaskID, to Status, note string) ([]domain.TaskID, error) {
	t, err := r.getLocked(id)
	if err != nil {
		return nil, err
	}
	from := t.Status
	if from.IsTerminal() {
		return nil, serr.NewInvalidTransitionError(string(id), string(from), string(to), "task is terminal")
	}
	if !CanTransition(from, to) {
		return nil, serr.NewInvalidTransitionError(string(id), string(from), string(to), "")
	}
	if needsDependencies(from, to) {
		if d := r.unmetLocked(t); d != "" {
			return nil, serr.NewInvalidTransitionError(string(id), string(from), string(to),
				fmt.Sprintf("dependency %s is %s", d, r.tasks[d].Status))
		}
	}

	if note != "" {
		t.Notes = append(t.Notes, note)
	}
	r.setStatusLocked(t, to, note)

	if to != StatusFailed {
		return nil, nil
	}
	return r.propagateLocked(id), nil
}

func (r *Registry) setStatusLocked(t *Task, to Status, note string) {
	now := r.now()
	r.history = append(r.history, TransitionRecord{TaskID: t.ID, From: t.Status, To: to, At: now, Note: note})
	r.logger.Debug("task transition", "task_id", string(t.ID), "from", string(t.Status), "to", string(to))

	t.Status = to
	t.UpdatedAt = now
	if to == StatusCompleted {
		t.CompletedAt = &now
		t.Progress = 1.0
	}
}

// propagateLocked blocks every non-terminal task that transitively depends
// on failed.
func (r *Registry) propagateLocked(failed domain.TaskID) []domain.TaskID {
	var blocked []domain.TaskID
	note := fmt.Sprintf("blocked: dependency %s failed", failed)
	for _, d := range r.graph.Descendants(string(failed)) {
		t := r.tasks[domain.TaskID(d)]
		if t.Status.IsTerminal() || t.Status == StatusBlocked {
			continue
		}
		t.Notes = append(t.Notes, note)
		r.setStatusLocked(t, StatusBlocked, note)
		blocked = append(blocked, t.ID)
	}
	if len(blocked) > 0 {
		r.logger.Info("failure propagated", "task_id", string(failed), "blocked", len(blocked))
	}
	return blocked
}

// SetProgress records fractional progress p in [0,1] on a non-terminal task.
func (r *Registry) SetProgress(id domain.TaskID, p float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.getLocked(id)
	if err != nil {
		return err
	}
	if p < 0 || p > 1 {
		return serr.NewInvalidArgumentError(fmt.Sprintf("progress %v outside [0,1]", p))
	}
	if t.Status.IsTerminal() {
		return serr.NewInvalidArgumentError(fmt.Sprintf("task %s is %s", id, t.Status))
	}
	t.Progress = p
	t.UpdatedAt = r.now()
	return nil
}

// AppendNote adds a note to id. Notes are never removed.
func (r *Registry) AppendNote(id domain.TaskID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.getLocked(id)
	if err != nil {
		return err
	}
	t.Notes = append(t.Notes, text)
	t.UpdatedAt = r.now()
	return nil
}

// History returns every recorded status change, oldest first.
func (r *Registry) History() []TransitionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.history)
}
