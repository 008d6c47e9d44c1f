// Package checkpoint persists the state of plan runs so they can be
// inspected after the process exits.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Run statuses. StatusFailed marks a run whose rollback did not complete.
const (
	StatusRunning    = "running"
	StatusCommitted  = "committed"
	StatusRolledBack = "rolled_back"
	StatusFailed     = "failed"
)

// Step statuses beyond the task statuses recorded verbatim.
const (
	StepPending = "pending"
)

// State represents the checkpoint state of one plan run
type State struct {
	Version     string            `json:"version"`
	RunID       string            `json:"run_id"`
	PlanID      string            `json:"plan_id"`
	SnapshotID  string            `json:"snapshot_id,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Status      string            `json:"status"`
	FailingStep string            `json:"failing_step,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Order       []string          `json:"order"`
	Steps       map[string]Step   `json:"steps"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Step represents the state of an individual plan step
type Step struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id,omitempty"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	Error       string    `json:"error,omitempty"`
	Artifacts   []string  `json:"artifacts,omitempty"`
}

// NewState creates a new checkpoint state with every step pending
func NewState(runID, planID string, stepIDs []string) *State {
	now := time.Now()
	s := &State{
		Version:   "1.0",
		RunID:     runID,
		PlanID:    planID,
		StartedAt: now,
		UpdatedAt: now,
		Status:    StatusRunning,
		Order:     slices.Clone(stepIDs),
		Steps:     make(map[string]Step, len(stepIDs)),
		Metadata:  make(map[string]string),
	}
	for _, id := range stepIDs {
		s.Steps[id] = Step{ID: id, Status: StepPending}
	}
	return s
}

// Manager handles checkpoint persistence. It is safe for concurrent use.
type Manager struct {
	mu  sync.Mutex
	fs  afero.Fs
	dir string
}

// NewManager creates a checkpoint manager storing one JSON file per run in dir
func NewManager(fsys afero.Fs, dir string) *Manager {
	return &Manager{fs: fsys, dir: dir}
}

func (m *Manager) path(runID string) string {
	return filepath.Join(m.dir, runID+".json")
}

// Save persists the checkpoint state
func (m *Manager) Save(state *State) error {
	if state == nil {
		return fmt.Errorf("checkpoint state is nil")
	}
	if state.RunID == "" {
		return fmt.Errorf("checkpoint state has no run id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state.UpdatedAt = time.Now()
	if err := m.fs.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}

	// Write to a temp file first so readers never see a torn checkpoint.
	tmp := m.path(state.RunID) + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := m.fs.Rename(tmp, m.path(state.RunID)); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return nil
}

// Load reads the checkpoint state of a run. A missing checkpoint yields an
// error matching fs.ErrNotExist.
func (m *Manager) Load(runID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := afero.ReadFile(m.fs, m.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checkpoint not found: %s: %w", runID, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint state: %w", err)
	}
	return &state, nil
}

// Exists checks if a checkpoint exists for the given run
func (m *Manager) Exists(runID string) bool {
	_, err := m.fs.Stat(m.path(runID))
	return err == nil
}

// Delete removes a checkpoint file
func (m *Manager) Delete(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fs.Remove(m.path(runID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// List returns all checkpointed run ids, sorted
func (m *Manager) List() ([]string, error) {
	entries, err := afero.ReadDir(m.fs, m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	runIDs := []string{}
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			runIDs = append(runIDs, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	slices.Sort(runIDs)
	return runIDs, nil
}

// LoadAll returns every readable checkpoint, most recent first.
func (m *Manager) LoadAll() ([]*State, error) {
	ids, err := m.List()
	if err != nil {
		return nil, err
	}
	states := make([]*State, 0, len(ids))
	for _, id := range ids {
		s, err := m.Load(id)
		if err != nil {
			continue
		}
		states = append(states, s)
	}
	slices.SortStableFunc(states, func(a, b *State) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return states, nil
}

// UpdateStep updates or creates a step in the checkpoint state
func (s *State) UpdateStep(stepID, status string, err error) {
	step, exists := s.Steps[stepID]
	if !exists {
		step = Step{ID: stepID, Status: StepPending}
		s.Order = append(s.Order, stepID)
	}

	now := time.Now()
	if status == "in_progress" && step.StartedAt.IsZero() {
		step.StartedAt = now
	}
	if isFinished(status) {
		step.CompletedAt = now
	}
	step.Status = status

	if err != nil {
		step.Error = err.Error()
	}

	s.Steps[stepID] = step
	s.UpdatedAt = now
}

// SetTaskID links a step to the registry task executing it.
func (s *State) SetTaskID(stepID, taskID string) {
	if step, ok := s.Steps[stepID]; ok {
		step.TaskID = taskID
		s.Steps[stepID] = step
	}
}

// Finish records the final run status.
func (s *State) Finish(status, failingStep, reason string) {
	s.Status = status
	s.FailingStep = failingStep
	s.Reason = reason
	s.UpdatedAt = time.Now()
}

func isFinished(status string) bool {
	switch status {
	case "completed", "failed", "blocked":
		return true
	}
	return false
}

func (s *State) stepsWhere(keep func(Step) bool) []string {
	var ids []string
	for _, id := range s.Order {
		if keep(s.Steps[id]) {
			ids = append(ids, id)
		}
	}
	return ids
}

// PendingSteps returns steps that have not finished, in plan order
func (s *State) PendingSteps() []string {
	return s.stepsWhere(func(st Step) bool { return !isFinished(st.Status) })
}

// CompletedSteps returns successfully completed steps, in plan order
func (s *State) CompletedSteps() []string {
	return s.stepsWhere(func(st Step) bool { return st.Status == "completed" })
}

// FailedSteps returns failed steps, in plan order
func (s *State) FailedSteps() []string {
	return s.stepsWhere(func(st Step) bool { return st.Status == "failed" })
}

// BlockedSteps returns blocked steps, in plan order
func (s *State) BlockedSteps() []string {
	return s.stepsWhere(func(st Step) bool { return st.Status == "blocked" })
}

// IsComplete returns true if every step completed
func (s *State) IsComplete() bool {
	return len(s.Steps) > 0 && len(s.CompletedSteps()) == len(s.Steps)
}

// Progress returns the fraction of finished steps (0.0 to 1.0)
func (s *State) Progress() float64 {
	if len(s.Steps) == 0 {
		return 0.0
	}
	finished := 0
	for _, step := range s.Steps {
		if isFinished(step.Status) {
			finished++
		}
	}
	return float64(finished) / float64(len(s.Steps))
}

// AddArtifact adds an artifact path to a step
func (s *State) AddArtifact(stepID, artifactPath string) {
	step, exists := s.Steps[stepID]
	if !exists {
		return
	}
	step.Artifacts = append(step.Artifacts, artifactPath)
	s.Steps[stepID] = step
	s.UpdatedAt = time.Now()
}

// SetMetadata sets a metadata key-value pair
func (s *State) SetMetadata(key, value string) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.Metadata[key] = value
	s.UpdatedAt = time.Now()
}

// GetMetadata retrieves a metadata value
func (s *State) GetMetadata(key string) (string, bool) {
	value, ok := s.Metadata[key]
	return value, ok
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	c.Order = slices.Clone(s.Order)
	c.Steps = make(map[string]Step, len(s.Steps))
	for id, st := range s.Steps {
		st.Artifacts = slices.Clone(st.Artifacts)
		c.Steps[id] = st
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
