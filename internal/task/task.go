package task

import (
	"slices"
	"time"

	"github.com/felixgeelhaar/stagehand/internal/domain"
)

// Context carries handler inputs. The scheduler never inspects it.
type Context struct {
	Files            []string          `json:"files,omitempty"`
	Capabilities     []string          `json:"capabilities,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`
	EstimatedMinutes int               `json:"estimated_minutes,omitempty"`
	Payload          any               `json:"payload,omitempty"`
}

// Task is a unit of work tracked by a Registry. Values returned by the
// registry are copies; mutate through Registry methods.
type Task struct {
	ID          domain.TaskID   `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Kind        string          `json:"kind"`
	Status      Status          `json:"status"`
	Priority    domain.Priority `json:"priority"`
	// Dependencies is kept sorted.
	Dependencies []domain.TaskID `json:"dependencies,omitempty"`
	Context      Context         `json:"context"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Progress     float64         `json:"progress"`
	Notes        []string        `json:"notes,omitempty"`
	Subtasks     []domain.TaskID `json:"subtasks,omitempty"`
	Parent       domain.TaskID   `json:"parent,omitempty"`
	// Seq is the creation sequence number, used to break priority ties.
	Seq uint64 `json:"seq"`
}

// NewTask describes a task to create.
type NewTask struct {
	Title        string
	Description  string
	Kind         string
	Priority     domain.Priority
	Dependencies []domain.TaskID
	Context      Context
}

func (t *Task) clone() Task {
	c := *t
	c.Dependencies = slices.Clone(t.Dependencies)
	c.Notes = slices.Clone(t.Notes)
	c.Subtasks = slices.Clone(t.Subtasks)
	c.Context.Files = slices.Clone(t.Context.Files)
	c.Context.Capabilities = slices.Clone(t.Context.Capabilities)
	if t.Context.Environment != nil {
		c.Context.Environment = make(map[string]string, len(t.Context.Environment))
		for k, v := range t.Context.Environment {
			c.Context.Environment[k] = v
		}
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return c
}

// HasDependency reports whether id is a direct dependency of t.
func (t Task) HasDependency(id domain.TaskID) bool {
	_, found := slices.BinarySearch(t.Dependencies, id)
	return found
}

func insertSorted(ids []domain.TaskID, id domain.TaskID) []domain.TaskID {
	i, found := slices.BinarySearch(ids, id)
	if found {
		return ids
	}
	return slices.Insert(ids, i, id)
}
