package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// TaskID identifies a task within a registry.
type TaskID string

var (
	// lowercase letters, digits, hyphens and underscores; must start with a letter
	taskIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

	maxTaskIDLength = 100
)

// NewTaskID generates a fresh id of the form task-<8 hex>.
func NewTaskID() TaskID {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return TaskID("task-" + hex[:8])
}

// ParseTaskID validates value and returns it as a TaskID.
func ParseTaskID(value string) (TaskID, error) {
	id := TaskID(value)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate checks if the task ID is valid
func (t TaskID) Validate() error {
	s := string(t)

	if s == "" {
		return fmt.Errorf("task ID cannot be empty")
	}

	if len(s) > maxTaskIDLength {
		return fmt.Errorf("task ID %q exceeds maximum length of %d characters", s, maxTaskIDLength)
	}

	if !taskIDPattern.MatchString(s) {
		return fmt.Errorf("task ID %q must start with a letter and contain only lowercase letters, numbers, hyphens, and underscores", s)
	}

	return nil
}

// String returns the string representation
func (t TaskID) String() string {
	return string(t)
}

// TaskIDs converts ids to their string form, preserving order.
func TaskIDs(ids []TaskID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
