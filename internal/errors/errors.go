package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Graph errors (GRAPH-001 to GRAPH-099)
	ErrCodeCyclicDependency ErrorCode = "GRAPH-001"
	ErrCodeUnknownNode      ErrorCode = "GRAPH-002"

	// Task registry errors (TASK-001 to TASK-099)
	ErrCodeTaskNotFound      ErrorCode = "TASK-001"
	ErrCodeInvalidTransition ErrorCode = "TASK-002"

	// Snapshot errors (SNAP-001 to SNAP-099)
	ErrCodeSnapshotNotFound ErrorCode = "SNAP-001"
	ErrCodeSnapshotCapture  ErrorCode = "SNAP-002"
	ErrCodeSnapshotRestore  ErrorCode = "SNAP-003"

	// Execution errors (EXEC-001 to EXEC-099)
	ErrCodeExecutionFailure ErrorCode = "EXEC-001"
	ErrCodeCancelled        ErrorCode = "EXEC-002"

	// Validation errors (VALID-001 to VALID-099)
	ErrCodeValidationFailure ErrorCode = "VALID-001"

	// Plan errors (PLAN-001 to PLAN-099)
	ErrCodePlanInvalid ErrorCode = "PLAN-001"
	ErrCodePlanLoad    ErrorCode = "PLAN-002"

	// Argument and configuration errors
	ErrCodeInvalidArgument ErrorCode = "ARG-001"
	ErrCodeConfigInvalid   ErrorCode = "CONFIG-001"
)

// Sentinels usable with errors.Is. Matching is by code, so any
// StagehandError carrying the same code satisfies errors.Is.
var (
	ErrCyclicDependency  = New(ErrCodeCyclicDependency, "cyclic dependency")
	ErrUnknownNode       = New(ErrCodeUnknownNode, "unknown graph node")
	ErrNotFound          = New(ErrCodeTaskNotFound, "task not found")
	ErrInvalidTransition = New(ErrCodeInvalidTransition, "invalid status transition")
	ErrSnapshotNotFound  = New(ErrCodeSnapshotNotFound, "snapshot not found")
	ErrExecutionFailure  = New(ErrCodeExecutionFailure, "task execution failed")
	ErrCancelled         = New(ErrCodeCancelled, "run cancelled")
	ErrValidationFailure = New(ErrCodeValidationFailure, "validation failed")
	ErrPlanInvalid       = New(ErrCodePlanInvalid, "invalid plan")
	ErrInvalidArgument   = New(ErrCodeInvalidArgument, "invalid argument")
)

// StagehandError represents an enhanced error with code, suggestions, and documentation
type StagehandError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *StagehandError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *StagehandError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a StagehandError with the same code.
func (e *StagehandError) Is(target error) bool {
	t, ok := target.(*StagehandError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a new StagehandError
func New(code ErrorCode, message string) *StagehandError {
	return &StagehandError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new StagehandError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *StagehandError {
	return &StagehandError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *StagehandError) WithSuggestion(suggestion string) *StagehandError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *StagehandError) WithSuggestions(suggestions ...string) *StagehandError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *StagehandError) WithDocs(url string) *StagehandError {
	e.DocsURL = url
	return e
}

// CodeOf returns the code of the first StagehandError in err's chain,
// or the empty code when there is none.
func CodeOf(err error) ErrorCode {
	var se *StagehandError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// HasCode reports whether err's chain contains a StagehandError with code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if se, ok := err.(*StagehandError); ok && se.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Common error constructors for frequently used errors

// NewCyclicDependencyError creates an error for an edge that would close a cycle.
// path lists the existing chain from `to` back to `from`.
func NewCyclicDependencyError(from, to string, path []string) *StagehandError {
	msg := fmt.Sprintf("dependency %s -> %s would create a cycle", from, to)
	if len(path) > 0 {
		msg += fmt.Sprintf(" (%s)", strings.Join(path, " -> "))
	}
	return New(ErrCodeCyclicDependency, msg).
		WithSuggestion("Remove one of the dependencies forming the loop").
		WithSuggestion("Split the task so the shared work becomes its own dependency")
}

// NewUnknownNodeError creates an error for a reference to a node absent from the graph
func NewUnknownNodeError(id string) *StagehandError {
	return New(ErrCodeUnknownNode, fmt.Sprintf("unknown graph node: %s", id))
}

// NewTaskNotFoundError creates a task not found error
func NewTaskNotFoundError(id string) *StagehandError {
	return New(ErrCodeTaskNotFound, fmt.Sprintf("task not found: %s", id)).
		WithSuggestion("Check that the task was created in this registry")
}

// NewInvalidTransitionError creates an error for a disallowed status move
func NewInvalidTransitionError(id, from, to, why string) *StagehandError {
	msg := fmt.Sprintf("task %s cannot move from %s to %s", id, from, to)
	if why != "" {
		msg += ": " + why
	}
	return New(ErrCodeInvalidTransition, msg)
}

// NewSnapshotNotFoundError creates an error for an unknown or discarded snapshot
func NewSnapshotNotFoundError(id string) *StagehandError {
	return New(ErrCodeSnapshotNotFound, fmt.Sprintf("snapshot not found: %s", id)).
		WithSuggestion("Run 'stagehand snapshot list' to see available snapshots").
		WithSuggestion("Snapshots are discarded once the plan that created them commits")
}

// NewExecutionFailure creates an error describing a failed task execution
func NewExecutionFailure(taskID, reason string) *StagehandError {
	return New(ErrCodeExecutionFailure, fmt.Sprintf("task %s failed: %s", taskID, reason))
}

// NewValidationFailure creates an error describing a failed step validation
func NewValidationFailure(stepID, details string) *StagehandError {
	return New(ErrCodeValidationFailure, fmt.Sprintf("step %s failed validation: %s", stepID, details))
}

// NewCancelledError wraps a context error for a cancelled run
func NewCancelledError(cause error) *StagehandError {
	return Wrap(ErrCodeCancelled, "run cancelled", cause)
}

// NewInvalidArgumentError creates an invalid argument error
func NewInvalidArgumentError(details string) *StagehandError {
	return New(ErrCodeInvalidArgument, details)
}

// NewPlanInvalidError creates a plan validation error
func NewPlanInvalidError(details string) *StagehandError {
	return New(ErrCodePlanInvalid, fmt.Sprintf("invalid plan: %s", details)).
		WithSuggestion("Run 'stagehand plan validate <file>' to see validation errors")
}

// NewPlanLoadError creates an error for an unreadable plan file
func NewPlanLoadError(path string, cause error) *StagehandError {
	return Wrap(ErrCodePlanLoad, fmt.Sprintf("failed to load plan: %s", path), cause).
		WithSuggestion("Check the file path and that the file is valid YAML or JSON")
}
