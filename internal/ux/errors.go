package ux

import (
	"fmt"
	"strings"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
)

// ErrorWithSuggestion wraps an error with helpful recovery suggestions
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface
func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v\n\nSuggestion: %s", e.Err, e.Suggestion)
	}
	return e.Err.Error()
}

// Unwrap provides access to the underlying error
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// NewErrorWithSuggestion creates a new error with a suggestion
func NewErrorWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// EnhanceError adds a suggestion to errors that do not carry their own.
// Coded errors already include suggestions and are returned unchanged.
func EnhanceError(err error) error {
	if err == nil || serr.CodeOf(err) != "" {
		return err
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "no such file or directory") || strings.Contains(errMsg, "file does not exist") {
		if strings.Contains(errMsg, ".yaml") || strings.Contains(errMsg, ".json") {
			return NewErrorWithSuggestion(err,
				"Check the plan path, or create one with 'stagehand plan generate <edits-file>'")
		}
		return NewErrorWithSuggestion(err,
			"Check the path is inside the workspace (see --workspace)")
	}

	if strings.Contains(errMsg, "permission denied") {
		return NewErrorWithSuggestion(err,
			"Check file permissions on the workspace and its .stagehand state directory")
	}

	if strings.Contains(errMsg, "text to replace not found") {
		return NewErrorWithSuggestion(err,
			"The workspace changed since the plan was written; regenerate the plan")
	}

	if strings.Contains(errMsg, "unknown flag") || strings.Contains(errMsg, "unknown command") {
		return NewErrorWithSuggestion(err, "Run 'stagehand --help' to list commands and flags")
	}

	return err
}

// FormatError provides consistent error formatting with context
func FormatError(err error, context string) error {
	if err == nil {
		return nil
	}

	enhanced := EnhanceError(err)
	if context != "" {
		return fmt.Errorf("%s: %w", context, enhanced)
	}
	return enhanced
}
