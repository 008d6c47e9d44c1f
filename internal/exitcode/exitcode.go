package exitcode

import (
	"os"
	"strings"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// RolledBack indicates a plan step or validation failed and the
	// workspace was restored
	RolledBack = 3

	// PlanInvalid indicates a plan that could not be loaded or is malformed
	PlanInvalid = 4

	// Interrupted indicates the run was cancelled by a signal
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	if err == nil {
		Exit(Success)
		return
	}
	Exit(DetermineExitCode(err))
}

// DetermineExitCode analyzes an error and returns the appropriate exit code
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	switch serr.CodeOf(err) {
	case serr.ErrCodeCancelled:
		return Interrupted
	case serr.ErrCodeExecutionFailure, serr.ErrCodeValidationFailure:
		return RolledBack
	case serr.ErrCodePlanInvalid, serr.ErrCodePlanLoad, serr.ErrCodeCyclicDependency:
		return PlanInvalid
	case serr.ErrCodeInvalidArgument, serr.ErrCodeConfigInvalid:
		return UsageError
	}

	// cobra reports usage problems as plain errors
	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "unknown flag") || strings.Contains(errMsg, "unknown command") {
		return UsageError
	}
	if strings.Contains(errMsg, "required flag") || strings.Contains(errMsg, "accepts ") || strings.Contains(errMsg, "invalid argument") {
		return UsageError
	}

	return GeneralError
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case RolledBack:
		return "Plan rolled back"
	case PlanInvalid:
		return "Invalid plan"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
