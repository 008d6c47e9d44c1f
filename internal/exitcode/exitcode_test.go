package exitcode

import (
	"context"
	"errors"
	"fmt"
	"testing"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
)

func TestDetermineExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error returns success", nil, Success},
		{"cancelled", serr.NewCancelledError(context.Canceled), Interrupted},
		{"wrapped cancel", fmt.Errorf("run: %w", serr.NewCancelledError(context.Canceled)), Interrupted},
		{"step failed", serr.New(serr.ErrCodeExecutionFailure, "plan rolled back"), RolledBack},
		{"validation failed", serr.NewValidationFailure("s1", "missing"), RolledBack},
		{"invalid plan", serr.NewPlanInvalidError("no steps"), PlanInvalid},
		{"cycle", serr.NewCyclicDependencyError("a", "b", []string{"a", "b", "a"}), PlanInvalid},
		{"bad load", serr.NewPlanLoadError("p.yaml", errors.New("eof")), PlanInvalid},
		{"bad argument", serr.NewInvalidArgumentError("k must be positive"), UsageError},
		{"cobra unknown flag", errors.New("unknown flag: --frobnicate"), UsageError},
		{"cobra arg count", errors.New("accepts 1 arg(s), received 0"), UsageError},
		{"restore failure", serr.Wrap(serr.ErrCodeSnapshotRestore, "restore failed", errors.New("disk full")), GeneralError},
		{"generic", errors.New("something broke"), GeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetermineExitCode(tt.err); got != tt.expected {
				t.Errorf("DetermineExitCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestGetExitCodeDescription(t *testing.T) {
	for _, code := range []int{Success, GeneralError, UsageError, RolledBack, PlanInvalid, Interrupted} {
		if GetExitCodeDescription(code) == "Unknown error" {
			t.Errorf("code %d has no description", code)
		}
	}
	if GetExitCodeDescription(99) != "Unknown error" {
		t.Error("unexpected description for unknown code")
	}
}
