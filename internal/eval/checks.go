package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/stagehand/internal/plan"
	"github.com/felixgeelhaar/stagehand/internal/snapshot"
)

// Input is what a check sees: the workspace after the step ran, the step
// itself and the requirement argument.
type Input struct {
	Workspace snapshot.Workspace
	Step      plan.Step
	Arg       string
	// Dir is the workspace directory on disk, empty for in-memory
	// workspaces.
	Dir string
}

// Check verifies one requirement. A returned error means the check could
// not run; it counts as a failure.
type Check func(ctx context.Context, in Input) (passed bool, message string, err error)

func builtinChecks() map[string]Check {
	return map[string]Check{
		"exists":       checkExists,
		"absent":       checkAbsent,
		"non-empty":    checkNonEmpty,
		"contains":     checkContains,
		"not-contains": checkNotContains,
		"max-bytes":    checkMaxBytes,
		"yaml":         checkYAML,
		"json":         checkJSON,
		"command":      checkCommand,
	}
}

// readTarget returns the target's content, or ok=false if it is missing.
func readTarget(in Input) ([]byte, bool, error) {
	data, err := in.Workspace.Read(in.Step.Target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func checkExists(_ context.Context, in Input) (bool, string, error) {
	_, ok, err := readTarget(in)
	if err != nil || !ok {
		return false, in.Step.Target + " does not exist", err
	}
	return true, in.Step.Target + " exists", nil
}

func checkAbsent(_ context.Context, in Input) (bool, string, error) {
	_, ok, err := readTarget(in)
	if err != nil {
		return false, "", err
	}
	if ok {
		return false, in.Step.Target + " still exists", nil
	}
	return true, in.Step.Target + " is absent", nil
}

func checkNonEmpty(_ context.Context, in Input) (bool, string, error) {
	data, ok, err := readTarget(in)
	if err != nil || !ok {
		return false, in.Step.Target + " does not exist", err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, in.Step.Target + " is empty", nil
	}
	return true, fmt.Sprintf("%d bytes", len(data)), nil
}

func checkContains(_ context.Context, in Input) (bool, string, error) {
	if in.Arg == "" {
		return false, "", errors.New("contains needs text to look for")
	}
	data, ok, err := readTarget(in)
	if err != nil || !ok {
		return false, in.Step.Target + " does not exist", err
	}
	if !strings.Contains(string(data), in.Arg) {
		return false, fmt.Sprintf("%q not found", in.Arg), nil
	}
	return true, fmt.Sprintf("%q found", in.Arg), nil
}

func checkNotContains(_ context.Context, in Input) (bool, string, error) {
	if in.Arg == "" {
		return false, "", errors.New("not-contains needs text to look for")
	}
	data, _, err := readTarget(in)
	if err != nil {
		return false, "", err
	}
	if strings.Contains(string(data), in.Arg) {
		return false, fmt.Sprintf("%q found", in.Arg), nil
	}
	return true, fmt.Sprintf("%q not found", in.Arg), nil
}

func checkMaxBytes(_ context.Context, in Input) (bool, string, error) {
	limit, err := strconv.Atoi(in.Arg)
	if err != nil || limit < 0 {
		return false, "", fmt.Errorf("max-bytes needs a non-negative integer, got %q", in.Arg)
	}
	data, _, err := readTarget(in)
	if err != nil {
		return false, "", err
	}
	if len(data) > limit {
		return false, fmt.Sprintf("%d bytes exceeds %d", len(data), limit), nil
	}
	return true, fmt.Sprintf("%d of %d bytes", len(data), limit), nil
}

func checkYAML(_ context.Context, in Input) (bool, string, error) {
	data, ok, err := readTarget(in)
	if err != nil || !ok {
		return false, in.Step.Target + " does not exist", err
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return false, "invalid YAML: " + err.Error(), nil
	}
	return true, "valid YAML", nil
}

func checkJSON(_ context.Context, in Input) (bool, string, error) {
	data, ok, err := readTarget(in)
	if err != nil || !ok {
		return false, in.Step.Target + " does not exist", err
	}
	if !json.Valid(data) {
		return false, "invalid JSON", nil
	}
	return true, "valid JSON", nil
}

// checkCommand runs a shell command in the workspace directory. It passes
// when the command exits zero.
func checkCommand(ctx context.Context, in Input) (bool, string, error) {
	if strings.TrimSpace(in.Arg) == "" {
		return false, "", errors.New("command needs a command line")
	}
	if in.Dir == "" {
		return false, "", errors.New("command checks need a workspace directory")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", in.Arg)
	cmd.Dir = in.Dir
	cmd.Env = append(os.Environ(), "STAGEHAND_TARGET="+in.Step.Target, "STAGEHAND_STEP="+in.Step.ID)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, fmt.Sprintf("exit status %d: %s", exitErr.ExitCode(), lastLine(out.String())), nil
		}
		return false, "", err
	}
	return true, "exit status 0", nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
