package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	"github.com/felixgeelhaar/stagehand/internal/exitcode"
	"github.com/felixgeelhaar/stagehand/internal/tui"
)

// execute runs the root command against fs and returns stdout.
func execute(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	t.Setenv(tui.NoPromptEnv, "1")
	resetFlags(rootCmd)
	newFs = func() afero.Fs { return fs }
	t.Cleanup(func() { newFs = afero.NewOsFs })

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags restores every flag to its default between executions.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func newWorkspace(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/ws", 0o755))
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, "/ws/"+name, []byte(content), 0o644))
	}
	return fs
}

func readFile(t *testing.T, fs afero.Fs, name string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, name)
	require.NoError(t, err)
	return string(data)
}

const greetPlan = `
id: greet
steps:
  - id: edit
    target: a.txt
    validation: ["%s"]
    change:
      kind: replace
      old: hello
      new: hi
`

func withRequirement(req string) string {
	return strings.Replace(greetPlan, "%s", req, 1)
}

func TestRun_CommitsAndReverts(t *testing.T) {
	fs := newWorkspace(t, map[string]string{
		"a.txt":     "hello\n",
		"plan.yaml": withRequirement("contains=hi"),
	})

	out, err := execute(t, fs, "run", "/ws/plan.yaml", "-w", "/ws")
	require.NoError(t, err)
	assert.Contains(t, out, "Plan Summary")
	assert.Contains(t, out, "committed")
	assert.Equal(t, "hi\n", readFile(t, fs, "/ws/a.txt"))

	patches, err := afero.Glob(fs, "/ws/.stagehand/patches/greet_*.patch.json")
	require.NoError(t, err)
	assert.Len(t, patches, 1)

	out, err = execute(t, fs, "runs", "list", "-w", "/ws", "--format", "json")
	require.NoError(t, err)
	var runs []struct {
		RunID  string `json:"run_id"`
		PlanID string `json:"plan_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "greet", runs[0].PlanID)
	assert.Equal(t, "committed", runs[0].Status)

	out, err = execute(t, fs, "runs", "show", runs[0].RunID, "-w", "/ws")
	require.NoError(t, err)
	assert.Contains(t, out, "edit [completed]")

	out, err = execute(t, fs, "runs", "revert", runs[0].RunID, "-w", "/ws")
	require.NoError(t, err)
	assert.Contains(t, out, "1 file(s) restored")
	assert.Equal(t, "hello\n", readFile(t, fs, "/ws/a.txt"))

	_, err = execute(t, fs, "runs", "show", "run-missing", "-w", "/ws")
	assert.True(t, serr.HasCode(err, serr.ErrCodeInvalidArgument))
}

func TestRun_ValidationFailureRollsBack(t *testing.T) {
	fs := newWorkspace(t, map[string]string{
		"a.txt":     "hello\n",
		"plan.yaml": withRequirement("contains=nope"),
	})

	out, err := execute(t, fs, "run", "/ws/plan.yaml", "-w", "/ws")
	require.Error(t, err)
	assert.True(t, serr.HasCode(err, serr.ErrCodeValidationFailure))
	assert.Equal(t, exitcode.RolledBack, exitcode.DetermineExitCode(err))
	assert.Contains(t, out, "rolled back")
	assert.Equal(t, "hello\n", readFile(t, fs, "/ws/a.txt"))
}

func TestRun_ExecutionFailureRollsBack(t *testing.T) {
	fs := newWorkspace(t, map[string]string{
		"a.txt": "bye\n",
		"plan.yaml": `
id: two
steps:
  - id: first
    target: b.txt
    change: {kind: write, content: "b\n"}
  - id: second
    target: a.txt
    change: {kind: replace, old: hello, new: hi}
`,
	})

	_, err := execute(t, fs, "run", "/ws/plan.yaml", "-w", "/ws", "--format", "json")
	require.Error(t, err)
	assert.True(t, serr.HasCode(err, serr.ErrCodeExecutionFailure))
	assert.Contains(t, err.Error(), "second")

	exists, err := afero.Exists(fs, "/ws/b.txt")
	require.NoError(t, err)
	assert.False(t, exists, "first step must be undone")
}

func TestRun_DryRunChangesNothing(t *testing.T) {
	fs := newWorkspace(t, map[string]string{
		"a.txt":     "hello\n",
		"plan.yaml": withRequirement("exists"),
	})

	out, err := execute(t, fs, "run", "/ws/plan.yaml", "-w", "/ws", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Dry run of plan greet")
	assert.Contains(t, out, "-hello")
	assert.Contains(t, out, "+hi")
	assert.Equal(t, "hello\n", readFile(t, fs, "/ws/a.txt"))

	exists, _ := afero.DirExists(fs, "/ws/.stagehand/runs")
	assert.False(t, exists)
}

func TestRun_InvalidPlan(t *testing.T) {
	fs := newWorkspace(t, map[string]string{"plan.yaml": "id: empty\nsteps: []\n"})

	_, err := execute(t, fs, "run", "/ws/plan.yaml", "-w", "/ws")
	assert.Equal(t, exitcode.PlanInvalid, exitcode.DetermineExitCode(err))

	_, err = execute(t, fs, "run", "/ws/missing.yaml", "-w", "/ws")
	assert.Equal(t, exitcode.PlanInvalid, exitcode.DetermineExitCode(err))
}

func TestRun_ConfigFromFileAndFlags(t *testing.T) {
	fs := newWorkspace(t, map[string]string{
		"stagehand.yaml": "max_concurrency: 0\n",
		"a.txt":          "hello\n",
		"plan.yaml":      withRequirement("exists"),
	})

	_, err := execute(t, fs, "run", "/ws/plan.yaml", "-w", "/ws")
	assert.True(t, serr.HasCode(err, serr.ErrCodeConfigInvalid))

	_, err = execute(t, fs, "run", "/ws/plan.yaml", "-w", "/ws", "--max-concurrency", "2")
	require.NoError(t, err)
	assert.Equal(t, "hi\n", readFile(t, fs, "/ws/a.txt"))
}
