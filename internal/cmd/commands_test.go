package cmd

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	"github.com/felixgeelhaar/stagehand/internal/plan"
	"github.com/felixgeelhaar/stagehand/internal/txn"
)

const diamondPlan = `
id: diamond
steps:
  - id: base
    target: base.txt
    impact: moderate
    change: {kind: write, content: "base\n"}
  - id: left
    target: left.txt
    depends_on: [base]
    impact: significant
    change: {kind: write, content: "left\n"}
  - id: right
    target: right.txt
    depends_on: [base]
    change: {kind: write, content: "right\n"}
  - id: top
    target: top.txt
    depends_on: [left, right]
    validation: ["non-empty"]
    change: {kind: write, content: "top\n"}
`

func TestPlanValidate(t *testing.T) {
	fs := newWorkspace(t, map[string]string{
		"plan.yaml": diamondPlan,
		"bad.yaml":  withRequirement("sparkles"),
	})

	out, err := execute(t, fs, "plan", "validate", "/ws/plan.yaml", "-w", "/ws")
	require.NoError(t, err)
	assert.Contains(t, out, "plan diamond is valid")
	assert.Contains(t, out, "Needs review")
	assert.Contains(t, out, "non-empty")

	_, err = execute(t, fs, "plan", "validate", "/ws/bad.yaml", "-w", "/ws")
	require.Error(t, err)
	assert.True(t, serr.HasCode(err, serr.ErrCodePlanInvalid))
	assert.Contains(t, err.Error(), `"sparkles"`)
}

func TestPlanGraph(t *testing.T) {
	fs := newWorkspace(t, map[string]string{"plan.yaml": diamondPlan})

	out, err := execute(t, fs, "plan", "graph", "/ws/plan.yaml", "-w", "/ws", "--format", "json")
	require.NoError(t, err)
	var waves planWaves
	require.NoError(t, json.Unmarshal([]byte(out), &waves))
	assert.Equal(t, [][]string{{"base"}, {"left", "right"}, {"top"}}, waves.Waves)

	out, err = execute(t, fs, "plan", "graph", "/ws/plan.yaml", "-w", "/ws", "--dot")
	require.NoError(t, err)
	assert.Contains(t, out, `digraph "diamond"`)
	assert.Contains(t, out, `"base" -> "left";`)
	assert.Contains(t, out, `fillcolor="orange"`)
}

func TestPlanCriticalPath(t *testing.T) {
	fs := newWorkspace(t, map[string]string{"plan.yaml": diamondPlan})

	out, err := execute(t, fs, "plan", "critical-path", "/ws/plan.yaml", "-w", "/ws", "--by-impact", "--format", "json")
	require.NoError(t, err)
	var cp criticalPath
	require.NoError(t, json.Unmarshal([]byte(out), &cp))
	assert.Equal(t, []string{"base", "left", "top"}, cp.Path)
	assert.Equal(t, 6, cp.Weight)
}

func TestRun_SignificantPlanNeedsApproval(t *testing.T) {
	fs := newWorkspace(t, map[string]string{"plan.yaml": diamondPlan})

	_, err := execute(t, fs, "run", "/ws/plan.yaml", "-w", "/ws")
	require.Error(t, err)
	assert.True(t, serr.HasCode(err, serr.ErrCodeInvalidArgument))
	exists, _ := afero.Exists(fs, "/ws/left.txt")
	assert.False(t, exists)

	_, err = execute(t, fs, "run", "/ws/plan.yaml", "-w", "/ws", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "top\n", readFile(t, fs, "/ws/top.txt"))
}

func TestPlanGenerate(t *testing.T) {
	fs := newWorkspace(t, map[string]string{
		"edits.yaml": `
- target: docs/a.md
  change: {kind: write, content: "a\n"}
- target: docs/a.md
  change: {kind: append, content: "more\n"}
- target: b.txt
  change: {kind: write, content: "b\n"}
`,
	})

	out, err := execute(t, fs, "plan", "generate", "/ws/edits.yaml", "-w", "/ws",
		"--id", "gen", "--require", "exists", "--out", "/ws/plan.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote plan gen with 3 step(s)")

	p, err := plan.Load(fs, "/ws/plan.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"exists"}, p.ValidationSteps)
	assert.Equal(t, []string{"step-001"}, p.Steps[1].DependsOn)
	assert.Empty(t, p.Steps[2].DependsOn)

	_, err = execute(t, fs, "run", "/ws/plan.yaml", "-w", "/ws")
	require.NoError(t, err)
	assert.Equal(t, "a\nmore\n", readFile(t, fs, "/ws/docs/a.md"))

	_, err = execute(t, fs, "plan", "generate", "/ws/edits.yaml", "-w", "/ws", "--require", "sparkles")
	assert.True(t, serr.HasCode(err, serr.ErrCodePlanInvalid))
}

func TestSnapshotCommands(t *testing.T) {
	fs := newWorkspace(t, map[string]string{
		"docs/a.md": "one\n",
		"keep.txt":  "keep\n",
	})

	out, err := execute(t, fs, "snapshot", "create", "docs", "-w", "/ws", "--format", "json")
	require.NoError(t, err)
	var info snapshotInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, []string{"docs"}, info.Region)
	assert.Equal(t, 1, info.Files)

	require.NoError(t, afero.WriteFile(fs, "/ws/docs/a.md", []byte("two\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/ws/docs/new.md", []byte("new\n"), 0o644))

	out, err = execute(t, fs, "snapshot", "diff", info.ID, "-w", "/ws")
	require.NoError(t, err)
	assert.Contains(t, out, "-one")
	assert.Contains(t, out, "+two")
	assert.Contains(t, out, "2 file(s) changed")

	out, err = execute(t, fs, "snapshot", "list", "-w", "/ws")
	require.NoError(t, err)
	assert.Contains(t, out, info.ID)

	_, err = execute(t, fs, "snapshot", "restore", info.ID, "-w", "/ws", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "one\n", readFile(t, fs, "/ws/docs/a.md"))
	exists, _ := afero.Exists(fs, "/ws/docs/new.md")
	assert.False(t, exists)
	assert.Equal(t, "keep\n", readFile(t, fs, "/ws/keep.txt"))

	_, err = execute(t, fs, "snapshot", "discard", info.ID, "-w", "/ws")
	require.NoError(t, err)
	_, err = execute(t, fs, "snapshot", "diff", info.ID, "-w", "/ws")
	assert.ErrorIs(t, err, serr.ErrSnapshotNotFound)
}

func TestInitAndConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proj/.gitignore", []byte("bin"), 0o644))

	out, err := execute(t, fs, "init", "/proj")
	require.NoError(t, err)
	assert.Contains(t, out, "stagehand.yaml")
	assert.Equal(t, "bin\n.stagehand/\n", readFile(t, fs, "/proj/.gitignore"))
	ok, _ := afero.DirExists(fs, "/proj/.stagehand/snapshots")
	assert.True(t, ok)

	_, err = execute(t, fs, "init", "/proj")
	assert.True(t, serr.HasCode(err, serr.ErrCodeConfigInvalid))
	_, err = execute(t, fs, "init", "/proj", "--force")
	require.NoError(t, err)
	assert.Equal(t, "bin\n.stagehand/\n", readFile(t, fs, "/proj/.gitignore"))

	t.Setenv("STAGEHAND_MAX_CONCURRENCY", "3")
	out, err = execute(t, fs, "config", "view", "-w", "/proj", "--format", "json")
	require.NoError(t, err)
	var cfg struct {
		Workspace      string `json:"Workspace"`
		MaxConcurrency int    `json:"MaxConcurrency"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "/proj", cfg.Workspace)
	assert.Equal(t, 3, cfg.MaxConcurrency)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, afero.NewMemMapFs(), "version", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"go_version"`)

	out, err = execute(t, afero.NewMemMapFs(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "stagehand ")
}

func TestRunError(t *testing.T) {
	assert.NoError(t, runError(&txn.Result{Success: true}, nil))

	validation := &txn.Result{
		FailingStep: "s",
		Reason:      "nope",
		Steps:       []txn.StepResult{{StepID: "s", Validation: &txn.Validation{Success: false}}},
	}
	assert.True(t, serr.HasCode(runError(validation, nil), serr.ErrCodeValidationFailure))

	failed := &txn.Result{FailingStep: "s", Reason: "boom", Steps: []txn.StepResult{{StepID: "s"}}}
	assert.True(t, serr.HasCode(runError(failed, nil), serr.ErrCodeExecutionFailure))

	cancelled := serr.NewCancelledError(nil)
	assert.Equal(t, cancelled, runError(&txn.Result{Cancelled: true}, cancelled))
}

func TestConfigPathAndCompletion(t *testing.T) {
	fs := newWorkspace(t, nil)

	out, err := execute(t, fs, "config", "path", "-w", "/ws", "--format", "json")
	require.NoError(t, err)
	var paths configPaths
	require.NoError(t, json.Unmarshal([]byte(out), &paths))
	assert.Equal(t, "/ws/stagehand.yaml", paths.Config)
	assert.Equal(t, "/ws/.stagehand/runs", paths.Runs)

	out, err = execute(t, fs, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "stagehand")

	_, err = execute(t, fs, "completion", "tcsh")
	assert.Error(t, err)
}

func TestRunsDelete(t *testing.T) {
	fs := newWorkspace(t, map[string]string{
		"a.txt":     "hello\n",
		"plan.yaml": withRequirement("exists"),
	})
	_, err := execute(t, fs, "run", "/ws/plan.yaml", "-w", "/ws")
	require.NoError(t, err)

	out, err := execute(t, fs, "runs", "list", "-w", "/ws", "--format", "json")
	require.NoError(t, err)
	var runs []struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)

	out, err = execute(t, fs, "runs", "delete", runs[0].RunID, "-w", "/ws")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted run")

	out, err = execute(t, fs, "runs", "list", "-w", "/ws")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}
