package eval

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	stexec "github.com/felixgeelhaar/stagehand/internal/exec"
	"github.com/felixgeelhaar/stagehand/internal/plan"
	"github.com/felixgeelhaar/stagehand/internal/snapshot"
	"github.com/felixgeelhaar/stagehand/internal/task"
)

func newGate(t *testing.T, files map[string]string, opts ...GateOption) *Gate {
	t.Helper()
	ws := snapshot.MemWorkspace()
	for p, c := range files {
		require.NoError(t, ws.Write(p, []byte(c)))
	}
	return NewGate(ws, opts...)
}

func stepOn(target string, reqs ...string) plan.Step {
	return plan.Step{ID: "s", Target: target, Change: plan.Change{Kind: plan.KindWrite}, Validation: reqs}
}

func TestParseRequirement(t *testing.T) {
	assert.Equal(t, Requirement{Name: "exists"}, ParseRequirement(" exists "))
	assert.Equal(t, Requirement{Name: "contains", Arg: "a=b"}, ParseRequirement("contains=a=b"))
	assert.Equal(t, "max-bytes=10", ParseRequirement("max-bytes=10").String())
}

func TestGate_BuiltinChecks(t *testing.T) {
	g := newGate(t, map[string]string{
		"cfg.yaml":  "name: demo\nitems: [1, 2]\n",
		"bad.yaml":  "name: [unclosed\n",
		"data.json": `{"ok": true}`,
		"blank.txt": "  \n",
	})

	tests := []struct {
		target string
		req    string
		passed bool
	}{
		{"cfg.yaml", "exists", true},
		{"nope.txt", "exists", false},
		{"nope.txt", "absent", true},
		{"cfg.yaml", "absent", false},
		{"cfg.yaml", "non-empty", true},
		{"blank.txt", "non-empty", false},
		{"cfg.yaml", "contains=demo", true},
		{"cfg.yaml", "contains=other", false},
		{"cfg.yaml", "contains", false},
		{"cfg.yaml", "not-contains=secret", true},
		{"cfg.yaml", "not-contains=demo", false},
		{"nope.txt", "not-contains=x", true},
		{"cfg.yaml", "max-bytes=100", true},
		{"cfg.yaml", "max-bytes=3", false},
		{"cfg.yaml", "max-bytes=lots", false},
		{"cfg.yaml", "yaml", true},
		{"bad.yaml", "yaml", false},
		{"data.json", "json", true},
		{"cfg.yaml", "json", false},
		{"cfg.yaml", "telepathy", false},
		{"cfg.yaml", "command=true", false},
	}

	for _, tt := range tests {
		t.Run(tt.target+"/"+tt.req, func(t *testing.T) {
			report, err := g.Evaluate(context.Background(), stepOn(tt.target, tt.req))
			require.NoError(t, err)
			require.Len(t, report.Checks, 1)
			assert.Equal(t, tt.passed, report.Checks[0].Passed, report.Checks[0].Message)
			assert.Equal(t, tt.passed, report.AllPassed)
		})
	}
}

func TestGate_CommandCheck(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	g := newGate(t, nil, WithDir(t.TempDir()))

	report, err := g.Evaluate(context.Background(), stepOn("a.txt", "command=test \"$STAGEHAND_TARGET\" = a.txt", "command=echo nope; exit 3"))
	require.NoError(t, err)
	require.Len(t, report.Checks, 2)
	assert.True(t, report.Checks[0].Passed, report.Checks[0].Message)
	assert.False(t, report.Checks[1].Passed)
	assert.Equal(t, "exit status 3: nope", report.Checks[1].Message)
}

func TestGate_Validate(t *testing.T) {
	g := newGate(t, map[string]string{"a.txt": "hello"})
	done := stexec.TaskResult{Status: task.StatusCompleted}

	v, err := g.Validate(context.Background(), stepOn("a.txt", "exists", "contains=hello"), done)
	require.NoError(t, err)
	assert.True(t, v.Success)

	v, err = g.Validate(context.Background(), stepOn("a.txt", "exists", "contains=bye", "max-bytes=1"), done)
	require.NoError(t, err)
	assert.False(t, v.Success)
	assert.Equal(t, `contains=bye: "bye" not found; max-bytes=1: 5 bytes exceeds 1`, v.Details)

	v, err = g.Validate(context.Background(), stepOn("a.txt"), done)
	require.NoError(t, err)
	assert.True(t, v.Success, "no requirements")

	v, err = g.Validate(context.Background(), stepOn("a.txt", "exists"), stexec.TaskResult{Status: task.StatusFailed})
	require.NoError(t, err)
	assert.False(t, v.Success)
	assert.Contains(t, v.Details, "not completed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Validate(ctx, stepOn("a.txt", "exists"), done)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGate_Register(t *testing.T) {
	g := newGate(t, map[string]string{"go.mod": "module x\n"})
	lines := func(ctx context.Context, in Input) (bool, string, error) {
		data, err := in.Workspace.Read(in.Step.Target)
		if err != nil {
			return false, "", err
		}
		return len(data) > 0 && data[len(data)-1] == '\n', "ends with newline", nil
	}

	require.NoError(t, g.Register("trailing-newline", lines))
	assert.True(t, serr.HasCode(g.Register("exists", lines), serr.ErrCodeInvalidArgument))
	assert.True(t, serr.HasCode(g.Register("", lines), serr.ErrCodeInvalidArgument))
	assert.Contains(t, g.Checks(), "trailing-newline")

	report, err := g.Evaluate(context.Background(), stepOn("go.mod", "trailing-newline"))
	require.NoError(t, err)
	assert.True(t, report.AllPassed)
	assert.Equal(t, 1, report.TotalPassed)
}
