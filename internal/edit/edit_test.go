package edit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/stagehand/internal/exec"
	"github.com/felixgeelhaar/stagehand/internal/patch"
	"github.com/felixgeelhaar/stagehand/internal/plan"
	"github.com/felixgeelhaar/stagehand/internal/snapshot"
	"github.com/felixgeelhaar/stagehand/internal/task"
)

func stepTask(s plan.Step) task.Task {
	return task.Task{ID: "task-1", Kind: s.Change.Kind, Context: task.Context{Payload: s}}
}

func run(t *testing.T, ws snapshot.Workspace, s plan.Step) (patch.FilePatch, error) {
	t.Helper()
	out, err := New(s.Change.Kind, ws).Execute(context.Background(), stepTask(s))
	if err != nil {
		return patch.FilePatch{}, err
	}
	fp, ok := out.(patch.FilePatch)
	require.True(t, ok, "output is %T", out)
	return fp, nil
}

func read(t *testing.T, ws snapshot.Workspace, p string) string {
	t.Helper()
	data, err := ws.Read(p)
	require.NoError(t, err)
	return string(data)
}

func TestWrite(t *testing.T) {
	ws := snapshot.MemWorkspace()

	fp, err := run(t, ws, plan.Step{Target: "/docs/a.md", Change: plan.Change{Kind: plan.KindWrite, Content: "hello\n"}})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", read(t, ws, "docs/a.md"))
	assert.Equal(t, patch.FileStatusAdded, fp.Status)
	assert.Equal(t, "docs/a.md", fp.Path)
	assert.Equal(t, 1, fp.Insertions)

	fp, err = run(t, ws, plan.Step{Target: "docs/a.md", Change: plan.Change{Kind: plan.KindWrite, Content: "hello\n"}})
	require.NoError(t, err)
	assert.Empty(t, fp.Status)
	assert.Equal(t, "docs/a.md", fp.Path)
}

func TestAppend(t *testing.T) {
	ws := snapshot.MemWorkspace()
	require.NoError(t, ws.Write("log.txt", []byte("one\n")))

	fp, err := run(t, ws, plan.Step{Target: "log.txt", Change: plan.Change{Kind: plan.KindAppend, Content: "two\n"}})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", read(t, ws, "log.txt"))
	assert.Equal(t, patch.FileStatusModified, fp.Status)

	_, err = run(t, ws, plan.Step{Target: "new.txt", Change: plan.Change{Kind: plan.KindAppend, Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "x", read(t, ws, "new.txt"))
}

func TestReplace(t *testing.T) {
	ws := snapshot.MemWorkspace()
	require.NoError(t, ws.Write("cfg.yaml", []byte("a: 1\nb: 1\n")))

	fp, err := run(t, ws, plan.Step{Target: "cfg.yaml", Change: plan.Change{Kind: plan.KindReplace, Old: ": 1", New: ": 2"}})
	require.NoError(t, err)
	assert.Equal(t, "a: 2\nb: 2\n", read(t, ws, "cfg.yaml"))
	assert.Equal(t, 2, fp.Insertions)
	assert.Equal(t, 2, fp.Deletions)

	_, err = run(t, ws, plan.Step{Target: "cfg.yaml", Change: plan.Change{Kind: plan.KindReplace, Old: "zzz", New: "y"}})
	assert.ErrorContains(t, err, "text to replace not found")

	_, err = run(t, ws, plan.Step{Target: "nope.yaml", Change: plan.Change{Kind: plan.KindReplace, Old: "a", New: "b"}})
	assert.ErrorContains(t, err, "does not exist")
}

func TestDelete(t *testing.T) {
	ws := snapshot.MemWorkspace()
	require.NoError(t, ws.Write("old.txt", []byte("bye\n")))

	fp, err := run(t, ws, plan.Step{Target: "old.txt", Change: plan.Change{Kind: plan.KindDelete}})
	require.NoError(t, err)
	assert.Equal(t, patch.FileStatusDeleted, fp.Status)
	assert.Equal(t, "bye\n", fp.OldContent)
	files, err := ws.List("")
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = run(t, ws, plan.Step{Target: "old.txt", Change: plan.Change{Kind: plan.KindDelete}})
	assert.ErrorContains(t, err, "does not exist")
}

func TestExecuteRejects(t *testing.T) {
	ws := snapshot.MemWorkspace()
	h := New(plan.KindWrite, ws)

	_, err := h.Execute(context.Background(), task.Task{ID: "task-1"})
	assert.ErrorContains(t, err, "carries no plan step")

	_, err = h.Execute(context.Background(), stepTask(plan.Step{Target: "../x", Change: plan.Change{Kind: plan.KindWrite}}))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Execute(ctx, stepTask(plan.Step{Target: "x", Change: plan.Change{Kind: plan.KindWrite}}))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Nil(t, New("chmod", ws))
}

func TestStepOfPointer(t *testing.T) {
	s := plan.Step{ID: "s1", Target: "a"}
	got, err := StepOf(task.Task{Context: task.Context{Payload: &s}})
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
}

func TestRegister(t *testing.T) {
	h := exec.NewHandlers()
	require.NoError(t, Register(h, snapshot.MemWorkspace()))
	assert.Equal(t, []string{"append", "delete", "replace", "write"}, h.Kinds())
	assert.Error(t, Register(h, snapshot.MemWorkspace()))
}
