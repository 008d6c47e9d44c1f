// Package edit provides the built-in handlers that apply plan step changes
// to a workspace.
package edit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/felixgeelhaar/stagehand/internal/exec"
	"github.com/felixgeelhaar/stagehand/internal/patch"
	"github.com/felixgeelhaar/stagehand/internal/plan"
	"github.com/felixgeelhaar/stagehand/internal/snapshot"
	"github.com/felixgeelhaar/stagehand/internal/task"
)

// applyFunc computes a file's content after a change. It reports whether
// the file should exist afterwards.
type applyFunc func(target string, old []byte, existed bool, c plan.Change) ([]byte, bool, error)

// Handler applies one change kind to a workspace. Its output is the
// resulting patch.FilePatch; an edit that changes nothing yields a patch
// with an empty Status.
type Handler struct {
	ws    snapshot.Workspace
	apply applyFunc
}

var kinds = map[string]applyFunc{
	plan.KindWrite:   applyWrite,
	plan.KindAppend:  applyAppend,
	plan.KindReplace: applyReplace,
	plan.KindDelete:  applyDelete,
}

// Register installs a handler for every built-in change kind.
func Register(h *exec.Handlers, ws snapshot.Workspace) error {
	for _, kind := range []string{plan.KindWrite, plan.KindAppend, plan.KindReplace, plan.KindDelete} {
		if err := h.Register(kind, New(kind, ws)); err != nil {
			return err
		}
	}
	return nil
}

// New returns the handler for kind, or nil for an unknown kind.
func New(kind string, ws snapshot.Workspace) *Handler {
	apply, ok := kinds[kind]
	if !ok {
		return nil
	}
	return &Handler{ws: ws, apply: apply}
}

// StepOf extracts the plan step a task was created from.
func StepOf(t task.Task) (plan.Step, error) {
	switch s := t.Context.Payload.(type) {
	case plan.Step:
		return s, nil
	case *plan.Step:
		if s != nil {
			return *s, nil
		}
	}
	return plan.Step{}, fmt.Errorf("task %s carries no plan step", t.ID)
}

// Execute applies the task's step inside an exclusive workspace section
// when the workspace offers one.
func (h *Handler) Execute(ctx context.Context, t task.Task) (exec.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	step, err := StepOf(t)
	if err != nil {
		return nil, err
	}
	target, err := snapshot.CleanPath(step.Target)
	if err != nil {
		return nil, err
	}

	var out patch.FilePatch
	run := func(ws snapshot.Workspace) error {
		out, err = h.applyTo(ws, target, step.Change)
		return err
	}
	if u, ok := h.ws.(snapshot.Updater); ok {
		err = u.Update(run)
	} else {
		err = run(h.ws)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Handler) applyTo(ws snapshot.Workspace, target string, c plan.Change) (patch.FilePatch, error) {
	old, err := ws.Read(target)
	existed := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return patch.FilePatch{}, err
	}

	content, keep, err := h.apply(target, old, existed, c)
	if err != nil {
		return patch.FilePatch{}, err
	}

	switch {
	case keep && (!existed || !bytes.Equal(old, content)):
		err = ws.Write(target, content)
	case !keep && existed:
		err = ws.Remove(target)
	}
	if err != nil {
		return patch.FilePatch{}, err
	}

	fp, changed := patch.NewFilePatch(target, string(old), string(content), existed, keep)
	if !changed {
		return patch.FilePatch{Path: target}, nil
	}
	return fp, nil
}

func applyWrite(_ string, _ []byte, _ bool, c plan.Change) ([]byte, bool, error) {
	return []byte(c.Content), true, nil
}

func applyAppend(_ string, old []byte, _ bool, c plan.Change) ([]byte, bool, error) {
	out := make([]byte, 0, len(old)+len(c.Content))
	out = append(out, old...)
	return append(out, c.Content...), true, nil
}

func applyReplace(target string, old []byte, existed bool, c plan.Change) ([]byte, bool, error) {
	if !existed {
		return nil, false, fmt.Errorf("%s: file does not exist", target)
	}
	if c.Old == "" || !bytes.Contains(old, []byte(c.Old)) {
		return nil, false, fmt.Errorf("%s: text to replace not found", target)
	}
	return bytes.ReplaceAll(old, []byte(c.Old), []byte(c.New)), true, nil
}

func applyDelete(target string, _ []byte, existed bool, _ plan.Change) ([]byte, bool, error) {
	if !existed {
		return nil, false, fmt.Errorf("%s: file does not exist", target)
	}
	return nil, false, nil
}
