package edit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"

	"github.com/felixgeelhaar/stagehand/internal/patch"
	"github.com/felixgeelhaar/stagehand/internal/plan"
	"github.com/felixgeelhaar/stagehand/internal/snapshot"
)

// StepPreview is the change one step would make.
type StepPreview struct {
	StepID string          `json:"step_id"`
	Patch  patch.FilePatch `json:"patch"`
	Err    string          `json:"error,omitempty"`
}

// Preview dry-runs the built-in steps of p against ws in dependency order.
// ws is only read. Steps depending on a failed preview are skipped, and
// steps of other kinds are reported with an error.
func Preview(ctx context.Context, ws snapshot.Workspace, p *plan.Plan) ([]StepPreview, error) {
	g, err := p.Graph()
	if err != nil {
		return nil, err
	}
	batches, err := g.Batches()
	if err != nil {
		return nil, err
	}

	ov := newOverlay(ws)
	failed := make(map[string]bool)
	var out []StepPreview
	for batch := range batches {
		for _, id := range batch {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			step, _ := p.Step(id)
			pv := StepPreview{StepID: id}

			h := New(step.Change.Kind, ov)
			switch {
			case slices.ContainsFunc(g.Dependencies(id), func(d string) bool { return failed[d] }):
				pv.Err = "skipped: a dependency cannot be applied"
			case h == nil:
				pv.Err = fmt.Sprintf("no preview for change kind %q", step.Change.Kind)
			default:
				target, cerr := snapshot.CleanPath(step.Target)
				if cerr == nil {
					pv.Patch, cerr = h.applyTo(ov, target, step.Change)
				}
				if cerr != nil {
					pv.Err = cerr.Error()
				}
			}
			if pv.Err != "" {
				failed[id] = true
			}
			out = append(out, pv)
		}
	}
	return out, nil
}

// overlay records writes in memory on top of a read-only base.
type overlay struct {
	base    snapshot.Workspace
	files   map[string][]byte
	removed map[string]bool
}

func newOverlay(base snapshot.Workspace) *overlay {
	return &overlay{base: base, files: make(map[string][]byte), removed: make(map[string]bool)}
}

func (o *overlay) Read(p string) ([]byte, error) {
	if data, ok := o.files[p]; ok {
		return slices.Clone(data), nil
	}
	if o.removed[p] {
		return nil, fmt.Errorf("read %s: %w", p, fs.ErrNotExist)
	}
	return o.base.Read(p)
}

func (o *overlay) Write(p string, data []byte) error {
	o.files[p] = slices.Clone(data)
	delete(o.removed, p)
	return nil
}

func (o *overlay) Remove(p string) error {
	if _, err := o.Read(p); err != nil {
		return err
	}
	delete(o.files, p)
	o.removed[p] = true
	return nil
}

func (o *overlay) List(root string) ([]string, error) {
	base, err := o.base.List(root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	var out []string
	for _, p := range base {
		if !o.removed[p] {
			out = append(out, p)
		}
	}
	for p := range o.files {
		if snapshot.Within(root, p) {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
