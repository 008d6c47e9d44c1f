package patch

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// Writer persists committed step patches as JSON files in one directory.
type Writer struct {
	fs       afero.Fs
	patchDir string
}

// NewWriter creates a new patch writer
func NewWriter(fs afero.Fs, patchDir string) *Writer {
	return &Writer{
		fs:       fs,
		patchDir: patchDir,
	}
}

func (w *Writer) patchPath(planID, stepID string) string {
	return filepath.Join(w.patchDir, fmt.Sprintf("%s_%s.patch.json", planID, stepID))
}

// WritePatch writes a patch to disk and returns its path.
func (w *Writer) WritePatch(p *Patch) (string, error) {
	if err := w.fs.MkdirAll(w.patchDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create patch directory: %w", err)
	}

	data, err := p.ToJSON()
	if err != nil {
		return "", fmt.Errorf("failed to serialize patch: %w", err)
	}

	dst := w.patchPath(p.PlanID, p.StepID)
	if err := afero.WriteFile(w.fs, dst, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write patch file: %w", err)
	}
	return dst, nil
}

// ReadPatch reads a patch from disk
func (w *Writer) ReadPatch(planID, stepID string) (*Patch, error) {
	data, err := afero.ReadFile(w.fs, w.patchPath(planID, stepID))
	if err != nil {
		return nil, fmt.Errorf("failed to read patch file: %w", err)
	}

	p, err := FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse patch: %w", err)
	}
	return p, nil
}

// ListPatches returns every patch recorded for planID, oldest first.
// Unreadable files are skipped.
func (w *Writer) ListPatches(planID string) ([]*Patch, error) {
	files, err := afero.Glob(w.fs, filepath.Join(w.patchDir, planID+"_*.patch.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob patches: %w", err)
	}

	var patches []*Patch
	for _, file := range files {
		data, err := afero.ReadFile(w.fs, file)
		if err != nil {
			continue
		}
		p, err := FromJSON(data)
		if err != nil {
			continue
		}
		patches = append(patches, p)
	}
	sort.SliceStable(patches, func(i, j int) bool {
		return patches[i].Timestamp.Before(patches[j].Timestamp)
	})
	return patches, nil
}

// DeletePatch deletes a patch file
func (w *Writer) DeletePatch(planID, stepID string) error {
	if err := w.fs.Remove(w.patchPath(planID, stepID)); err != nil {
		return fmt.Errorf("failed to delete patch: %w", err)
	}
	return nil
}
