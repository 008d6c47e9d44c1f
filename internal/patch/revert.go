package patch

import (
	"errors"
	"fmt"
	"io/fs"
)

// Target is the file access a revert needs. snapshot.Workspace satisfies it.
type Target interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Remove(path string) error
}

// RevertResult reports the outcome of reverting one or more patches.
type RevertResult struct {
	FilesReverted int      `json:"filesReverted"`
	Conflicts     []string `json:"conflicts,omitempty"`
}

// Conflicts lists files whose current state no longer matches what p left
// behind. Reverting them would discard later edits.
func Conflicts(t Target, p *Patch) ([]string, error) {
	var conflicts []string
	for _, fp := range p.Files {
		data, err := t.Read(fp.Path)
		exists := err == nil
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read file %s: %w", fp.Path, err)
		}

		switch fp.Status {
		case FileStatusAdded, FileStatusModified:
			if !exists {
				conflicts = append(conflicts, fmt.Sprintf("file %s no longer exists", fp.Path))
			} else if string(data) != fp.NewContent {
				conflicts = append(conflicts, fmt.Sprintf("file %s has been modified since the patch was applied", fp.Path))
			}
		case FileStatusDeleted:
			if exists {
				conflicts = append(conflicts, fmt.Sprintf("file %s has been recreated", fp.Path))
			}
		}
	}
	return conflicts, nil
}

// Revert undoes patches in reverse order. Unless force is set it refuses to
// touch anything when any patch has conflicts.
func Revert(t Target, patches []*Patch, force bool) (*RevertResult, error) {
	result := &RevertResult{}
	for _, p := range patches {
		c, err := Conflicts(t, p)
		if err != nil {
			return result, err
		}
		result.Conflicts = append(result.Conflicts, c...)
	}
	if len(result.Conflicts) > 0 && !force {
		return result, fmt.Errorf("refusing to revert: %d conflicting file(s)", len(result.Conflicts))
	}

	for i := len(patches) - 1; i >= 0; i-- {
		files := patches[i].Files
		for j := len(files) - 1; j >= 0; j-- {
			if err := revertFile(t, files[j]); err != nil {
				return result, fmt.Errorf("failed to revert %s (step %s): %w", files[j].Path, patches[i].StepID, err)
			}
			result.FilesReverted++
		}
	}
	return result, nil
}

func revertFile(t Target, fp FilePatch) error {
	switch fp.Status {
	case FileStatusAdded:
		if err := t.Remove(fp.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	case FileStatusModified, FileStatusDeleted:
		return t.Write(fp.Path, []byte(fp.OldContent))
	default:
		return fmt.Errorf("unknown file status: %s", fp.Status)
	}
}
