package ux

import (
	"path/filepath"

	"github.com/spf13/afero"
)

// Markers identifying a workspace root, checked in order.
var workspaceMarkers = []string{"stagehand.yaml", ".stagehand"}

// DiscoverWorkspace walks up from start looking for a workspace marker. The
// search stops at a git root or the filesystem root. It returns start and
// false when nothing is found.
func DiscoverWorkspace(fs afero.Fs, start string) (string, bool) {
	dir := filepath.Clean(start)
	for {
		for _, marker := range workspaceMarkers {
			if exists, _ := afero.Exists(fs, filepath.Join(dir, marker)); exists {
				return dir, true
			}
		}

		if isGitRoot, _ := afero.DirExists(fs, filepath.Join(dir, ".git")); isGitRoot {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return filepath.Clean(start), false
}
