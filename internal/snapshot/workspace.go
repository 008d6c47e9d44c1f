package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"sync"

	"github.com/spf13/afero"
)

// Workspace is the file accessor edits and snapshots go through. Paths are
// workspace-relative with forward slashes. Read of a missing file returns an
// error matching fs.ErrNotExist. Implementations must be safe for
// concurrent use.
type Workspace interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Remove(path string) error
	// List returns every file at or below root, sorted. A missing root
	// yields no files; the empty root lists the whole workspace.
	List(root string) ([]string, error)
}

// Viewer is implemented by workspaces that can hold writers off while fn
// reads a consistent state through the workspace it is given.
type Viewer interface {
	View(fn func(Workspace) error) error
}

// Updater is implemented by workspaces that can give fn exclusive write
// access through the workspace it is given.
type Updater interface {
	Update(fn func(Workspace) error) error
}

// FSWorkspace is a Workspace over an afero filesystem rooted at a directory.
// Single operations are atomic with respect to View and Update.
type FSWorkspace struct {
	mu     sync.RWMutex
	fs     afero.Fs
	ignore []string
}

// WorkspaceOption configures an FSWorkspace.
type WorkspaceOption func(*FSWorkspace)

// WithIgnore hides paths under the given prefixes from List, so snapshots
// never capture or remove them.
func WithIgnore(prefixes ...string) WorkspaceOption {
	return func(w *FSWorkspace) {
		for _, p := range prefixes {
			if c, err := CleanPath(p); err == nil && c != "" {
				w.ignore = append(w.ignore, c)
			}
		}
	}
}

// NewFSWorkspace roots a workspace at root on fsys.
func NewFSWorkspace(fsys afero.Fs, root string, opts ...WorkspaceOption) *FSWorkspace {
	w := &FSWorkspace{fs: afero.NewBasePathFs(fsys, root)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// MemWorkspace returns an empty in-memory workspace.
func MemWorkspace(opts ...WorkspaceOption) *FSWorkspace {
	return NewFSWorkspace(afero.NewMemMapFs(), "/", opts...)
}

func (w *FSWorkspace) Read(p string) ([]byte, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.read(p)
}

func (w *FSWorkspace) Write(p string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write(p, data)
}

func (w *FSWorkspace) Remove(p string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.remove(p)
}

func (w *FSWorkspace) List(root string) ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.list(root)
}

// View runs fn while writers are held off.
func (w *FSWorkspace) View(fn func(Workspace) error) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return fn(unlocked{w})
}

// Update runs fn with exclusive access.
func (w *FSWorkspace) Update(fn func(Workspace) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn(unlocked{w})
}

// unlocked exposes the workspace to View and Update callbacks, which
// already hold the lock.
type unlocked struct{ w *FSWorkspace }

func (u unlocked) Read(p string) ([]byte, error) { return u.w.read(p) }
func (u unlocked) Write(p string, data []byte) error { return u.w.write(p, data) }
func (u unlocked) Remove(p string) error { return u.w.remove(p) }
func (u unlocked) List(root string) ([]string, error) { return u.w.list(root) }

func (w *FSWorkspace) read(p string) ([]byte, error) {
	c, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	if c == "" {
		return nil, fmt.Errorf("read %q: is the workspace root", p)
	}
	return afero.ReadFile(w.fs, c)
}

func (w *FSWorkspace) write(p string, data []byte) error {
	c, err := CleanPath(p)
	if err != nil {
		return err
	}
	if c == "" {
		return fmt.Errorf("write %q: is the workspace root", p)
	}
	if dir := path.Dir(c); dir != "." {
		if err := w.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", c, err)
		}
	}
	return afero.WriteFile(w.fs, c, data, 0o644)
}

func (w *FSWorkspace) remove(p string) error {
	c, err := CleanPath(p)
	if err != nil {
		return err
	}
	info, err := w.fs.Stat(c)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("remove %s: is a directory", c)
	}
	return w.fs.Remove(c)
}

func (w *FSWorkspace) ignored(p string) bool {
	return slices.ContainsFunc(w.ignore, func(prefix string) bool { return Within(prefix, p) })
}

func (w *FSWorkspace) list(root string) ([]string, error) {
	c, err := CleanPath(root)
	if err != nil {
		return nil, err
	}
	start := c
	if start == "" {
		start = "."
	}

	info, err := w.fs.Stat(start)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if w.ignored(c) {
			return nil, nil
		}
		return []string{c}, nil
	}

	var files []string
	err = afero.Walk(w.fs, start, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, cerr := CleanPath(p)
		if cerr != nil {
			return cerr
		}
		if rel != "" && w.ignored(rel) {
			if info.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", start, err)
	}
	slices.Sort(files)
	return files, nil
}
