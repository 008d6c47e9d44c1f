// Package snapshot captures and restores workspace regions. A snapshot is an
// immutable manifest of file hashes; file contents are stored once per
// distinct BLAKE3 hash and shared between snapshots.
package snapshot

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	"github.com/felixgeelhaar/stagehand/internal/log"
	"github.com/felixgeelhaar/stagehand/internal/patch"
)

// captureWorkers bounds parallel file reads during Create.
const captureWorkers = 8

// Entry records one captured file.
type Entry struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Manifest describes a snapshot.
type Manifest struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Region    []string         `json:"region,omitempty"`
	Files     map[string]Entry `json:"files"`
}

// Size returns the total captured bytes.
func (m *Manifest) Size() int64 {
	var n int64
	for _, e := range m.Files {
		n += e.Size
	}
	return n
}

// Paths returns the captured paths, sorted.
func (m *Manifest) Paths() []string {
	return slices.Sorted(maps.Keys(m.Files))
}

func (m *Manifest) clone() *Manifest {
	c := *m
	c.Region = slices.Clone(m.Region)
	c.Files = maps.Clone(m.Files)
	return &c
}

// Store keeps snapshots. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	backend backend
	now     func() time.Time
	logger  *log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewMemoryStore returns a store that keeps everything in memory.
func NewMemoryStore(opts ...Option) *Store {
	return newStore(newMemoryBackend(), opts)
}

// NewDiskStore returns a store persisted under dir on fsys.
func NewDiskStore(fsys afero.Fs, dir string, opts ...Option) *Store {
	return newStore(&diskBackend{fs: fsys, dir: dir}, opts)
}

func newStore(b backend, opts []Option) *Store {
	s := &Store{backend: b, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrNop(s.logger)
	return s
}

func hashContent(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type capturedFile struct {
	path string
	data []byte
}

// Create captures every file under region (the whole workspace when region
// is empty) and returns the new snapshot id. When ws implements Viewer the
// capture is a consistent point-in-time read.
func (s *Store) Create(ctx context.Context, ws Workspace, region ...string) (string, error) {
	roots, err := NormalizeRegion(region)
	if err != nil {
		return "", serr.NewInvalidArgumentError(err.Error())
	}

	var files []capturedFile
	capture := func(r Workspace) error {
		var err error
		files, err = captureRegion(ctx, r, roots)
		return err
	}
	if v, ok := ws.(Viewer); ok {
		err = v.View(capture)
	} else {
		err = capture(ws)
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", serr.NewCancelledError(ctx.Err())
		}
		return "", serr.Wrap(serr.ErrCodeSnapshotCapture, "failed to capture workspace", err)
	}

	m := &Manifest{
		ID:        uuid.NewString(),
		CreatedAt: s.now(),
		Region:    roots,
		Files:     make(map[string]Entry, len(files)),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range files {
		h := hashContent(f.data)
		if !s.backend.hasBlob(h) {
			if err := s.backend.putBlob(h, f.data); err != nil {
				return "", serr.Wrap(serr.ErrCodeSnapshotCapture, "failed to store file content", err)
			}
		}
		m.Files[f.path] = Entry{Hash: h, Size: int64(len(f.data))}
	}
	if err := s.backend.putManifest(m); err != nil {
		return "", serr.Wrap(serr.ErrCodeSnapshotCapture, "failed to store manifest", err)
	}

	s.logger.Info("snapshot created", "snapshot_id", m.ID, "files", len(m.Files), "bytes", m.Size())
	return m.ID, nil
}

func captureRegion(ctx context.Context, ws Workspace, roots []string) ([]capturedFile, error) {
	var paths []string
	if len(roots) == 0 {
		roots = []string{""}
	}
	for _, root := range roots {
		found, err := ws.List(root)
		if err != nil {
			return nil, err
		}
		paths = append(paths, found...)
	}

	files := make([]capturedFile, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(captureWorkers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := ws.Read(p)
			if err != nil {
				return fmt.Errorf("read %s: %w", p, err)
			}
			files[i] = capturedFile{path: p, data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// Get returns the manifest of snapshot id.
func (s *Store) Get(id string) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifestLocked(id)
}

func (s *Store) manifestLocked(id string) (*Manifest, error) {
	m, err := s.backend.getManifest(id)
	if errors.Is(err, errNoManifest) {
		return nil, serr.NewSnapshotNotFoundError(id)
	}
	if err != nil {
		return nil, serr.Wrap(serr.ErrCodeSnapshotRestore, "failed to read manifest", err)
	}
	return m, nil
}

// List returns every live snapshot, oldest first.
func (s *Store) List() ([]*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, err := s.backend.listManifests()
	if err != nil {
		return nil, err
	}
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].ID < ms[j].ID
		}
		return ms[i].CreatedAt.Before(ms[j].CreatedAt)
	})
	return ms, nil
}

// contentsLocked loads every captured file of m.
func (s *Store) contentsLocked(m *Manifest) (map[string][]byte, error) {
	out := make(map[string][]byte, len(m.Files))
	for p, e := range m.Files {
		data, err := s.backend.getBlob(e.Hash)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
		out[p] = data
	}
	return out, nil
}

// Restore makes the snapshot's region match the snapshot exactly: captured
// files are rewritten and files created inside the region since the capture
// are removed. Restoring twice is harmless. When ws implements Updater the
// whole restore runs with exclusive access.
func (s *Store) Restore(ctx context.Context, ws Workspace, id string) error {
	if err := ctx.Err(); err != nil {
		return serr.NewCancelledError(err)
	}

	s.mu.Lock()
	m, err := s.manifestLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	contents, err := s.contentsLocked(m)
	s.mu.Unlock()
	if err != nil {
		return serr.Wrap(serr.ErrCodeSnapshotRestore, "failed to load snapshot content", err)
	}

	restore := func(w Workspace) error { return restoreRegion(w, m, contents) }
	if u, ok := ws.(Updater); ok {
		err = u.Update(restore)
	} else {
		err = restore(ws)
	}
	if err != nil {
		return serr.Wrap(serr.ErrCodeSnapshotRestore, fmt.Sprintf("failed to restore snapshot %s", id), err)
	}

	s.logger.Info("snapshot restored", "snapshot_id", id, "files", len(m.Files))
	return nil
}

func restoreRegion(ws Workspace, m *Manifest, contents map[string][]byte) error {
	current, err := listRegion(ws, m.Region)
	if err != nil {
		return err
	}
	for _, p := range current {
		if _, captured := m.Files[p]; captured {
			continue
		}
		if err := ws.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	for _, p := range m.Paths() {
		if err := ws.Write(p, contents[p]); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
	}
	return nil
}

func listRegion(ws Workspace, region []string) ([]string, error) {
	if len(region) == 0 {
		return ws.List("")
	}
	var out []string
	for _, root := range region {
		found, err := ws.List(root)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

// Discard drops snapshot id and any content no other snapshot shares.
// Discarding an unknown or already discarded snapshot is a no-op.
func (s *Store) Discard(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.backend.getManifest(id)
	if errors.Is(err, errNoManifest) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.backend.deleteManifest(id); err != nil {
		return err
	}

	rest, err := s.backend.listManifests()
	if err != nil {
		return err
	}
	live := make(map[string]bool)
	for _, other := range rest {
		for _, e := range other.Files {
			live[e.Hash] = true
		}
	}
	for _, e := range m.Files {
		if !live[e.Hash] {
			if err := s.backend.deleteBlob(e.Hash); err != nil {
				return err
			}
			live[e.Hash] = true
		}
	}

	s.logger.Debug("snapshot discarded", "snapshot_id", id)
	return nil
}

// Diff describes how the workspace region has changed since snapshot id,
// one file patch per changed path, sorted by path.
func (s *Store) Diff(ctx context.Context, ws Workspace, id string) ([]patch.FilePatch, error) {
	s.mu.Lock()
	m, err := s.manifestLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	before, err := s.contentsLocked(m)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []patch.FilePatch
	compare := func(w Workspace) error {
		current, err := listRegion(w, m.Region)
		if err != nil {
			return err
		}
		paths := slices.Clone(current)
		paths = append(paths, m.Paths()...)
		slices.Sort(paths)
		paths = slices.Compact(paths)

		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				return err
			}
			old, existed := before[p]
			data, err := w.Read(p)
			exists := err == nil
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if fp, changed := patch.NewFilePatch(p, string(old), string(data), existed, exists); changed {
				out = append(out, fp)
			}
		}
		return nil
	}
	if v, ok := ws.(Viewer); ok {
		err = v.View(compare)
	} else {
		err = compare(ws)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
