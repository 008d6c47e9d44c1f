package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// errNoManifest is returned by backends for an unknown snapshot id.
var errNoManifest = errors.New("manifest not found")

// backend stores manifests and content-addressed blobs. Store serializes
// all calls.
type backend interface {
	hasBlob(hash string) bool
	putBlob(hash string, data []byte) error
	getBlob(hash string) ([]byte, error)
	deleteBlob(hash string) error
	putManifest(m *Manifest) error
	getManifest(id string) (*Manifest, error)
	deleteManifest(id string) error
	listManifests() ([]*Manifest, error)
}

type memoryBackend struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	manifests map[string]*Manifest
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		blobs:     make(map[string][]byte),
		manifests: make(map[string]*Manifest),
	}
}

func (b *memoryBackend) hasBlob(hash string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blobs[hash]
	return ok
}

func (b *memoryBackend) putBlob(hash string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[hash] = append([]byte(nil), data...)
	return nil
}

func (b *memoryBackend) getBlob(hash string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[hash]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", hash, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (b *memoryBackend) deleteBlob(hash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, hash)
	return nil
}

func (b *memoryBackend) putManifest(m *Manifest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.manifests[m.ID] = m.clone()
	return nil
}

func (b *memoryBackend) getManifest(id string) (*Manifest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.manifests[id]
	if !ok {
		return nil, errNoManifest
	}
	return m.clone(), nil
}

func (b *memoryBackend) deleteManifest(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.manifests, id)
	return nil
}

func (b *memoryBackend) listManifests() ([]*Manifest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Manifest, 0, len(b.manifests))
	for _, m := range b.manifests {
		out = append(out, m.clone())
	}
	return out, nil
}

// diskBackend lays a store out as
//
//	<dir>/snapshots/<id>.json
//	<dir>/objects/<hash[:2]>/<hash>
type diskBackend struct {
	fs  afero.Fs
	dir string
}

func (b *diskBackend) blobPath(hash string) string {
	return filepath.Join(b.dir, "objects", hash[:2], hash)
}

func (b *diskBackend) manifestPath(id string) string {
	return filepath.Join(b.dir, "snapshots", id+".json")
}

// writeAtomic writes through a temporary file and a rename so readers never
// see a partial file.
func (b *diskBackend) writeAtomic(dst string, data []byte) error {
	if err := b.fs.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := afero.WriteFile(b.fs, tmp, data, 0o600); err != nil {
		return err
	}
	return b.fs.Rename(tmp, dst)
}

func (b *diskBackend) hasBlob(hash string) bool {
	_, err := b.fs.Stat(b.blobPath(hash))
	return err == nil
}

func (b *diskBackend) putBlob(hash string, data []byte) error {
	return b.writeAtomic(b.blobPath(hash), data)
}

func (b *diskBackend) getBlob(hash string) ([]byte, error) {
	return afero.ReadFile(b.fs, b.blobPath(hash))
}

func (b *diskBackend) deleteBlob(hash string) error {
	err := b.fs.Remove(b.blobPath(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (b *diskBackend) putManifest(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return b.writeAtomic(b.manifestPath(m.ID), data)
}

func (b *diskBackend) getManifest(id string) (*Manifest, error) {
	if strings.ContainsAny(id, `/\`) || id == "" {
		return nil, errNoManifest
	}
	data, err := afero.ReadFile(b.fs, b.manifestPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errNoManifest
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", id, err)
	}
	return &m, nil
}

func (b *diskBackend) deleteManifest(id string) error {
	err := b.fs.Remove(b.manifestPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (b *diskBackend) listManifests() ([]*Manifest, error) {
	names, err := afero.Glob(b.fs, filepath.Join(b.dir, "snapshots", "*.json"))
	if err != nil {
		return nil, err
	}
	out := make([]*Manifest, 0, len(names))
	for _, name := range names {
		m, err := b.getManifest(strings.TrimSuffix(filepath.Base(name), ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
