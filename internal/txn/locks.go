package txn

import (
	"context"
	"slices"
	"sync"

	"github.com/felixgeelhaar/stagehand/internal/snapshot"
)

// RegionLocks serializes holders of overlapping workspace regions. Two
// regions overlap when a path of one equals or contains a path of the
// other; an empty region is the whole workspace.
type RegionLocks struct {
	mu      sync.Mutex
	held    map[uint64][]string
	next    uint64
	changed chan struct{}
}

// NewRegionLocks returns an empty lock table.
func NewRegionLocks() *RegionLocks {
	return &RegionLocks{
		held:    make(map[uint64][]string),
		changed: make(chan struct{}),
	}
}

// Acquire blocks until no held region overlaps region, then holds it. The
// returned release func is safe to call more than once.
func (l *RegionLocks) Acquire(ctx context.Context, region []string) (func(), error) {
	for {
		release, wait := l.try(region)
		if release != nil {
			return release, nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryAcquire holds region if nothing overlapping is held.
func (l *RegionLocks) TryAcquire(region []string) (func(), bool) {
	release, _ := l.try(region)
	return release, release != nil
}

// Held returns the number of regions currently held.
func (l *RegionLocks) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// try either takes the lock or returns a channel closed on the next release.
func (l *RegionLocks) try(region []string) (func(), <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, other := range l.held {
		if snapshot.Overlaps(region, other) {
			return nil, l.changed
		}
	}

	id := l.next
	l.next++
	l.held[id] = slices.Clone(region)

	var once sync.Once
	return func() {
		once.Do(func() { l.release(id) })
	}, nil
}

func (l *RegionLocks) release(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, id)
	close(l.changed)
	l.changed = make(chan struct{})
}
