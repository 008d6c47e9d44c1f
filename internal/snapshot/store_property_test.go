package snapshot

import (
	"context"
	"fmt"
	"maps"
	"testing"

	"pgregory.net/rapid"
)

func genFiles() *rapid.Generator[map[string]string] {
	return rapid.MapOf(
		rapid.SampledFrom([]string{"a", "b", "src/c", "src/d", "src/e/f", "docs/g"}),
		rapid.StringMatching(`[a-z\n]{0,20}`),
	)
}

func snapshotOf(ws Workspace) (map[string]string, error) {
	paths, err := ws.List("")
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		data, err := ws.Read(p)
		if err != nil {
			return nil, err
		}
		out[p] = string(data)
	}
	return out, nil
}

// TestStore_RestoreRoundTrip tests that restore after arbitrary edits yields
// exactly the captured state, for the whole workspace or a sub-region.
func TestStore_RestoreRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		ws := MemWorkspace()
		for p, c := range genFiles().Draw(t, "initial") {
			if err := ws.Write(p, []byte(c)); err != nil {
				t.Fatal(err)
			}
		}
		before, err := snapshotOf(ws)
		if err != nil {
			t.Fatal(err)
		}

		region := rapid.SampledFrom([][]string{nil, {"src"}, {"a", "docs"}}).Draw(t, "region")
		store := NewMemoryStore()
		id, err := store.Create(ctx, ws, region...)
		if err != nil {
			t.Fatal(err)
		}

		edits := rapid.IntRange(0, 10).Draw(t, "edits")
		for i := range edits {
			p := rapid.SampledFrom([]string{"a", "b", "src/c", "src/new", "docs/g", "x/y"}).Draw(t, fmt.Sprintf("path%d", i))
			if rapid.Bool().Draw(t, fmt.Sprintf("remove%d", i)) {
				_ = ws.Remove(p)
			} else if err := ws.Write(p, []byte(fmt.Sprintf("edit %d", i))); err != nil {
				t.Fatal(err)
			}
		}
		edited, err := snapshotOf(ws)
		if err != nil {
			t.Fatal(err)
		}

		if err := store.Restore(ctx, ws, id); err != nil {
			t.Fatal(err)
		}
		after, err := snapshotOf(ws)
		if err != nil {
			t.Fatal(err)
		}

		// Inside the region the workspace matches the capture; outside it
		// keeps the edits.
		want := make(map[string]string)
		for p, c := range before {
			if InRegion(region, p) {
				want[p] = c
			}
		}
		for p, c := range edited {
			if !InRegion(region, p) {
				want[p] = c
			}
		}
		if !maps.Equal(want, after) {
			t.Fatalf("restore mismatch\nwant %v\ngot  %v", want, after)
		}
	})
}
