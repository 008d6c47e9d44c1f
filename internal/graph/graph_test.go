package graph

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
)

func collect(t *testing.T, g *Graph) [][]string {
	t.Helper()
	seq, err := g.Batches()
	require.NoError(t, err)
	var waves [][]string
	for w := range seq {
		waves = append(waves, w)
	}
	return waves
}

func TestAddEdgeAutoAddsNodes(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("a", "b"))

	assert.True(t, g.HasNode("a"))
	assert.True(t, g.HasNode("b"))
	assert.Equal(t, []string{"a", "b"}, g.Nodes())
	assert.Equal(t, []string{"b"}, g.Dependencies("a"))
	assert.Equal(t, []string{"a"}, g.Dependents("b"))
}

func TestAddEdgeDuplicateIsNoop(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "b"))
	assert.Len(t, g.Edges(), 1)
}

func TestSelfDependencyRejected(t *testing.T) {
	g := New()
	g.AddNode("a")
	err := g.AddEdge("a", "a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, serr.ErrCyclicDependency))
	assert.Empty(t, g.Edges())
}

// a depends on b, b on c; c -> a closes a loop and must be rejected with
// the graph left as it was.
func TestCycleRejectionLeavesGraphUnchanged(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	before := g.Edges()

	err := g.AddEdge("c", "a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, serr.ErrCyclicDependency))
	assert.Contains(t, err.Error(), "a -> b -> c")
	assert.Equal(t, before, g.Edges())

	waves := collect(t, g)
	assert.Equal(t, [][]string{{"c"}, {"b"}, {"a"}}, waves)
}

func TestAddEdgesAllOrNothing(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("b", "a"))

	err := g.AddEdges("a", "c", "b")
	require.Error(t, err)
	assert.False(t, g.HasNode("c"), "no node from a rejected batch may be added")
	assert.Empty(t, g.Dependencies("a"))

	require.NoError(t, g.AddEdges("d", "a", "b", "a"))
	assert.Equal(t, []string{"a", "b"}, g.Dependencies("d"))
}

func TestRemoveNode(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("c", "a"))

	g.RemoveNode("a")
	assert.Equal(t, []string{"b", "c"}, g.Nodes())
	assert.Empty(t, g.Edges())
	assert.Empty(t, g.Dependents("b"))

	g.RemoveNode("missing")
	assert.Equal(t, 2, g.Len())
}

func TestReadySet(t *testing.T) {
	g := New()
	g.AddNode("root")
	require.NoError(t, g.AddEdge("mid", "root"))
	require.NoError(t, g.AddEdge("leaf", "mid"))
	g.AddNode("solo")

	assert.Equal(t, []string{"root", "solo"}, g.ReadySet(NewSet()))
	assert.Equal(t, []string{"mid", "solo"}, g.ReadySet(NewSet("root")))
	assert.Equal(t, []string{"leaf"}, g.ReadySet(NewSet("root", "mid", "solo")))
	assert.Empty(t, g.ReadySet(NewSet("root", "mid", "solo", "leaf")))
}

func TestBatchesDiamond(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdges("b", "a"))
	require.NoError(t, g.AddEdges("c", "a"))
	require.NoError(t, g.AddEdges("d", "b", "c"))

	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, collect(t, g))
}

func TestBatchesRestartableAndSnapshotted(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("b", "a"))

	seq, err := g.Batches()
	require.NoError(t, err)

	require.NoError(t, g.AddEdge("c", "b"))

	for range 2 {
		var waves [][]string
		for w := range seq {
			waves = append(waves, w)
		}
		assert.Equal(t, [][]string{{"a"}, {"b"}}, waves)
	}
}

func TestBatchesEarlyBreak(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("b", "a"))
	require.NoError(t, g.AddEdge("c", "b"))

	seq, err := g.Batches()
	require.NoError(t, err)
	n := 0
	for range seq {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestDescendantsAndAncestors(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("b", "a"))
	require.NoError(t, g.AddEdge("c", "b"))
	require.NoError(t, g.AddEdge("d", "a"))

	assert.Equal(t, []string{"b", "d", "c"}, g.Descendants("a"))
	assert.Equal(t, []string{"b", "a"}, g.Ancestors("c"))
	assert.Empty(t, g.Descendants("c"))
}

func TestSubgraphAndClone(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("b", "a"))
	require.NoError(t, g.AddEdge("c", "b"))

	sub := g.Subgraph([]string{"b", "c", "zzz"})
	assert.Equal(t, []string{"b", "c"}, sub.Nodes())
	assert.Equal(t, []Edge{{From: "c", To: "b"}}, sub.Edges())

	c := g.Clone()
	c.RemoveNode("a")
	assert.True(t, g.HasNode("a"))
	assert.Equal(t, 3, g.Len())
}

func TestCriticalPath(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdges("b", "a"))
	require.NoError(t, g.AddEdges("c", "a"))
	require.NoError(t, g.AddEdges("d", "b", "c"))

	weights := map[string]int{"a": 1, "b": 5, "c": 2, "d": 1}
	path, total, err := g.CriticalPath(func(id string) int { return weights[id] })
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "d"}, path)
	assert.Equal(t, 7, total)

	path, total, err = New().CriticalPath(nil)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Zero(t, total)
}

func TestWriteDOT(t *testing.T) {
	g := New()
	require.NoError(t, g.AddEdge("deploy", "build"))

	var buf bytes.Buffer
	err := WriteDOT(&buf, g, DOTOptions{
		Name:  "plan",
		Label: func(id string) string { return "step " + id },
		Color: func(id string) string {
			if id == "build" {
				return "palegreen"
			}
			return ""
		},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `digraph "plan" {`)
	assert.Contains(t, out, `"build" [label="step build", fillcolor="palegreen"];`)
	assert.Contains(t, out, `"deploy" [label="step deploy"];`)
	assert.Contains(t, out, `"build" -> "deploy";`)
	assert.Contains(t, out, "}\n")
}
