// Package graph implements the directed acyclic dependency graph that
// orders task execution. An edge from -> to means "from depends on to".
// Acyclicity is enforced on insertion, so a Graph is always a DAG.
package graph

import (
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
)

// Set is a set of node ids.
type Set map[string]struct{}

// NewSet returns a set holding ids.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id.
func (s Set) Add(id string) { s[id] = struct{}{} }

// Has reports whether id is present.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Edge is a single dependency: From depends on To.
type Edge struct {
	From string
	To   string
}

// Graph is a dependency graph safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	order []string
	deps  map[string][]string // node -> its dependencies, insertion order
	rdeps map[string][]string // node -> nodes depending on it
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		deps:  make(map[string][]string),
		rdeps: make(map[string][]string),
	}
}

// AddNode inserts id. Adding an existing node is a no-op.
func (g *Graph) AddNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(id)
}

func (g *Graph) addNodeLocked(id string) {
	if _, ok := g.deps[id]; ok {
		return
	}
	g.order = append(g.order, id)
	g.deps[id] = nil
	g.rdeps[id] = nil
}

// AddEdge records that from depends on to, adding either node if absent.
// It fails with a cyclic dependency error when from == to or when from is
// already reachable from to; the graph is left unchanged in that case.
func (g *Graph) AddEdge(from, to string) error {
	return g.AddEdges(from, to)
}

// AddEdges records that from depends on every node in tos. Either all edges
// are added or none are.
func (g *Graph) AddEdges(from string, tos ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, to := range tos {
		if err := g.checkEdgeLocked(from, to); err != nil {
			return err
		}
	}

	g.addNodeLocked(from)
	for _, to := range tos {
		g.addNodeLocked(to)
		if slices.Contains(g.deps[from], to) {
			continue
		}
		g.deps[from] = append(g.deps[from], to)
		g.rdeps[to] = append(g.rdeps[to], from)
	}
	return nil
}

// checkEdgeLocked rejects from -> to when to already reaches from. New edges
// all leave from, so they cannot create a path into from and each candidate
// can be checked against the existing graph alone.
func (g *Graph) checkEdgeLocked(from, to string) error {
	if from == to {
		return serr.NewCyclicDependencyError(from, to, []string{from})
	}
	if path := g.pathLocked(to, from); path != nil {
		return serr.NewCyclicDependencyError(from, to, path)
	}
	return nil
}

// pathLocked returns a dependency chain start -> ... -> goal, or nil.
func (g *Graph) pathLocked(start, goal string) []string {
	if _, ok := g.deps[start]; !ok {
		return nil
	}
	prev := map[string]string{start: ""}
	queue := []string{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n == goal {
			var path []string
			for cur := n; cur != ""; cur = prev[cur] {
				path = append(path, cur)
			}
			slices.Reverse(path)
			return path
		}
		for _, d := range g.deps[n] {
			if _, seen := prev[d]; !seen {
				prev[d] = n
				queue = append(queue, d)
			}
		}
	}
	return nil
}

// RemoveNode deletes id together with every edge touching it.
func (g *Graph) RemoveNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.deps[id]; !ok {
		return
	}
	for _, d := range g.deps[id] {
		g.rdeps[d] = slices.DeleteFunc(g.rdeps[d], func(s string) bool { return s == id })
	}
	for _, r := range g.rdeps[id] {
		g.deps[r] = slices.DeleteFunc(g.deps[r], func(s string) bool { return s == id })
	}
	delete(g.deps, id)
	delete(g.rdeps, id)
	g.order = slices.DeleteFunc(g.order, func(s string) bool { return s == id })
}

// HasNode reports whether id is in the graph.
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.deps[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.order)
}

// Edges returns every edge, grouped by dependent in insertion order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var edges []Edge
	for _, from := range g.order {
		for _, to := range g.deps[from] {
			edges = append(edges, Edge{From: from, To: to})
		}
	}
	return edges
}

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.deps[id])
}

// Dependents returns the nodes that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.rdeps[id])
}

// Descendants returns every node that transitively depends on id, in
// breadth-first order.
func (g *Graph) Descendants(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.walkLocked(id, g.rdeps)
}

// Ancestors returns every node id transitively depends on, in
// breadth-first order.
func (g *Graph) Ancestors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.walkLocked(id, g.deps)
}

func (g *Graph) walkLocked(id string, adj map[string][]string) []string {
	seen := NewSet(id)
	var out []string
	queue := slices.Clone(adj[id])
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen.Has(n) {
			continue
		}
		seen.Add(n)
		out = append(out, n)
		queue = append(queue, adj[n]...)
	}
	return out
}

// ReadySet returns the nodes not in completed whose every dependency is in
// completed, in insertion order. It does not modify the graph.
func (g *Graph) ReadySet(completed Set) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for _, id := range g.order {
		if completed.Has(id) {
			continue
		}
		ok := true
		for _, d := range g.deps[id] {
			if !completed.Has(d) {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// Batches returns the execution waves of the graph as it is at call time.
// Each wave holds every node whose dependencies all lie in earlier waves.
// The sequence is computed lazily from a private copy, so it can be ranged
// over any number of times and is unaffected by later mutation.
func (g *Graph) Batches() (iter.Seq[[]string], error) {
	snap := g.Clone()
	if _, err := snap.topoOrder(); err != nil {
		return nil, err
	}

	return func(yield func([]string) bool) {
		pending := make(map[string]int, len(snap.order))
		var wave []string
		for _, id := range snap.order {
			pending[id] = len(snap.deps[id])
			if pending[id] == 0 {
				wave = append(wave, id)
			}
		}
		for len(wave) > 0 {
			if !yield(slices.Clone(wave)) {
				return
			}
			var next []string
			for _, id := range wave {
				for _, r := range snap.rdeps[id] {
					pending[r]--
					if pending[r] == 0 {
						next = append(next, r)
					}
				}
			}
			wave = next
		}
	}, nil
}

// topoOrder returns the nodes with every dependency before its dependents.
// Callers must not hold g.mu for writing.
func (g *Graph) topoOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	pending := make(map[string]int, len(g.order))
	var queue []string
	for _, id := range g.order {
		pending[id] = len(g.deps[id])
		if pending[id] == 0 {
			queue = append(queue, id)
		}
	}
	order := make([]string, 0, len(g.order))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, r := range g.rdeps[n] {
			pending[r]--
			if pending[r] == 0 {
				queue = append(queue, r)
			}
		}
	}
	if len(order) != len(g.order) {
		var stuck []string
		for _, id := range g.order {
			if pending[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, serr.New(serr.ErrCodeCyclicDependency,
			fmt.Sprintf("graph contains a cycle among: %s", strings.Join(stuck, ", ")))
	}
	return order, nil
}

// Subgraph returns the graph induced by ids. Unknown ids are ignored.
func (g *Graph) Subgraph(ids []string) *Graph {
	keep := NewSet(ids...)

	g.mu.RLock()
	defer g.mu.RUnlock()

	sub := New()
	for _, id := range g.order {
		if keep.Has(id) {
			sub.addNodeLocked(id)
		}
	}
	for _, from := range sub.order {
		for _, to := range g.deps[from] {
			if keep.Has(to) {
				sub.deps[from] = append(sub.deps[from], to)
				sub.rdeps[to] = append(sub.rdeps[to], from)
			}
		}
	}
	return sub
}

// Clone returns an independent copy.
func (g *Graph) Clone() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c := &Graph{
		order: slices.Clone(g.order),
		deps:  make(map[string][]string, len(g.deps)),
		rdeps: make(map[string][]string, len(g.rdeps)),
	}
	for k, v := range g.deps {
		c.deps[k] = slices.Clone(v)
	}
	for k, v := range g.rdeps {
		c.rdeps[k] = slices.Clone(v)
	}
	return c
}
