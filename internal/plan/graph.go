package plan

import (
	"github.com/felixgeelhaar/stagehand/internal/graph"
)

// Dependencies returns the effective dependencies of every step. When no
// step declares DependsOn and the plan is not Concurrent, each step depends
// on the one before it.
func (p *Plan) Dependencies() map[string][]string {
	deps := make(map[string][]string, len(p.Steps))
	chain := !p.Concurrent && !p.HasDependencies()
	for i, s := range p.Steps {
		switch {
		case chain && i > 0:
			deps[s.ID] = []string{p.Steps[i-1].ID}
		case chain:
			deps[s.ID] = nil
		default:
			deps[s.ID] = append([]string(nil), s.DependsOn...)
		}
	}
	return deps
}

// Graph builds the step dependency graph from Dependencies. Nodes are added
// in plan order.
func (p *Plan) Graph() (*graph.Graph, error) {
	g := graph.New()
	for _, s := range p.Steps {
		g.AddNode(s.ID)
	}
	deps := p.Dependencies()
	for _, s := range p.Steps {
		if err := g.AddEdges(s.ID, deps[s.ID]...); err != nil {
			return nil, err
		}
	}
	return g, nil
}
