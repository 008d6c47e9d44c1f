package graph

// CriticalPath returns the dependency chain with the largest total weight,
// ordered from the first node to run to the last, together with that total.
// A nil weight counts every node as 1. Ties go to the chain found first in
// topological order.
func (g *Graph) CriticalPath(weight func(id string) int) ([]string, int, error) {
	if weight == nil {
		weight = func(string) int { return 1 }
	}

	snap := g.Clone()
	order, err := snap.topoOrder()
	if err != nil {
		return nil, 0, err
	}
	if len(order) == 0 {
		return nil, 0, nil
	}

	dist := make(map[string]int, len(order))
	prev := make(map[string]string, len(order))
	best := ""
	for _, id := range order {
		longest, via := 0, ""
		for _, d := range snap.deps[id] {
			if dist[d] > longest || via == "" {
				longest, via = dist[d], d
			}
		}
		dist[id] = longest + weight(id)
		prev[id] = via
		if best == "" || dist[id] > dist[best] {
			best = id
		}
	}

	var path []string
	for cur := best; cur != ""; cur = prev[cur] {
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, dist[best], nil
}
