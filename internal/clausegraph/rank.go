package clausegraph

import "sort"

const (
	dampingFactor = 0.85
	maxIterations = 100
	convergence   = 0.0001
)

// Hub is a clause ranked by how central it is to the reference structure.
type Hub struct {
	Key     string  `json:"key"`
	Score   float64 `json:"score"`
	Section string  `json:"section"`
	Heading string  `json:"heading"`
}

// CalculatePageRank runs power iteration over the relationship edges.
// Edge direction follows the reference: a clause pointing at many others
// passes rank to them, so heavily referenced clauses score high.
func (g *Graph) CalculatePageRank() map[string]float64 {
	n := len(g.order)
	if n == 0 {
		return map[string]float64{}
	}

	rank := make(map[string]float64, n)
	for _, key := range g.order {
		rank[key] = 1.0 / float64(n)
	}

	for iter := 0; iter < maxIterations; iter++ {
		next := make(map[string]float64, n)
		for _, key := range g.order {
			sum := 0.0
			for _, idx := range g.inEdges[key] {
				src := g.edges[idx].Source
				if out := len(g.outEdges[src]); out > 0 {
					sum += rank[src] / float64(out)
				}
			}
			next[key] = (1-dampingFactor)/float64(n) + dampingFactor*sum
		}

		diff := 0.0
		for _, key := range g.order {
			d := next[key] - rank[key]
			if d < 0 {
				d = -d
			}
			diff += d
		}
		rank = next
		if diff < convergence {
			break
		}
	}
	return rank
}

// FindHubClauses returns the top clauses by PageRank. When the graph has
// no edges the rank is uniform, so it falls back to in-degree ordering,
// which reduces to insertion order for an edgeless graph.
func (g *Graph) FindHubClauses(limit int) []Hub {
	rank := g.CalculatePageRank()

	hubs := make([]Hub, 0, len(g.order))
	for _, key := range g.order {
		n := g.nodes[key]
		hubs = append(hubs, Hub{Key: key, Score: rank[key], Section: n.Section, Heading: n.Heading})
	}
	if len(g.edges) == 0 {
		sort.SliceStable(hubs, func(i, j int) bool {
			return len(g.inEdges[hubs[i].Key]) > len(g.inEdges[hubs[j].Key])
		})
	} else {
		sort.SliceStable(hubs, func(i, j int) bool { return hubs[i].Score > hubs[j].Score })
	}

	if limit > 0 && len(hubs) > limit {
		hubs = hubs[:limit]
	}
	return hubs
}
