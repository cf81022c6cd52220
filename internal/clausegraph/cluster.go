package clausegraph

import "sort"

// FindClauseClusters groups clauses into communities by greedy modularity
// optimization: every node starts in its own community and moves to a
// neighbor's community whenever the move improves modularity, repeating
// until no move helps. Graphs too small or without edges come back as
// singletons.
func (g *Graph) FindClauseClusters() [][]string {
	if len(g.order) < 2 || len(g.edges) == 0 {
		out := make([][]string, 0, len(g.order))
		for _, key := range g.order {
			out = append(out, []string{key})
		}
		return out
	}

	neighbors := g.undirectedNeighbors()
	community := make(map[string]int, len(g.order))
	for i, key := range g.order {
		community[key] = i
	}

	improved := true
	for improved {
		improved = false
		for _, key := range g.order {
			best := community[key]
			bestScore := g.modularity(community, neighbors)
			for _, nb := range neighbors[key] {
				if community[nb] == community[key] {
					continue
				}
				trial := community[key]
				community[key] = community[nb]
				if score := g.modularity(community, neighbors); score > bestScore {
					bestScore = score
					best = community[nb]
					improved = true
				}
				community[key] = trial
			}
			community[key] = best
		}
	}

	groups := make(map[int][]string)
	for _, key := range g.order {
		groups[community[key]] = append(groups[community[key]], key)
	}
	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([][]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, groups[id])
	}
	return out
}

// modularity measures cluster quality: fraction of edges inside
// communities minus the expected fraction under random wiring.
func (g *Graph) modularity(community map[string]int, neighbors map[string][]string) float64 {
	m := float64(len(g.edges))
	if m == 0 {
		return 0
	}

	q := 0.0
	for _, e := range g.edges {
		if community[e.Source] != community[e.Target] {
			continue
		}
		ki := float64(len(neighbors[e.Source]))
		kj := float64(len(neighbors[e.Target]))
		q += (1 - ki*kj/(2*m)) / (2 * m)
	}
	return q
}

func (g *Graph) undirectedNeighbors() map[string][]string {
	out := make(map[string][]string, len(g.order))
	seen := make(map[[2]string]bool, len(g.edges))
	for _, e := range g.edges {
		if e.Source == e.Target {
			continue
		}
		pair := [2]string{e.Source, e.Target}
		if pair[0] > pair[1] {
			pair[0], pair[1] = pair[1], pair[0]
		}
		if seen[pair] {
			continue
		}
		seen[pair] = true
		out[e.Source] = append(out[e.Source], e.Target)
		out[e.Target] = append(out[e.Target], e.Source)
	}
	return out
}
