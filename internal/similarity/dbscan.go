package similarity

// noiseLabel marks points assigned to no cluster.
const noiseLabel = -1

// densityCluster runs DBSCAN over a precomputed distance matrix and
// returns a cluster label per point, noiseLabel for noise. minPts counts
// the point itself; neighborhoods use distance <= eps.
func densityCluster(dist [][]float64, eps float64, minPts int) []int {
	n := len(dist)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = noiseLabel
	}
	visited := make([]bool, n)

	neighborhood := func(p int) []int {
		var out []int
		for q := 0; q < n; q++ {
			if dist[p][q] <= eps {
				out = append(out, q)
			}
		}
		return out
	}

	cluster := 0
	for p := 0; p < n; p++ {
		if visited[p] {
			continue
		}
		visited[p] = true

		seeds := neighborhood(p)
		if len(seeds) < minPts {
			continue
		}

		labels[p] = cluster
		for i := 0; i < len(seeds); i++ {
			q := seeds[i]
			if !visited[q] {
				visited[q] = true
				if more := neighborhood(q); len(more) >= minPts {
					seeds = append(seeds, more...)
				}
			}
			if labels[q] == noiseLabel {
				labels[q] = cluster
			}
		}
		cluster++
	}
	return labels
}
