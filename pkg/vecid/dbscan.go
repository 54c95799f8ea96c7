package vecid

// dbscan clusters points given their pairwise distance matrix. A point
// with at least minPts neighbours within eps (itself included) is a core
// point; clusters grow from core points through their neighbourhoods.
// Returns one label per point: 0..k-1 for clusters, -1 for noise.
func dbscan(dist [][]float64, eps float64, minPts int) []int {
	n := len(dist)
	neighbours := make([][]int, n)
	for i := range n {
		for j := range n {
			if dist[i][j] <= eps {
				neighbours[i] = append(neighbours[i], j)
			}
		}
	}
	core := func(i int) bool { return len(neighbours[i]) >= minPts }

	const unvisited = -2
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	next := 0
	for i := range n {
		if labels[i] != unvisited {
			continue
		}
		if !core(i) {
			labels[i] = -1
			continue
		}
		id := next
		next++
		labels[i] = id
		queue := append([]int(nil), neighbours[i]...)
		for len(queue) > 0 {
			q := queue[0]
			queue = queue[1:]
			switch labels[q] {
			case -1:
				// Noise reachable from a core point becomes a border point.
				labels[q] = id
			case unvisited:
				labels[q] = id
				if core(q) {
					queue = append(queue, neighbours[q]...)
				}
			}
		}
	}
	return labels
}
