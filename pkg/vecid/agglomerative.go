package vecid

import "math"

// agglomerative runs average-linkage hierarchical clustering over a
// pairwise distance matrix and stops merging when the closest pair of
// clusters is further apart than threshold. Labels are 0-based.
func agglomerative(dist [][]float64, threshold float64) []int {
	n := len(dist)
	if n == 0 {
		return nil
	}

	// clusters[i] is nil once merged into another cluster.
	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}

	linkage := func(a, b []int) float64 {
		var sum float64
		for _, i := range a {
			for _, j := range b {
				sum += dist[i][j]
			}
		}
		return sum / float64(len(a)*len(b))
	}

	for {
		bi, bj, best := -1, -1, math.Inf(1)
		for i := range clusters {
			if clusters[i] == nil {
				continue
			}
			for j := i + 1; j < len(clusters); j++ {
				if clusters[j] == nil {
					continue
				}
				if d := linkage(clusters[i], clusters[j]); d < best {
					bi, bj, best = i, j, d
				}
			}
		}
		if bi < 0 || best > threshold {
			break
		}
		clusters[bi] = append(clusters[bi], clusters[bj]...)
		clusters[bj] = nil
	}

	labels := make([]int, n)
	next := 0
	for _, c := range clusters {
		if c == nil {
			continue
		}
		for _, i := range c {
			labels[i] = next
		}
		next++
	}
	return labels
}
