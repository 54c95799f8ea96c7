package voiceprint

import "github.com/haivivi/voxid/pkg/vecmath"

// SelectDiverse returns at most n embeddings chosen by farthest-first
// traversal: the first embedding, then repeatedly the one whose nearest
// selected neighbour is farthest away. Inputs of n or fewer are
// returned unchanged.
func SelectDiverse(embs [][]float32, n int) [][]float32 {
	if n <= 0 {
		return nil
	}
	if len(embs) <= n {
		return embs
	}

	selected := [][]float32{embs[0]}
	used := make([]bool, len(embs))
	used[0] = true
	// nearest[i] is the distance from embs[i] to the closest selected.
	nearest := make([]float32, len(embs))
	for i := range embs {
		nearest[i] = vecmath.CosineDistance(embs[i], embs[0])
	}

	for len(selected) < n {
		best := -1
		for i := range embs {
			if !used[i] && (best < 0 || nearest[i] > nearest[best]) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		selected = append(selected, embs[best])
		for i := range embs {
			if d := vecmath.CosineDistance(embs[i], embs[best]); d < nearest[i] {
				nearest[i] = d
			}
		}
	}
	return selected
}
