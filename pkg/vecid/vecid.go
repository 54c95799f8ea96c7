// Package vecid assigns session-local labels ("Speaker A", "Speaker B", ...)
// to embeddings that matched no known speaker.
//
// Labels are computed offline, after a session ends, by clustering all
// unknown embeddings at once:
//
//	labels := vecid.Cluster(unknowns, vecid.Config{})
//	for i, l := range labels {
//		fmt.Println(vecid.Label(l), segments[i].Text)
//	}
//
// Two methods are available. Agglomerative (the default) merges clusters
// by average cosine distance until the closest pair is further apart than
// 1 - Threshold. DBSCAN grows clusters from dense regions; points it
// considers noise each get a label of their own.
package vecid

import (
	"slices"

	"github.com/haivivi/voxid/pkg/vecmath"
)

// Method selects the clustering algorithm.
type Method string

const (
	Agglomerative Method = "agglomerative"
	DBSCAN        Method = "dbscan"
)

// Config controls clustering.
type Config struct {
	Method Method

	// Threshold is the minimum cosine similarity between members of a
	// cluster. Default 0.5.
	Threshold float32

	// MinSamples is the DBSCAN core point size. Default 2.
	MinSamples int
}

func (c *Config) defaults() {
	if c.Method == "" {
		c.Method = Agglomerative
	}
	if c.Threshold == 0 {
		c.Threshold = 0.5
	}
	if c.MinSamples == 0 {
		c.MinSamples = 2
	}
}

// Cluster groups embeddings and returns one 0-based label per embedding.
// Labels are numbered in order of first appearance, so the first embedding
// is always label 0.
func Cluster(embeddings [][]float32, cfg Config) []int {
	cfg.defaults()
	switch len(embeddings) {
	case 0:
		return nil
	case 1:
		return []int{0}
	}

	dist := distances(embeddings)
	eps := float64(1 - cfg.Threshold)

	var raw []int
	switch cfg.Method {
	case DBSCAN:
		raw = dbscan(dist, eps, cfg.MinSamples)
		next := slices.Max(raw) + 1
		for i, l := range raw {
			if l < 0 {
				raw[i] = next
				next++
			}
		}
	default:
		raw = agglomerative(dist, eps)
	}
	return renumber(raw)
}

// distances returns the symmetric cosine distance matrix of vs.
func distances(vs [][]float32) [][]float64 {
	normed := make([][]float32, len(vs))
	for i, v := range vs {
		normed[i] = vecmath.Normalize(v)
	}
	dist := make([][]float64, len(vs))
	for i := range dist {
		dist[i] = make([]float64, len(vs))
		for j := range i {
			d := float64(vecmath.CosineDistance(normed[i], normed[j]))
			dist[i][j], dist[j][i] = d, d
		}
	}
	return dist
}

// renumber maps labels to 0..k-1 in order of first appearance.
func renumber(raw []int) []int {
	m := make(map[int]int)
	out := make([]int, len(raw))
	for i, l := range raw {
		id, ok := m[l]
		if !ok {
			id = len(m)
			m[l] = id
		}
		out[i] = id
	}
	return out
}

// Groups returns the member indices of each label.
func Groups(labels []int) [][]int {
	var groups [][]int
	for i, l := range labels {
		for len(groups) <= l {
			groups = append(groups, nil)
		}
		groups[l] = append(groups[l], i)
	}
	return groups
}

// Label returns the display name for a cluster label: "Speaker A" through
// "Speaker Z", then "Speaker AA", "Speaker AB", ...
func Label(l int) string {
	return "Speaker " + letters(l)
}

func letters(n int) string {
	var b []byte
	for {
		b = append([]byte{byte('A' + n%26)}, b...)
		n = n/26 - 1
		if n < 0 {
			return string(b)
		}
	}
}
