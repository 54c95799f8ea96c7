package pipeline

import (
	"fmt"
	"slices"
	"time"

	"github.com/haivivi/voxid/pkg/speaker"
	"github.com/haivivi/voxid/pkg/vecid"
	"github.com/haivivi/voxid/pkg/vecmath"
	"github.com/haivivi/voxid/pkg/voiceprint"
)

// Post-session defaults.
const (
	// DefaultMinClusterSegments is how many segments an unknown cluster
	// needs before it is worth naming.
	DefaultMinClusterSegments = 3

	// DefaultNameSamples caps the embeddings saved when naming a cluster.
	DefaultNameSamples = 5

	// DefaultReviewSamples caps the embeddings auto-learned per speaker
	// by ReviewMedium.
	DefaultReviewSamples = 3

	// OutlierSigma separates auto-learned medium matches from outliers.
	OutlierSigma = 2.0
)

// Cluster is a group of unknown segments that sound alike.
type Cluster struct {
	Label    string        `json:"label"`
	Records  []int         `json:"records"`
	Duration time.Duration `json:"duration"`
}

// ClusterUnknowns groups the unknown, conflict-free records that carry an
// embedding and labels them "Speaker A", "Speaker B", ... in order of
// first appearance. recs[i].Cluster is set for every clustered record.
func ClusterUnknowns(recs []Record, cfg vecid.Config) []Cluster {
	var (
		idx  []int
		embs [][]float32
	)
	for i, r := range recs {
		if r.Event.Known() || r.Event.Conflict || r.Embedding == nil {
			continue
		}
		idx = append(idx, i)
		embs = append(embs, r.Embedding)
	}
	if len(embs) == 0 {
		return nil
	}

	labels := vecid.Cluster(embs, cfg)
	var out []Cluster
	for l, members := range vecid.Groups(labels) {
		c := Cluster{Label: vecid.Label(l)}
		for _, m := range members {
			i := idx[m]
			recs[i].Cluster = c.Label
			c.Records = append(c.Records, i)
			c.Duration += recs[i].Event.Duration()
		}
		out = append(out, c)
	}
	return out
}

// Frequent returns the clusters with at least n records.
func Frequent(cs []Cluster, n int) []Cluster {
	return slices.DeleteFunc(slices.Clone(cs), func(c Cluster) bool {
		return len(c.Records) < n
	})
}

// NameCluster saves cluster c as speaker name: the most diverse of its
// embeddings (at most limit) are added to a new or existing profile. It
// returns how many embeddings were stored.
func NameCluster(lib *speaker.Library, name string, recs []Record, c Cluster, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultNameSamples
	}
	var embs [][]float32
	for _, i := range c.Records {
		if e := recs[i].Embedding; e != nil {
			embs = append(embs, e)
		}
	}
	if len(embs) == 0 {
		return 0, fmt.Errorf("pipeline: cluster %s has no embeddings", c.Label)
	}
	embs = voiceprint.SelectDiverse(embs, limit)

	added := 0
	if _, ok := lib.Get(name); !ok {
		p, err := lib.AddSpeaker(name, embs...)
		if err != nil {
			return 0, err
		}
		added = p.Len()
	} else {
		for _, e := range embs {
			pl, err := lib.AddEmbedding(name, e, false)
			if err != nil {
				return added, err
			}
			if pl != speaker.Rejected {
				added++
			}
		}
	}
	for _, i := range c.Records {
		recs[i].Cluster = name
	}
	return added, nil
}

// Outlier is a medium confidence match too far from its speaker's
// centroid to learn without confirmation.
type Outlier struct {
	Record  int     `json:"record"`
	Speaker string  `json:"speaker"`
	Sigma   float64 `json:"sigma"`
}

// Review is the result of ReviewMedium.
type Review struct {
	// Learned counts embeddings stored by auto-learning.
	Learned int `json:"learned"`

	// Outliers, furthest first, await ConfirmOutlier.
	Outliers []Outlier `json:"outliers,omitempty"`
}

// ReviewMedium revisits the session's medium confidence matches. Those
// within OutlierSigma standard deviations of their speaker's centroid
// are learned (the most diverse limit per speaker); the rest are returned
// as outliers for an operator to confirm.
func ReviewMedium(lib *speaker.Library, recs []Record, limit int) Review {
	if limit <= 0 {
		limit = DefaultReviewSamples
	}
	var (
		rv    Review
		auto  = map[string][][]float32{}
		order []string
	)
	for i, r := range recs {
		ev := r.Event
		if !ev.Known() || ev.Confidence != speaker.Medium || ev.Conflict || r.Embedding == nil {
			continue
		}
		p, ok := lib.Get(ev.Speaker)
		if !ok {
			continue
		}
		sigma := 0.0
		if p.Centroid != nil {
			sigma = float64(vecmath.CosineDistance(r.Embedding, p.Centroid)) / p.StdDev
		}
		if sigma <= OutlierSigma {
			if _, seen := auto[ev.Speaker]; !seen {
				order = append(order, ev.Speaker)
			}
			auto[ev.Speaker] = append(auto[ev.Speaker], r.Embedding)
			continue
		}
		rv.Outliers = append(rv.Outliers, Outlier{Record: i, Speaker: ev.Speaker, Sigma: sigma})
	}

	for _, name := range order {
		for _, e := range voiceprint.SelectDiverse(auto[name], limit) {
			if pl, err := lib.AddEmbedding(name, e, false); err == nil && pl != speaker.Rejected {
				rv.Learned++
			}
		}
	}
	slices.SortStableFunc(rv.Outliers, func(a, b Outlier) int {
		switch {
		case a.Sigma > b.Sigma:
			return -1
		case a.Sigma < b.Sigma:
			return 1
		}
		return 0
	})
	return rv
}

// ConfirmOutlier stores a confirmed outlier in its speaker's boundary
// layer, bypassing distance classification.
func ConfirmOutlier(lib *speaker.Library, recs []Record, o Outlier) (speaker.Placement, error) {
	return lib.AddEmbedding(o.Speaker, recs[o.Record].Embedding, true)
}
