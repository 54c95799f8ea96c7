package vad

import (
	"context"
	"math"
)

// DefaultEnergyThreshold is the RMS level scored as probability 0.5.
const DefaultEnergyThreshold = 0.01

// Energy scores frames by RMS level. It needs no model and carries no
// state. A frame at the threshold scores 0.5; twice the threshold or
// louder scores 1.
type Energy struct {
	Threshold float64
}

var _ Scorer = Energy{}

// Score implements Scorer.
func (e Energy) Score(_ context.Context, frame []float32, st State) (float32, State, error) {
	th := e.Threshold
	if th <= 0 {
		th = DefaultEnergyThreshold
	}
	if len(frame) == 0 {
		return 0, st, nil
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	return float32(min(rms/(2*th), 1)), st, nil
}
