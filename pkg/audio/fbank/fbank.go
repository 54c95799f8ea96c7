// Package fbank computes Kaldi-style log mel filterbank features and the
// low frame rate (LFR) stacking used by CTC speech recognizers.
//
// The same filterbank feeds both the speech recognizer (after LFR) and the
// speaker embedder (after CMVN), so a segment is analysed only once.
//
// Default parameters:
//
//	SampleRate:  16000
//	WindowSize:  400 (25 ms)
//	HopSize:     160 (10 ms)
//	FFTSize:     512
//	NumMels:     80
//	LowFreq:     20
//	HighFreq:  7600
//	PreEmphasis: 0.97
package fbank

import (
	"math"
	"math/bits"
)

// Config controls mel filterbank extraction parameters.
type Config struct {
	SampleRate  int     `yaml:"sample_rate,omitempty"`  // audio sample rate in Hz (default 16000)
	WindowSize  int     `yaml:"window_size,omitempty"`  // window length in samples (default 400 = 25ms)
	HopSize     int     `yaml:"hop_size,omitempty"`     // hop length in samples (default 160 = 10ms)
	FFTSize     int     `yaml:"fft_size,omitempty"`     // transform size, rounded up to a power of two
	NumMels     int     `yaml:"num_mels,omitempty"`     // number of mel bins (default 80)
	LowFreq     float64 `yaml:"low_freq,omitempty"`     // lowest mel frequency (default 20)
	HighFreq    float64 `yaml:"high_freq,omitempty"`    // highest mel frequency (default 7600)
	PreEmphasis float64 `yaml:"pre_emphasis,omitempty"` // pre-emphasis coefficient (default 0.97)

	// RemoveDC subtracts each frame's mean before pre-emphasis.
	RemoveDC bool `yaml:"remove_dc,omitempty"`

	// Scale multiplies samples before analysis. Models trained on 16-bit
	// integer amplitudes expect 32768. Zero means 1.
	Scale float64 `yaml:"scale,omitempty"`
}

// DefaultConfig returns the 80-bin, 25 ms / 10 ms configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:  16000,
		WindowSize:  400,
		HopSize:     160,
		FFTSize:     512,
		NumMels:     80,
		LowFreq:     20,
		HighFreq:    7600,
		PreEmphasis: 0.97,
		RemoveDC:    true,
	}
}

// Extractor computes mel filterbank features from PCM samples.
// It is immutable after New and safe for concurrent use.
type Extractor struct {
	cfg    Config
	window []float64
	plan   *fftPlan
	mel    melBank
}

// New creates an Extractor. Zero fields take DefaultConfig values and
// FFTSize is rounded up to the next power of two that holds a window, so
// the transform never takes a slow mixed-radix path.
func New(cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.HopSize <= 0 {
		cfg.HopSize = def.HopSize
	}
	if cfg.NumMels <= 0 {
		cfg.NumMels = def.NumMels
	}
	if cfg.HighFreq <= 0 {
		cfg.HighFreq = def.HighFreq
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}
	cfg.FFTSize = nextPow2(max(cfg.FFTSize, cfg.WindowSize))

	return &Extractor{
		cfg:    cfg,
		window: hammingWindow(cfg.WindowSize),
		plan:   newFFTPlan(cfg.FFTSize),
		mel:    newMelBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
	}
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Config returns the effective configuration.
func (e *Extractor) Config() Config { return e.cfg }

// NumFrames returns the number of frames Extract yields for n samples.
func (e *Extractor) NumFrames(n int) int {
	if n < e.cfg.WindowSize {
		return 0
	}
	return (n-e.cfg.WindowSize)/e.cfg.HopSize + 1
}

// Extract computes log mel filterbank features from PCM float32 samples in
// [-1, 1]. The result is [T][NumMels] with T = NumFrames(len(pcm)); input
// shorter than one window yields nil.
func (e *Extractor) Extract(pcm []float32) [][]float32 {
	cfg := e.cfg
	numFrames := e.NumFrames(len(pcm))
	if numFrames == 0 {
		return nil
	}

	nfft := cfg.FFTSize
	halfFFT := nfft/2 + 1

	features := make([][]float32, numFrames)
	raw := make([]float64, cfg.WindowSize)
	re := make([]float64, nfft)
	im := make([]float64, nfft)
	power := make([]float64, halfFFT)

	for t := range numFrames {
		start := t * cfg.HopSize

		for i := range raw {
			raw[i] = float64(pcm[start+i]) * cfg.Scale
		}
		if cfg.RemoveDC {
			var mean float64
			for _, s := range raw {
				mean += s
			}
			mean /= float64(len(raw))
			for i := range raw {
				raw[i] -= mean
			}
		}
		// Pre-emphasis back to front so raw[i-1] is still unmodified.
		for i := len(raw) - 1; i > 0; i-- {
			raw[i] -= cfg.PreEmphasis * raw[i-1]
		}
		raw[0] -= cfg.PreEmphasis * raw[0]

		for i := range re {
			if i < len(raw) {
				re[i] = raw[i] * e.window[i]
			} else {
				re[i] = 0
			}
			im[i] = 0
		}
		e.plan.transform(re, im)
		e.plan.power(re, im, power)

		mel := make([]float32, cfg.NumMels)
		e.mel.apply(power, mel)
		features[t] = mel
	}
	return features
}

// CMVN applies per-dimension mean and variance normalization in place.
func CMVN(features [][]float32) {
	if len(features) == 0 {
		return
	}
	dim := len(features[0])
	n := float64(len(features))

	for m := range dim {
		var sum float64
		for _, f := range features {
			sum += float64(f[m])
		}
		mean := sum / n

		var varSum float64
		for _, f := range features {
			d := float64(f[m]) - mean
			varSum += d * d
		}
		std := math.Max(math.Sqrt(varSum/n), 1e-10)

		for _, f := range features {
			f[m] = float32((float64(f[m]) - mean) / std)
		}
	}
}

// Flatten converts [T][D] to a row-major [T*D] slice.
func Flatten(features [][]float32) []float32 {
	if len(features) == 0 {
		return nil
	}
	cols := len(features[0])
	flat := make([]float32, len(features)*cols)
	for t, row := range features {
		copy(flat[t*cols:], row)
	}
	return flat
}
