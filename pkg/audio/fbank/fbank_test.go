package fbank

import (
	"math"
	"math/rand/v2"
	"testing"
)

func sine(n int, freq float64, amp float32) []float32 {
	pcm := make([]float32, n)
	for i := range pcm {
		pcm[i] = amp * float32(math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return pcm
}

func noise(n int, seed uint64) []float32 {
	rng := rand.New(rand.NewPCG(seed, 0))
	pcm := make([]float32, n)
	for i := range pcm {
		pcm[i] = float32(rng.NormFloat64() * 0.1)
	}
	return pcm
}

func TestHammingWindow(t *testing.T) {
	w := hammingWindow(400)
	if len(w) != 400 {
		t.Fatalf("expected 400, got %d", len(w))
	}
	if math.Abs(w[0]-0.08) > 0.01 {
		t.Errorf("w[0] = %f, want ~0.08", w[0])
	}
	if math.Abs(w[199]-1.0) > 0.02 {
		t.Errorf("w[199] = %f, want ~1.0", w[199])
	}
}

func TestMelConversion(t *testing.T) {
	mel := hzToMel(1000)
	if math.Abs(mel-1000.45) > 1.0 {
		t.Errorf("hzToMel(1000) = %f, want ~1000.45", mel)
	}
	if hz := melToHz(mel); math.Abs(hz-1000) > 0.1 {
		t.Errorf("melToHz(hzToMel(1000)) = %f, want 1000", hz)
	}
}

func TestMelBankCoversEveryFilter(t *testing.T) {
	bank := newMelBank(80, 512, 16000, 20, 7600)
	if len(bank) != 80 {
		t.Fatalf("expected 80 filters, got %d", len(bank))
	}
	prev := -1
	for i, f := range bank {
		if f.start < prev {
			t.Errorf("filter %d starts at %d, before filter %d", i, f.start, i-1)
		}
		prev = f.start
		if end := f.start + len(f.weights); end > 257 {
			t.Fatalf("filter %d ends at bin %d, past 257", i, end)
		}
		var peak float64
		for _, w := range f.weights {
			peak = max(peak, w)
		}
		if peak == 0 {
			t.Errorf("filter %d is all zeros", i)
		}
	}

	// A flat spectrum gives every filter a finite log energy.
	power := make([]float64, 257)
	for i := range power {
		power[i] = 1
	}
	out := make([]float32, 80)
	bank.apply(power, out)
	for m, v := range out {
		if math.IsInf(float64(v), 0) || math.IsNaN(float64(v)) || v < -1 {
			t.Errorf("mel[%d] = %f", m, v)
		}
	}
}

func TestFFT(t *testing.T) {
	n := 8
	re := make([]float64, n)
	im := make([]float64, n)
	for i := range re {
		re[i] = 1.0 + math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	p := newFFTPlan(n)
	p.transform(re, im)

	if math.Abs(re[0]-float64(n)) > 0.01 {
		t.Errorf("DC = %f, want %d", re[0], n)
	}
	if math.Abs(re[1]-float64(n)/2) > 0.01 {
		t.Errorf("H1 real = %f, want %f", re[1], float64(n)/2)
	}
	if math.Abs(re[7]-float64(n)/2) > 0.01 {
		t.Errorf("H7 real = %f, want %f", re[7], float64(n)/2)
	}
	for k := 2; k <= 6; k++ {
		if math.Hypot(re[k], im[k]) > 1e-9 {
			t.Errorf("bin %d = %f%+fi, want 0", k, re[k], im[k])
		}
	}

	power := make([]float64, n/2+1)
	p.power(re, im, power)
	if math.Abs(power[1]-16) > 0.01 {
		t.Errorf("power[1] = %f, want 16", power[1])
	}
}

func TestNewRoundsFFTSize(t *testing.T) {
	tests := []struct{ fft, window, want int }{
		{512, 400, 512},
		{400, 400, 512},
		{0, 400, 512},
		{1024, 400, 1024},
		{0, 600, 1024},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.FFTSize, cfg.WindowSize = tt.fft, tt.window
		if got := New(cfg).Config().FFTSize; got != tt.want {
			t.Errorf("FFTSize(%d, window %d) = %d, want %d", tt.fft, tt.window, got, tt.want)
		}
	}
}

func TestExtract(t *testing.T) {
	ext := New(DefaultConfig())
	pcm := sine(16000, 440, 1)

	features := ext.Extract(pcm)
	if want := ext.NumFrames(len(pcm)); len(features) != want || want != 98 {
		t.Fatalf("frames = %d, NumFrames = %d, want 98", len(features), want)
	}
	if len(features[0]) != 80 {
		t.Fatalf("expected 80 mels, got %d", len(features[0]))
	}
	for i, f := range features {
		for j, v := range f {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				t.Fatalf("features[%d][%d] = %f (not finite)", i, j, v)
			}
		}
	}

	// 440 Hz energy lands in a low mel bin, far above the top bins.
	peak := 0
	for m, v := range features[10] {
		if v > features[10][peak] {
			peak = m
		}
	}
	if peak > 20 {
		t.Errorf("peak mel bin = %d, want a low bin for 440 Hz", peak)
	}
}

func TestExtractShortInput(t *testing.T) {
	if f := New(DefaultConfig()).Extract(make([]float32, 399)); f != nil {
		t.Fatalf("expected nil for input shorter than a window, got %d frames", len(f))
	}
}

func TestExtractDeterministic(t *testing.T) {
	ext := New(DefaultConfig())
	pcm := noise(8000, 1)
	a := ext.Extract(pcm)
	b := ext.Extract(pcm)
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("non-deterministic at [%d][%d]", i, j)
			}
		}
	}
}

func TestScale(t *testing.T) {
	cfg := DefaultConfig()
	base := New(cfg).Extract(noise(4000, 2))
	cfg.Scale = 32768
	scaled := New(cfg).Extract(noise(4000, 2))

	// Power scales by Scale², so log-mel shifts by 2·ln(Scale).
	want := 2 * math.Log(32768)
	got := float64(scaled[5][40] - base[5][40])
	if math.Abs(got-want) > 0.01 {
		t.Errorf("log shift = %f, want %f", got, want)
	}
}

func TestFlatten(t *testing.T) {
	flat := Flatten([][]float32{{1, 2, 3}, {4, 5, 6}})
	expected := []float32{1, 2, 3, 4, 5, 6}
	if len(flat) != len(expected) {
		t.Fatalf("expected len %d, got %d", len(expected), len(flat))
	}
	for i, v := range flat {
		if v != expected[i] {
			t.Errorf("flat[%d] = %f, want %f", i, v, expected[i])
		}
	}
}

func TestCMVN(t *testing.T) {
	features := New(DefaultConfig()).Extract(noise(16000, 3))
	CMVN(features)

	n := float64(len(features))
	for m := range features[0] {
		var sum, sq float64
		for _, f := range features {
			sum += float64(f[m])
		}
		mean := sum / n
		for _, f := range features {
			d := float64(f[m]) - mean
			sq += d * d
		}
		if math.Abs(mean) > 1e-3 {
			t.Errorf("mel[%d] mean = %f, want ~0", m, mean)
		}
		if std := math.Sqrt(sq / n); math.Abs(std-1) > 1e-3 {
			t.Errorf("mel[%d] std = %f, want ~1", m, std)
		}
	}
}

func BenchmarkExtract(b *testing.B) {
	ext := New(DefaultConfig())
	pcm := sine(48000, 440, 0.5)
	b.ReportAllocs()
	for b.Loop() {
		_ = ext.Extract(pcm)
	}
}
