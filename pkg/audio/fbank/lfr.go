package fbank

// Default low frame rate stacking.
const (
	DefaultLFRM = 7
	DefaultLFRN = 6
)

// LFR stacks m consecutive frames every n frames, producing frames of
// dimension m*D at 1/n of the input rate. Only complete windows are
// emitted; input shorter than m frames is padded by repeating its last
// frame so that at least one output frame exists.
func LFR(frames [][]float32, m, n int) [][]float32 {
	if len(frames) == 0 || m <= 0 || n <= 0 {
		return nil
	}
	dim := len(frames[0])

	if len(frames) < m {
		padded := make([][]float32, m)
		copy(padded, frames)
		for i := len(frames); i < m; i++ {
			padded[i] = frames[len(frames)-1]
		}
		frames = padded
	}

	count := LFRFrames(len(frames), m, n)
	out := make([][]float32, count)
	for i := range count {
		row := make([]float32, m*dim)
		for j := range m {
			copy(row[j*dim:], frames[i*n+j])
		}
		out[i] = row
	}
	return out
}

// LFRFrames returns the number of LFR frames produced from t input frames.
func LFRFrames(t, m, n int) int {
	if t <= 0 {
		return 0
	}
	if t < m {
		return 1
	}
	return (t-m)/n + 1
}
