package pcm

import "encoding/binary"

// Int16ToFloat32 converts 16-bit samples to float32 in [-1, 1).
func Int16ToFloat32(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s) / 32768
	}
	return out
}

// Float32ToInt16 converts float32 samples to 16-bit, clipping to range.
func Float32ToInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		v := s * 32768
		switch {
		case v >= 32767:
			out[i] = 32767
		case v <= -32768:
			out[i] = -32768
		default:
			out[i] = int16(v)
		}
	}
	return out
}

// BytesToFloat32 decodes little-endian 16-bit PCM bytes. A trailing odd
// byte is ignored.
func BytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[2*i:]))) / 32768
	}
	return out
}

// Channel extracts channel ch from interleaved samples with the given
// channel count. Out-of-range channels fall back to channel 0.
func Channel(interleaved []float32, channels, ch int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}
	if ch < 0 || ch >= channels {
		ch = 0
	}
	out := make([]float32, len(interleaved)/channels)
	for i := range out {
		out[i] = interleaved[i*channels+ch]
	}
	return out
}
