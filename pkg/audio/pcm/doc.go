// Package pcm provides the sample-level building blocks of the capture
// path: formats, int16/float32 conversion, channel extraction and fixed
// size framing.
//
// The pipeline works on mono float32 samples in [-1, 1] at 16 kHz, cut into
// 512-sample frames:
//
//	f := pcm.NewFramer(pcm.FrameSize, func(fr pcm.Frame) { ... })
//	f.Write(samples)
//	f.Flush()
package pcm
