// Package audio is the umbrella for voxid's audio sub-packages:
//
//   - pcm: the 16 kHz mono float32 sample format and frame slicing
//   - resampler: sample rate conversion into that format
//   - source: live and recorded audio sources delivering fixed-size frames
//   - portaudio: microphone capture through PortAudio
//   - fbank: log-mel filterbank features and low frame rate stacking
//
// Example usage:
//
//	import (
//	    "github.com/haivivi/voxid/pkg/audio/pcm"
//	    "github.com/haivivi/voxid/pkg/audio/source"
//	)
//
//	src := source.NewFile("meeting.wav", source.FileConfig{
//	    Config: source.Config{FrameSize: 512},
//	})
//	err := src.Start(func(f pcm.Frame) {
//	    // f holds 512 samples at pcm.SampleRate
//	})
package audio
