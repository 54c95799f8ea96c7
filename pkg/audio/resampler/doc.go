// Package resampler converts mono float32 sample streams between rates.
//
// Two converters are provided. Linear interpolates between neighbouring
// input samples and carries its phase across calls, so a stream cut into
// arbitrary chunks resamples identically to the whole. It is cheap enough
// for the capture callback. High uses a band-limited polyphase filter from
// go-audio-resampling for offline file decoding.
package resampler
