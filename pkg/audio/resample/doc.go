// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts S16 audio between sample rates
// Package resample provides streaming sample rate conversion.
//
// Uses linear interpolation and keeps state between calls, so a source can
// be converted chunk by chunk.
//
// Example:
//
//	r := resample.New(44100, 48000, 2)
//	out = r.Resample(out[:0], in)
package resample
