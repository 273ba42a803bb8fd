// ABOUTME: Sample sources that feed producer sessions
// ABOUTME: Generators, file decoders and format adapters
// Package source provides S16 sample sources for pcmstream sessions.
//
// Generators (Tone, Sweep, Chord) and file decoders (WAV, MP3, FLAC,
// Vorbis) all implement Source. Convert adapts a source to a session's
// format, and Buffered moves slow sources off the real-time thread.
//
// Example:
//
//	src, err := source.Open("song.flac")
//	src = source.NewBuffered(source.Convert(src, audio.S16(48000, 2)), 0)
//	s, err := stream.Setup(svc, cfg, source.Fill, source.NewFiller(src))
package source
