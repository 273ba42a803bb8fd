// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, frame arithmetic and sample conversion functions
// Package audio provides the PCM types shared by the pcmstream packages.
//
// Streams are interleaved signed 16-bit little-endian PCM. A frame holds one
// sample per channel, so a stereo frame is 4 bytes:
//
//	format := audio.S16(48000, 2)
//	stride := format.Stride()          // 4
//	frames := audio.Frames(4096, stride) // 1024
//
// Partial trailing frames are never counted.
package audio
