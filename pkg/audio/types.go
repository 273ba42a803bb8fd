// ABOUTME: Audio type definitions
// ABOUTME: Defines the S16 PCM format, frame arithmetic and sample conversions
package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// BytesPerSample is the size of one signed 16-bit sample
	BytesPerSample = 2

	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// SampleFormat identifies a PCM sample encoding
type SampleFormat uint8

const (
	FormatUnknown SampleFormat = iota
	// FormatS16LE is interleaved signed 16-bit little-endian PCM
	FormatS16LE
	FormatS24LE
	FormatF32LE
)

func (f SampleFormat) String() string {
	switch f {
	case FormatS16LE:
		return "S16LE"
	case FormatS24LE:
		return "S24LE"
	case FormatF32LE:
		return "F32LE"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(f))
	}
}

// Format describes a raw PCM stream
type Format struct {
	Sample     SampleFormat
	SampleRate int
	Channels   int
}

// S16 returns an S16LE format at the given rate and channel count
func S16(sampleRate, channels int) Format {
	return Format{Sample: FormatS16LE, SampleRate: sampleRate, Channels: channels}
}

// Valid reports whether the format can describe a playable stream
func (f Format) Valid() bool {
	return f.Sample != FormatUnknown && f.SampleRate > 0 && f.Channels > 0
}

// Stride returns the number of bytes in one frame
func (f Format) Stride() int {
	return Stride(f.Channels)
}

// Duration returns the playback time of the given number of frames
func (f Format) Duration(frames int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// FramesIn returns how many frames fit in the given duration
func (f Format) FramesIn(d time.Duration) int {
	return int(int64(d) * int64(f.SampleRate) / int64(time.Second))
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dHz %dch", f.Sample, f.SampleRate, f.Channels)
}

// Stride returns bytes per S16 frame for the given channel count
func Stride(channels int) int {
	return BytesPerSample * channels
}

// Frames returns how many whole frames fit in size bytes.
// A partial trailing frame is never counted.
func Frames(size, stride int) int {
	if size <= 0 || stride <= 0 {
		return 0
	}
	return size / stride
}

// PutInt16s writes samples into dst as little-endian S16 and returns the
// number of samples written
func PutInt16s(dst []byte, samples []int16) int {
	n := min(len(dst)/BytesPerSample, len(samples))
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(samples[i]))
	}
	return n
}

// Int16s decodes little-endian S16 bytes from src into samples and returns
// the number of samples decoded
func Int16s(samples []int16, src []byte) int {
	n := min(len(src)/BytesPerSample, len(samples))
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
	}
	return n
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleFromFloat converts a float sample in [-1, 1] to int16 with clipping
func SampleFromFloat(sample float64) int16 {
	if sample > 1 {
		sample = 1
	} else if sample < -1 {
		sample = -1
	}
	return int16(sample * 0x7fff)
}
