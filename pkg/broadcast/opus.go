// ABOUTME: Opus audio encoder for bandwidth-efficient broadcasting
// ABOUTME: Wraps libopus to encode PCM audio to Opus format
package broadcast

import (
	"fmt"
	"log"

	"gopkg.in/hraban/opus.v2"

	"github.com/Sendspin/pcmstream/pkg/audio"
)

// OpusFrameDuration is the Opus frame length used for paced cycles
const OpusFrameDuration = 20 // milliseconds

// maxOpusPacket is the largest packet libopus produces
const maxOpusPacket = 4000

// opusEncoder wraps the Opus encoder
type opusEncoder struct {
	encoder *opus.Encoder
	samples []int16
	output  []byte
}

// opusSupports reports whether libopus accepts the format
func opusSupports(f audio.Format) bool {
	switch f.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
		return f.Channels == 1 || f.Channels == 2
	}
	return false
}

// newOpusEncoder creates a music encoder at 64 kbps per channel
func newOpusEncoder(f audio.Format) (*opusEncoder, error) {
	encoder, err := opus.NewEncoder(f.SampleRate, f.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	if err := encoder.SetBitrate(64000 * f.Channels); err != nil {
		log.Printf("Warning: Failed to set Opus bitrate: %v", err)
	}

	return &opusEncoder{
		encoder: encoder,
		output:  make([]byte, maxOpusPacket),
	}, nil
}

// Encode encodes one frame of S16LE bytes into an Opus packet. The
// returned slice is reused by the next call.
func (e *opusEncoder) Encode(pcm []byte) ([]byte, error) {
	n := len(pcm) / audio.BytesPerSample
	if cap(e.samples) < n {
		e.samples = make([]int16, n)
	}
	e.samples = e.samples[:n]
	audio.Int16s(e.samples, pcm)

	size, err := e.encoder.Encode(e.samples, e.output)
	if err != nil {
		return nil, fmt.Errorf("opus encode failed: %w", err)
	}
	return e.output[:size], nil
}
