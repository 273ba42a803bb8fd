// ABOUTME: Buffer descriptors exchanged with the audio service
// ABOUTME: Frame arithmetic for the buffer-fill cycle
package stream

import "github.com/Sendspin/pcmstream/pkg/audio"

// Chunk describes the valid region of a queued buffer
type Chunk struct {
	Offset int
	Stride int
	Size   int
}

// Buffer is a writable buffer dequeued from the service
type Buffer struct {
	// Data is the mapped memory; its length is the capacity in bytes.
	// Nil means the buffer is not mapped and cannot be written.
	Data []byte

	// Requested is the number of frames the service asks for when HasRequest is set
	Requested  int
	HasRequest bool

	Chunk Chunk
}

// Frames returns how many frames to produce into b for the given stride
func (b *Buffer) Frames(stride int) int {
	return FramesToProduce(len(b.Data), stride, b.Requested, b.HasRequest)
}

// FramesToProduce truncates capacity to whole frames and clamps it to the
// service's request when one is present. Negative requests produce nothing.
func FramesToProduce(capacity, stride, requested int, hasRequest bool) int {
	maxFrames := audio.Frames(capacity, stride)
	if !hasRequest {
		return maxFrames
	}
	if requested < 0 {
		return 0
	}
	return min(requested, maxFrames)
}
