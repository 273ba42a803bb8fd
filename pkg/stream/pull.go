// ABOUTME: Bridge for audio libraries that pull samples from their own thread
// ABOUTME: Turns each device read into one buffer-ready cycle on the session loop
package stream

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Sendspin/pcmstream/pkg/audio"
)

var errNoPendingBuffer = errors.New("buffer was not dequeued from this stream")

// PullStream implements Stream for device APIs that call into the producer
// whenever they need data (oto readers, PulseAudio readers, miniaudio and
// PortAudio callbacks). Services embed it and call Pull from the device thread.
type PullStream struct {
	format  audio.Format
	loop    Dispatcher
	process func()

	pullMu sync.Mutex // one device read at a time

	mu      sync.Mutex
	slot    Buffer
	pending *Buffer
	queued  *Buffer

	closed atomic.Bool
}

// NewPullStream creates a bridge that dispatches req.Process on req.Loop
func NewPullStream(req *ConnectRequest, format audio.Format) *PullStream {
	return &PullStream{
		format:  format,
		loop:    req.Loop,
		process: req.Process,
	}
}

// Format returns the negotiated format
func (p *PullStream) Format() audio.Format {
	return p.format
}

// Pull runs one fill cycle into dst and returns how many bytes the producer
// supplied. The rest of dst is zeroed, so callers may always consume all of dst.
func (p *PullStream) Pull(dst []byte) int {
	n, _ := p.cycle(dst, 0, false)
	return n
}

// PullFrames is Pull with a frame request hint from the device
func (p *PullStream) PullFrames(dst []byte, frames int) int {
	n, _ := p.cycle(dst, frames, true)
	return n
}

// cycle reports whether the producer queued the buffer
func (p *PullStream) cycle(dst []byte, requested int, hasRequest bool) (int, bool) {
	p.pullMu.Lock()
	defer p.pullMu.Unlock()

	n, queued := 0, false
	if !p.closed.Load() && p.loop != nil {
		p.mu.Lock()
		p.slot = Buffer{Data: dst, Requested: requested, HasRequest: hasRequest}
		p.pending = &p.slot
		p.queued = nil
		p.mu.Unlock()

		p.loop.Invoke(p.process)

		p.mu.Lock()
		if q := p.queued; q != nil {
			queued = true
			n = min(q.Chunk.Offset+q.Chunk.Size, len(dst))
		}
		p.pending = nil
		p.queued = nil
		p.slot = Buffer{}
		p.mu.Unlock()
	}

	clear(dst[n:])
	return n, queued
}

// Dequeue returns the buffer of the device read in progress, if any
func (p *PullStream) Dequeue() *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.pending
	p.pending = nil
	return b
}

// Queue completes the device read in progress
func (p *PullStream) Queue(b *Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b == nil || b != &p.slot {
		return errNoPendingBuffer
	}
	p.queued = b
	return nil
}

// Close stops dispatching; later pulls produce silence
func (p *PullStream) Close() {
	p.closed.Store(true)
}

// Closed reports whether Close was called
func (p *PullStream) Closed() bool {
	return p.closed.Load()
}

// Fail forwards an unrecoverable device error to the session loop
func (p *PullStream) Fail(err error) {
	if p.loop != nil {
		p.loop.Fail(err)
	}
}
