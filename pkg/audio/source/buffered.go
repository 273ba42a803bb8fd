// ABOUTME: Non-blocking source backed by a ring buffer and a reader goroutine
// ABOUTME: Underruns are zero-filled so the real-time thread never waits on I/O
package source

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sendspin/pcmstream/pkg/audio"
)

// DefaultBufferDuration is how much audio Buffered holds by default
const DefaultBufferDuration = time.Second

// RingBuffer provides thread-safe circular buffer for audio samples
type RingBuffer struct {
	buffer   []int16
	readPos  int
	writePos int
	size     int
	count    int // Number of samples currently in buffer
	mu       sync.Mutex
}

// NewRingBuffer creates a ring buffer with given capacity (in samples)
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]int16, capacity),
		size:   capacity,
	}
}

// Write adds samples to the ring buffer and returns how many fit
func (rb *RingBuffer) Write(samples []int16) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := min(len(samples), rb.size-rb.count)
	for i := 0; i < written; {
		n := copy(rb.buffer[rb.writePos:], samples[i:written])
		rb.writePos = (rb.writePos + n) % rb.size
		i += n
	}
	rb.count += written
	return written
}

// Read retrieves samples from the ring buffer, zero-filling on underrun
func (rb *RingBuffer) Read(samples []int16) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := min(len(samples), rb.count)
	for i := 0; i < read; {
		end := min(rb.size, rb.readPos+read-i)
		n := copy(samples[i:read], rb.buffer[rb.readPos:end])
		rb.readPos = (rb.readPos + n) % rb.size
		i += n
	}
	rb.count -= read

	clear(samples[read:])
	return read
}

// Available returns the number of samples available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Free returns the number of free slots in the buffer
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size - rb.count
}

// Buffered reads a source ahead on its own goroutine. Read never blocks:
// missing samples are zeros until the source ends.
type Buffered struct {
	src   Source
	ring  *RingBuffer
	chunk int

	space    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	ended     atomic.Bool
	errMu     sync.Mutex
	err       error
	underruns atomic.Uint64
}

// NewBuffered starts reading src into a buffer holding d of audio
func NewBuffered(src Source, d time.Duration) *Buffered {
	format := src.Format()
	if d <= 0 {
		d = DefaultBufferDuration
	}
	capacity := max(4, format.FramesIn(d)) * format.Channels

	b := &Buffered{
		src:   src,
		ring:  NewRingBuffer(capacity),
		chunk: max(1, capacity/4/format.Channels) * format.Channels,
		space: make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go b.readLoop()
	return b
}

func (b *Buffered) Format() audio.Format { return b.src.Format() }

func (b *Buffered) readLoop() {
	defer close(b.done)

	scratch := make([]int16, b.chunk)
	for {
		for b.ring.Free() < b.chunk {
			select {
			case <-b.space:
			case <-b.stop:
				return
			}
		}

		select {
		case <-b.stop:
			return
		default:
		}

		n, err := b.src.Read(scratch)
		b.ring.Write(scratch[:n])
		if err != nil {
			b.errMu.Lock()
			b.err = err
			b.errMu.Unlock()
			b.ended.Store(true)
			return
		}
	}
}

func (b *Buffered) Read(samples []int16) (int, error) {
	n := b.ring.Read(samples)
	select {
	case b.space <- struct{}{}:
	default:
	}

	if n == len(samples) {
		return n, nil
	}
	if !b.ended.Load() {
		b.underruns.Add(1)
		return wholeFrames(len(samples), b.src.Format().Channels), nil
	}
	// the reader may have written its last samples after our read
	if n == 0 && b.ring.Available() > 0 {
		return b.Read(samples)
	}
	if n > 0 {
		return n, nil
	}

	b.errMu.Lock()
	defer b.errMu.Unlock()
	if b.err == nil {
		return 0, io.EOF
	}
	return 0, b.err
}

// Available returns how many samples are buffered
func (b *Buffered) Available() int {
	return b.ring.Available()
}

// Underruns returns how many reads were padded with silence
func (b *Buffered) Underruns() uint64 {
	return b.underruns.Load()
}

// Close stops the reader goroutine and closes the source
func (b *Buffered) Close() error {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.done
	return b.src.Close()
}
