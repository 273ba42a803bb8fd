// ABOUTME: In-process audio service with caller-controlled buffers
// ABOUTME: Used for tests and dry runs; records every queued chunk
package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Sendspin/pcmstream/pkg/audio"
	"github.com/Sendspin/pcmstream/pkg/stream"
)

// ErrDestroyed is returned by operations on a destroyed stream
var ErrDestroyed = errors.New("memory stream destroyed")

// Options configures service behavior
type Options struct {
	// InitErr makes Init fail
	InitErr error

	// Reject makes every negotiation fail
	Reject bool

	// Substitute replaces the negotiated format when valid
	Substitute audio.Format
}

// Service is an in-process audio service
type Service struct {
	opts Options

	mu       sync.Mutex
	inits    int
	deinits  int
	streams  []*Stream
	requests []*stream.ConnectRequest
}

// New creates a memory service
func New(opts Options) *Service {
	return &Service{opts: opts}
}

func (s *Service) Name() string { return "memory" }

func (s *Service) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.InitErr != nil {
		return s.opts.InitErr
	}
	s.inits++
	return nil
}

func (s *Service) Deinit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deinits++
}

// Connect negotiates the first offered format
func (s *Service) Connect(req *stream.ConnectRequest) (stream.Stream, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.opts.Reject {
		return nil, fmt.Errorf("%w: memory service rejects all formats", stream.ErrNegotiation)
	}

	format, err := req.Negotiate(func(f audio.Format) bool {
		return f.Sample == audio.FormatS16LE
	})
	if err != nil {
		return nil, err
	}
	if s.opts.Substitute.Valid() {
		format = s.opts.Substitute
	}

	st := &Stream{req: req, format: format}

	s.mu.Lock()
	s.streams = append(s.streams, st)
	s.mu.Unlock()

	return st, nil
}

// Inits returns how many times Init succeeded
func (s *Service) Inits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits
}

// Deinits returns how many times Deinit ran
func (s *Service) Deinits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deinits
}

// Streams returns every stream connected so far
func (s *Service) Streams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Stream(nil), s.streams...)
}

// Requests returns every connect request received so far
func (s *Service) Requests() []*stream.ConnectRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*stream.ConnectRequest(nil), s.requests...)
}

// Queued is a chunk handed back by the producer
type Queued struct {
	Capacity int
	Chunk    stream.Chunk
	Data     []byte // copy of the valid region
}

// Stream is a memory service stream
type Stream struct {
	req    *stream.ConnectRequest
	format audio.Format

	mu        sync.Mutex
	free      []*stream.Buffer
	queued    []Queued
	destroyed bool
}

// Format returns the negotiated format
func (st *Stream) Format() audio.Format {
	return st.format
}

// Request returns the connect request that created the stream
func (st *Stream) Request() *stream.ConnectRequest {
	return st.req
}

// Offer makes b available to the next Dequeue
func (st *Stream) Offer(b *stream.Buffer) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.free = append(st.free, b)
}

// OfferCapacity offers a new mapped buffer of the given size
func (st *Stream) OfferCapacity(capacity int) *stream.Buffer {
	b := &stream.Buffer{Data: make([]byte, capacity)}
	st.Offer(b)
	return b
}

// Trigger sends one buffer-ready notification and waits for it to be
// handled. It reports false when the session loop is not running.
func (st *Stream) Trigger() bool {
	return st.req.Loop.Invoke(st.req.Process)
}

// Fail ends the session loop with err
func (st *Stream) Fail(err error) {
	st.req.Loop.Fail(err)
}

func (st *Stream) Dequeue() *stream.Buffer {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.destroyed || len(st.free) == 0 {
		return nil
	}
	b := st.free[0]
	st.free = st.free[1:]
	return b
}

func (st *Stream) Queue(b *stream.Buffer) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.destroyed {
		return ErrDestroyed
	}
	if b == nil {
		return fmt.Errorf("queue: nil buffer")
	}

	c := b.Chunk
	if c.Offset < 0 || c.Size < 0 || c.Offset+c.Size > len(b.Data) {
		return fmt.Errorf("queue: chunk %+v outside buffer of %d bytes", c, len(b.Data))
	}

	data := make([]byte, c.Size)
	copy(data, b.Data[c.Offset:c.Offset+c.Size])
	st.queued = append(st.queued, Queued{Capacity: len(b.Data), Chunk: c, Data: data})
	return nil
}

// Queued returns the chunks queued so far
func (st *Stream) Queued() []Queued {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]Queued(nil), st.queued...)
}

// Pending returns how many offered buffers were not dequeued
func (st *Stream) Pending() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.free)
}

func (st *Stream) Destroy() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.destroyed {
		return ErrDestroyed
	}
	st.destroyed = true
	st.free = nil
	return nil
}

// Destroyed reports whether Destroy was called
func (st *Stream) Destroyed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.destroyed
}
