// ABOUTME: Playback session lifecycle and the buffer-fill cycle
// ABOUTME: Setup negotiates one S16 format, Run drives fills, Close tears down
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/Sendspin/pcmstream/internal/loop"
	"github.com/Sendspin/pcmstream/pkg/audio"
)

// FillFunc writes exactly len(dst) bytes of interleaved S16LE samples.
// It runs on the loop goroutine and must not block.
type FillFunc[T any] func(dst []byte, userContext T)

// Config configures a playback session
type Config struct {
	// Name of the stream as shown by the audio service
	Name string

	SampleRate int
	Channels   int

	// Target sink name, empty for the default sink
	Target string

	// Properties are merged over DefaultProperties
	Properties Properties
}

func (c Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("%w: channels must be positive, got %d", ErrInvalidConfig, c.Channels)
	}
	return nil
}

// Session owns one playback stream. The user context is held, never inspected.
type Session[T any] struct {
	name        string
	format      audio.Format
	stride      int
	fill        FillFunc[T]
	userContext T

	svc    Service
	loop   *loop.Loop
	stream Stream
	closed atomic.Bool
	stats  counters
}

// Setup initializes the service, offers a single S16 format and connects a
// playback stream. On error nothing stays allocated.
func Setup[T any](svc Service, cfg Config, fill FillFunc[T], userContext T) (*Session[T], error) {
	if err := cfg.validate(); err != nil {
		return nil, &InitError{Op: "config", Err: err}
	}
	if fill == nil {
		return nil, &InitError{Op: "config", Err: fmt.Errorf("%w: fill callback is required", ErrInvalidConfig)}
	}
	if svc == nil {
		return nil, &InitError{Op: "init", Err: fmt.Errorf("%w: no service", ErrUnavailable)}
	}

	if err := acquire(svc); err != nil {
		return nil, &InitError{Op: "init", Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}

	format := audio.S16(cfg.SampleRate, cfg.Channels)
	s := &Session[T]{
		name:        cfg.Name,
		format:      format,
		stride:      format.Stride(),
		fill:        fill,
		userContext: userContext,
		svc:         svc,
		loop:        loop.New(),
	}

	var b Builder
	param, err := b.Format(ParamEnumFormat, format)
	if err != nil {
		release(svc)
		return nil, &InitError{Op: "params", Err: err}
	}

	req := &ConnectRequest{
		Name:       cfg.Name,
		Direction:  DirectionOutput,
		Target:     cfg.Target,
		Flags:      FlagAutoconnect | FlagMapBuffers | FlagRTProcess,
		Properties: DefaultProperties().Merge(cfg.Properties),
		Params:     [][]byte{param},
		Loop:       s.loop,
		Process:    s.process,
	}

	st, err := svc.Connect(req)
	if err != nil {
		release(svc)
		return nil, &InitError{Op: "connect", Err: err}
	}

	if got := st.Format(); got != format {
		if derr := st.Destroy(); derr != nil {
			log.Printf("Failed to destroy rejected stream: %v", derr)
		}
		release(svc)
		return nil, &InitError{
			Op:  "negotiate",
			Err: fmt.Errorf("%w: %w: requested %s, got %s", ErrNegotiation, ErrFormatMismatch, format, got),
		}
	}

	s.stream = st
	log.Printf("Stream %q connected to %s: %s (%s)", cfg.Name, svc.Name(), format, req.Flags)

	return s, nil
}

// Run blocks processing buffer-ready notifications until Quit, ctx
// cancellation or a fatal service error.
func (s *Session[T]) Run(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}

	err := s.loop.Run(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, loop.ErrRunning):
		return ErrRunning
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return err
	}

	var fatal *FatalLoopError
	if errors.As(err, &fatal) {
		return fatal
	}
	return &FatalLoopError{Err: err}
}

// Quit asks a running Run to return. Safe from any goroutine, idempotent,
// and a no-op when the session is not running.
func (s *Session[T]) Quit() {
	s.loop.Quit()
}

// Running reports whether Run is active
func (s *Session[T]) Running() bool {
	return s.loop.Running()
}

// Close destroys the stream and releases the service. Run must have returned.
func (s *Session[T]) Close() error {
	if s.loop.Running() {
		return ErrRunning
	}
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	err := s.stream.Destroy()
	s.stream = nil
	release(s.svc)

	st := s.Stats()
	log.Printf("Stream %q closed (%d cycles, %d skipped, %d frames)", s.name, st.Cycles, st.Skipped, st.Frames)

	if err != nil {
		return fmt.Errorf("failed to destroy stream: %w", err)
	}
	return nil
}

// Format returns the negotiated format
func (s *Session[T]) Format() audio.Format {
	return s.format
}

// Name returns the stream name
func (s *Session[T]) Name() string {
	return s.name
}

// Stats returns a snapshot of the fill counters
func (s *Session[T]) Stats() Stats {
	return s.stats.snapshot()
}

// process is the buffer-ready handler. It runs on the loop goroutine only.
func (s *Session[T]) process() {
	st := s.stream
	if st == nil {
		return
	}

	b := st.Dequeue()
	if b == nil || b.Data == nil {
		s.stats.skipped.Add(1)
		return
	}

	frames := b.Frames(s.stride)
	size := frames * s.stride

	s.fill(b.Data[:size:size], s.userContext)

	b.Chunk = Chunk{Offset: 0, Stride: s.stride, Size: size}
	if err := st.Queue(b); err != nil {
		s.loop.Fail(fmt.Errorf("queue buffer: %w", err))
		return
	}

	s.stats.cycles.Add(1)
	s.stats.frames.Add(uint64(frames))
	if frames == 0 {
		s.stats.empty.Add(1)
	}
}
