// ABOUTME: Tests for the stream session lifecycle and fill cycle
// ABOUTME: Drives sessions against the in-memory service
package stream_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sendspin/pcmstream/pkg/audio"
	"github.com/Sendspin/pcmstream/pkg/stream"
	"github.com/Sendspin/pcmstream/pkg/stream/memory"
)

// recorder is the user context of test sessions
type recorder struct {
	mu     sync.Mutex
	sizes  []int
	fillFn func(dst []byte)
}

func (r *recorder) calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.sizes...)
}

func recordFill(dst []byte, r *recorder) {
	r.mu.Lock()
	r.sizes = append(r.sizes, len(dst))
	fn := r.fillFn
	r.mu.Unlock()
	if fn != nil {
		fn(dst)
	}
}

func setup(t *testing.T, svc stream.Service, channels int) (*stream.Session[*recorder], *recorder) {
	t.Helper()

	rec := &recorder{}
	s, err := stream.Setup(svc, stream.Config{
		Name:       "test",
		SampleRate: 48000,
		Channels:   channels,
	}, recordFill, rec)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	return s, rec
}

// run starts s.Run on a goroutine and waits until the loop is accepting work
func run(t *testing.T, s *stream.Session[*recorder], ctx context.Context) <-chan error {
	t.Helper()

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !s.Running() {
		if time.Now().After(deadline) {
			t.Fatal("session loop did not start")
		}
		time.Sleep(time.Millisecond)
	}
	return errChan
}

func wait(t *testing.T, errChan <-chan error) error {
	t.Helper()

	select {
	case err := <-errChan:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestSetupConnectsPlaybackStream(t *testing.T) {
	svc := memory.New(memory.Options{})
	s, _ := setup(t, svc, 2)
	defer s.Close()

	reqs := svc.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 connect request, got %d", len(reqs))
	}
	req := reqs[0]

	if req.Direction != stream.DirectionOutput {
		t.Errorf("expected output direction, got %s", req.Direction)
	}

	wantFlags := stream.FlagAutoconnect | stream.FlagMapBuffers | stream.FlagRTProcess
	if req.Flags != wantFlags {
		t.Errorf("expected flags %s, got %s", wantFlags, req.Flags)
	}

	props := map[string]string{
		stream.PropMediaType:     "Audio",
		stream.PropMediaCategory: "Playback",
		stream.PropMediaRole:     "Music",
	}
	for k, v := range props {
		if req.Properties[k] != v {
			t.Errorf("property %s: expected %q, got %q", k, v, req.Properties[k])
		}
	}

	if len(req.Params) != 1 {
		t.Fatalf("expected exactly one offered format, got %d", len(req.Params))
	}
	f, err := stream.ParseFormat(req.Params[0])
	if err != nil {
		t.Fatalf("failed to parse offered format: %v", err)
	}
	if f != audio.S16(48000, 2) {
		t.Errorf("unexpected offered format %s", f)
	}

	if s.Format() != audio.S16(48000, 2) {
		t.Errorf("unexpected session format %s", s.Format())
	}
}

func TestSetupExtraProperties(t *testing.T) {
	svc := memory.New(memory.Options{})
	s, err := stream.Setup(svc, stream.Config{
		Name:       "props",
		SampleRate: 44100,
		Channels:   1,
		Properties: stream.Properties{stream.PropMediaRole: "Game", "custom": "yes"},
	}, recordFill, &recorder{})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	defer s.Close()

	props := svc.Requests()[0].Properties
	if props[stream.PropMediaRole] != "Game" || props["custom"] != "yes" {
		t.Errorf("extra properties not applied: %v", props)
	}
	if props[stream.PropMediaType] != "Audio" {
		t.Errorf("default media type lost: %v", props)
	}
}

func TestSetupInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  stream.Config
		fill stream.FillFunc[*recorder]
	}{
		{"zero rate", stream.Config{SampleRate: 0, Channels: 2}, recordFill},
		{"negative channels", stream.Config{SampleRate: 48000, Channels: -1}, recordFill},
		{"nil fill", stream.Config{SampleRate: 48000, Channels: 2}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := memory.New(memory.Options{})
			s, err := stream.Setup(svc, tt.cfg, tt.fill, &recorder{})
			if s != nil {
				t.Error("expected no session")
			}

			var initErr *stream.InitError
			if !errors.As(err, &initErr) {
				t.Fatalf("expected InitError, got %v", err)
			}
			if !errors.Is(err, stream.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if svc.Inits() != 0 {
				t.Error("service must not be initialized for invalid config")
			}
		})
	}
}

func TestSetupServiceUnavailable(t *testing.T) {
	svc := memory.New(memory.Options{InitErr: errors.New("connection refused")})

	_, err := stream.Setup(svc, stream.Config{SampleRate: 48000, Channels: 2}, recordFill, &recorder{})
	if !errors.Is(err, stream.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if n := stream.References(svc); n != 0 {
		t.Errorf("expected no references after failed init, got %d", n)
	}
}

func TestSetupNegotiationRejected(t *testing.T) {
	svc := memory.New(memory.Options{Reject: true})

	_, err := stream.Setup(svc, stream.Config{SampleRate: 48000, Channels: 2}, recordFill, &recorder{})
	if !errors.Is(err, stream.ErrNegotiation) {
		t.Fatalf("expected ErrNegotiation, got %v", err)
	}
	if svc.Inits() != 1 || svc.Deinits() != 1 {
		t.Errorf("expected init/deinit pair, got %d/%d", svc.Inits(), svc.Deinits())
	}
}

func TestSetupSubstitutedFormatRejected(t *testing.T) {
	svc := memory.New(memory.Options{Substitute: audio.Format{Sample: audio.FormatF32LE, SampleRate: 48000, Channels: 2}})

	_, err := stream.Setup(svc, stream.Config{SampleRate: 48000, Channels: 2}, recordFill, &recorder{})
	if !errors.Is(err, stream.ErrFormatMismatch) {
		t.Fatalf("expected ErrFormatMismatch, got %v", err)
	}
	if !errors.Is(err, stream.ErrNegotiation) {
		t.Errorf("mismatch should also be a negotiation error, got %v", err)
	}

	streams := svc.Streams()
	if len(streams) != 1 || !streams[0].Destroyed() {
		t.Error("expected the mismatched stream to be destroyed")
	}
	if stream.References(svc) != 0 {
		t.Error("expected service to be released")
	}
}

func TestFillCycle(t *testing.T) {
	tests := []struct {
		name       string
		channels   int
		capacity   int
		requested  int
		hasRequest bool
		wantBytes  int
	}{
		{"stereo full buffer", 2, 4096, 0, false, 4096},
		{"stereo requested 100", 2, 4096, 100, true, 400},
		{"request above capacity", 2, 4096, 5000, true, 4096},
		{"request zero", 2, 4096, 0, true, 0},
		{"negative request", 2, 4096, -5, true, 0},
		{"smaller than a frame", 2, 3, 0, false, 0},
		{"partial trailing frame", 2, 4099, 0, false, 4096},
		{"mono", 1, 1001, 0, false, 1000},
		{"5.1", 6, 1000, 0, false, 996},
		{"7.1 requested", 8, 4096, 10, true, 160},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := memory.New(memory.Options{})
			s, rec := setup(t, svc, tt.channels)
			errChan := run(t, s, context.Background())

			st := svc.Streams()[0]
			st.Offer(&stream.Buffer{
				Data:       make([]byte, tt.capacity),
				Requested:  tt.requested,
				HasRequest: tt.hasRequest,
			})
			if !st.Trigger() {
				t.Fatal("trigger not handled")
			}

			s.Quit()
			if err := wait(t, errChan); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("close failed: %v", err)
			}

			calls := rec.calls()
			if len(calls) != 1 || calls[0] != tt.wantBytes {
				t.Fatalf("expected one fill of %d bytes, got %v", tt.wantBytes, calls)
			}

			queued := st.Queued()
			if len(queued) != 1 {
				t.Fatalf("expected 1 queued chunk, got %d", len(queued))
			}
			chunk := queued[0].Chunk
			want := stream.Chunk{Offset: 0, Stride: 2 * tt.channels, Size: tt.wantBytes}
			if chunk != want {
				t.Errorf("expected chunk %+v, got %+v", want, chunk)
			}
			if chunk.Size%chunk.Stride != 0 {
				t.Errorf("chunk size %d is not a whole number of frames", chunk.Size)
			}
		})
	}
}

func TestFillCycleNoBuffer(t *testing.T) {
	svc := memory.New(memory.Options{})
	s, rec := setup(t, svc, 2)
	errChan := run(t, s, context.Background())

	st := svc.Streams()[0]
	if !st.Trigger() {
		t.Fatal("trigger not handled")
	}

	s.Quit()
	if err := wait(t, errChan); err != nil {
		t.Errorf("expected clean run, got %v", err)
	}
	defer s.Close()

	if len(rec.calls()) != 0 {
		t.Error("fill must not run without a buffer")
	}
	if len(st.Queued()) != 0 {
		t.Error("nothing should be queued")
	}
	if got := s.Stats().Skipped; got != 1 {
		t.Errorf("expected 1 skipped cycle, got %d", got)
	}
}

func TestFillCycleUnmappedBuffer(t *testing.T) {
	svc := memory.New(memory.Options{})
	s, rec := setup(t, svc, 2)
	errChan := run(t, s, context.Background())

	st := svc.Streams()[0]
	st.Offer(&stream.Buffer{Data: nil})
	st.Trigger()

	s.Quit()
	wait(t, errChan)
	defer s.Close()

	if len(rec.calls()) != 0 {
		t.Error("fill must not run for an unmapped buffer")
	}
	if len(st.Queued()) != 0 {
		t.Error("unmapped buffer must not be queued")
	}
}

func TestFillRoundTrip(t *testing.T) {
	svc := memory.New(memory.Options{})
	s, rec := setup(t, svc, 2)

	var written [][]byte
	rec.fillFn = func(dst []byte) {
		for i := range dst {
			dst[i] = byte(i*7 + 3)
		}
		written = append(written, append([]byte(nil), dst...))
	}

	errChan := run(t, s, context.Background())
	st := svc.Streams()[0]

	for _, capacity := range []int{4096, 10, 1023} {
		st.OfferCapacity(capacity)
		st.Trigger()
	}

	s.Quit()
	wait(t, errChan)
	defer s.Close()

	queued := st.Queued()
	if len(queued) != len(written) {
		t.Fatalf("expected %d chunks, got %d", len(written), len(queued))
	}
	for i := range queued {
		if queued[i].Chunk.Offset != 0 {
			t.Errorf("chunk %d: unexpected offset %d", i, queued[i].Chunk.Offset)
		}
		if !bytes.Equal(queued[i].Data, written[i]) {
			t.Errorf("chunk %d: queued bytes differ from written bytes", i)
		}
	}

	stats := s.Stats()
	if stats.Cycles != 3 {
		t.Errorf("expected 3 cycles, got %d", stats.Cycles)
	}
	if stats.Frames != 1024+2+255 {
		t.Errorf("expected %d frames, got %d", 1024+2+255, stats.Frames)
	}
}

func TestUserContextPassthrough(t *testing.T) {
	type state struct{ calls int }
	svc := memory.New(memory.Options{})
	ctxVal := &state{}

	s, err := stream.Setup(svc, stream.Config{SampleRate: 8000, Channels: 1},
		func(dst []byte, st *state) { st.calls++ }, ctxVal)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	errChan := make(chan error, 1)
	go func() { errChan <- s.Run(context.Background()) }()
	for !s.Running() {
		time.Sleep(time.Millisecond)
	}

	st := svc.Streams()[0]
	st.OfferCapacity(64)
	st.OfferCapacity(64)
	st.Trigger()
	st.Trigger()

	s.Quit()
	<-errChan
	s.Close()

	if ctxVal.calls != 2 {
		t.Errorf("expected user context to see 2 calls, got %d", ctxVal.calls)
	}
}

func TestQuitIdempotent(t *testing.T) {
	svc := memory.New(memory.Options{})
	s, _ := setup(t, svc, 2)
	defer s.Close()

	// Not running: no-op
	s.Quit()
	s.Quit()

	errChan := run(t, s, context.Background())
	for i := 0; i < 5; i++ {
		s.Quit()
	}
	if err := wait(t, errChan); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	// The session can run again after quitting
	errChan = run(t, s, context.Background())
	s.Quit()
	if err := wait(t, errChan); err != nil {
		t.Errorf("expected nil on second run, got %v", err)
	}
}

func TestQuitFromOtherGoroutineDuringFills(t *testing.T) {
	svc := memory.New(memory.Options{})
	s, rec := setup(t, svc, 2)
	rec.fillFn = func(dst []byte) {
		for i := range dst {
			dst[i] = 0xAB
		}
	}

	errChan := run(t, s, context.Background())
	st := svc.Streams()[0]

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			st.OfferCapacity(256)
			if !st.Trigger() {
				return
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	go s.Quit()

	if err := wait(t, errChan); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	close(stop)
	wg.Wait()

	if err := s.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	for i, q := range st.Queued() {
		if q.Chunk.Size != 256 {
			t.Fatalf("chunk %d: expected 256 bytes, got %d", i, q.Chunk.Size)
		}
		for _, b := range q.Data {
			if b != 0xAB {
				t.Fatalf("chunk %d: corrupted data", i)
			}
		}
	}
}

func TestRunContextCancel(t *testing.T) {
	svc := memory.New(memory.Options{})
	s, _ := setup(t, svc, 2)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errChan := run(t, s, ctx)
	cancel()

	if err := wait(t, errChan); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRunFatalServiceError(t *testing.T) {
	svc := memory.New(memory.Options{})
	s, _ := setup(t, svc, 2)
	defer s.Close()

	errChan := run(t, s, context.Background())

	lost := errors.New("server disconnected")
	svc.Streams()[0].Fail(lost)

	err := wait(t, errChan)
	var fatal *stream.FatalLoopError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalLoopError, got %v", err)
	}
	if !errors.Is(err, lost) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
}

func TestRunWhileRunning(t *testing.T) {
	svc := memory.New(memory.Options{})
	s, _ := setup(t, svc, 2)
	defer s.Close()

	errChan := run(t, s, context.Background())
	if err := s.Run(context.Background()); !errors.Is(err, stream.ErrRunning) {
		t.Errorf("expected ErrRunning, got %v", err)
	}
	s.Quit()
	wait(t, errChan)
}

func TestCloseLifecycle(t *testing.T) {
	svc := memory.New(memory.Options{})
	s, _ := setup(t, svc, 2)
	st := svc.Streams()[0]

	errChan := run(t, s, context.Background())
	if err := s.Close(); !errors.Is(err, stream.ErrRunning) {
		t.Errorf("expected ErrRunning while running, got %v", err)
	}
	s.Quit()
	wait(t, errChan)

	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !st.Destroyed() {
		t.Error("expected stream to be destroyed")
	}
	if err := s.Close(); !errors.Is(err, stream.ErrClosed) {
		t.Errorf("expected ErrClosed on second close, got %v", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, stream.ErrClosed) {
		t.Errorf("expected ErrClosed from Run after close, got %v", err)
	}
}

func TestServiceInitIsShared(t *testing.T) {
	svc := memory.New(memory.Options{})

	a, _ := setup(t, svc, 2)
	b, _ := setup(t, svc, 1)

	if svc.Inits() != 1 {
		t.Errorf("expected a single Init for two sessions, got %d", svc.Inits())
	}
	if stream.References(svc) != 2 {
		t.Errorf("expected 2 references, got %d", stream.References(svc))
	}

	a.Close()
	if svc.Deinits() != 0 {
		t.Error("service released while a session is still open")
	}

	b.Close()
	if svc.Deinits() != 1 {
		t.Errorf("expected Deinit after last close, got %d", svc.Deinits())
	}

	// Re-initialization after full release is safe
	c, _ := setup(t, svc, 2)
	defer c.Close()
	if svc.Inits() != 2 {
		t.Errorf("expected re-init, got %d inits", svc.Inits())
	}
}
