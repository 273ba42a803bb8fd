// ABOUTME: Audio output service tests
// ABOUTME: Covers backend selection, device stream plumbing and WAV rendering
package output

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ebitengine/oto/v3"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Sendspin/pcmstream/internal/loop"
	"github.com/Sendspin/pcmstream/pkg/audio"
	"github.com/Sendspin/pcmstream/pkg/stream"
)

func TestServicesImplementService(t *testing.T) {
	var _ stream.Service = (*Pulse)(nil)
	var _ stream.Service = (*Oto)(nil)
	var _ stream.Service = (*Malgo)(nil)
	var _ stream.Service = (*PortAudio)(nil)
	var _ stream.Service = (*WAVFile)(nil)
}

func TestNew(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			svc, err := New(name, Options{})
			if err != nil {
				t.Fatalf("New(%q) failed: %v", name, err)
			}
			if svc.Name() != name {
				t.Errorf("expected name %q, got %q", name, svc.Name())
			}
		})
	}

	if _, err := New("alsa", Options{}); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	want := []string{NameMalgo, NameOto, NamePortAudio, NamePulse, NameWAV}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected %v, got %v", want, names)
		}
	}
}

func TestAcceptS16(t *testing.T) {
	tests := []struct {
		name     string
		max      int
		format   audio.Format
		expected bool
	}{
		{"stereo", 2, audio.S16(48000, 2), true},
		{"too many channels", 2, audio.S16(48000, 6), false},
		{"unlimited", 0, audio.S16(48000, 8), true},
		{"float", 0, audio.Format{Sample: audio.FormatF32LE, SampleRate: 48000, Channels: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := acceptS16(tt.max)(tt.format); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestDeviceStreamDestroyOnce(t *testing.T) {
	calls := 0
	ds := newDeviceStream(stream.NewPullStream(&stream.ConnectRequest{}, audio.S16(48000, 2)))
	ds.destroy = func() error {
		calls++
		return nil
	}

	ds.Destroy()
	ds.Destroy()
	if calls != 1 {
		t.Errorf("expected one teardown, got %d", calls)
	}
	if !ds.Closed() {
		t.Error("expected pull stream closed")
	}
}

func TestPullReaderWholeFrames(t *testing.T) {
	pull := stream.NewPullStream(&stream.ConnectRequest{Loop: loop.New()}, audio.S16(48000, 2))
	r := &pullReader{pull: pull, stride: 4}

	p := make([]byte, 10)
	n, err := r.Read(p)
	if err != nil || n != 8 {
		t.Errorf("expected 8 bytes, got %d (%v)", n, err)
	}

	pull.Close()
	if _, err := r.Read(p); err == nil {
		t.Error("expected EOF after close")
	}
}

func TestPullInt16Silence(t *testing.T) {
	pull := stream.NewPullStream(&stream.ConnectRequest{}, audio.S16(48000, 1))
	var scratch []byte
	out := []int16{1, 2, 3}

	if n := pullInt16(pull, &scratch, out, 3, true); n != 0 {
		t.Errorf("expected no producer samples, got %d", n)
	}
	for i, s := range out {
		if s != 0 {
			t.Errorf("sample %d: expected silence, got %d", i, s)
		}
	}
}

func TestPortAudioStubUnavailable(t *testing.T) {
	if portAudioEnabled {
		t.Skip("built with portaudio")
	}
	_, err := stream.Setup(NewPortAudio(Options{}), stream.Config{SampleRate: 48000, Channels: 2},
		func([]byte, struct{}) {}, struct{}{})
	if !errors.Is(err, stream.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestWAVFileNeedsPath(t *testing.T) {
	_, err := stream.Setup(NewWAVFile(Options{}), stream.Config{SampleRate: 48000, Channels: 2},
		func([]byte, struct{}) {}, struct{}{})
	if !errors.Is(err, stream.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestWAVFileRendersSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	svc := NewWAVFile(Options{Path: path})

	// each sample counts up so the file contents can be checked
	var next int16
	fill := func(dst []byte, _ struct{}) {
		samples := make([]int16, len(dst)/2)
		for i := range samples {
			samples[i] = next
			next++
		}
		audio.PutInt16s(dst, samples)
	}

	s, err := stream.Setup(svc, stream.Config{Name: "render", SampleRate: 8000, Channels: 2}, fill, struct{}{})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	errChan := make(chan error, 1)
	go func() { errChan <- s.Run(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for s.Stats().Frames < 4*stream.DefaultQuantum {
		if time.Now().After(deadline) {
			t.Fatal("session rendered too few frames")
		}
		time.Sleep(time.Millisecond)
	}

	s.Quit()
	if err := <-errChan; err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("output is not a valid WAV file")
	}
	if dec.SampleRate != 8000 || dec.NumChans != 2 || dec.BitDepth != 16 {
		t.Errorf("unexpected header: %dHz %dch %d-bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}

	buf := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: 2, SampleRate: 8000}, Data: make([]int, 4096)}
	n, err := dec.PCMBuffer(buf)
	if err != nil || n == 0 {
		t.Fatalf("read samples: %d (%v)", n, err)
	}
	for i := 0; i < n; i++ {
		if buf.Data[i] != i {
			t.Fatalf("sample %d: expected %d, got %d", i, i, buf.Data[i])
		}
	}
}

// useFakeOtoContext installs a context that is never handed to the driver
// and counts suspend and resume calls.
func useFakeOtoContext(t *testing.T) (resumes, suspends *int) {
	t.Helper()

	otoMu.Lock()
	savedCtx, savedRefs := otoCtx, otoRefs
	savedResume, savedSuspend := resumeOto, suspendOto
	otoCtx, otoRefs = &oto.Context{}, 0
	otoMu.Unlock()

	resumes, suspends = new(int), new(int)
	resumeOto = func(*oto.Context) error { *resumes++; return nil }
	suspendOto = func(*oto.Context) error { *suspends++; return nil }

	t.Cleanup(func() {
		otoMu.Lock()
		otoCtx, otoRefs = savedCtx, savedRefs
		resumeOto, suspendOto = savedResume, savedSuspend
		otoMu.Unlock()
	})
	return resumes, suspends
}

func TestOtoContextSharedAcrossServices(t *testing.T) {
	resumes, suspends := useFakeOtoContext(t)

	a, b := NewOto(Options{}), NewOto(Options{})
	if err := a.Init(); err != nil {
		t.Fatalf("init a: %v", err)
	}
	if err := b.Init(); err != nil {
		t.Fatalf("init b: %v", err)
	}
	if *resumes != 1 {
		t.Errorf("expected one resume for the first service, got %d", *resumes)
	}

	a.Deinit()
	if *suspends != 0 {
		t.Fatal("releasing one service suspended the context still used by the other")
	}

	b.Deinit()
	if *suspends != 1 {
		t.Errorf("expected suspend after the last service, got %d", *suspends)
	}

	// an extra Deinit must not drive the count negative
	b.Deinit()
	if err := a.Init(); err != nil {
		t.Fatalf("re-init a: %v", err)
	}
	if *resumes != 2 || *suspends != 1 {
		t.Errorf("expected 2 resumes and 1 suspend, got %d and %d", *resumes, *suspends)
	}
	a.Deinit()
}
