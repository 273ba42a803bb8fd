// ABOUTME: Audio service that renders a session into a WAV file
// ABOUTME: A pacer stands in for the device clock
package output

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Sendspin/pcmstream/pkg/audio"
	"github.com/Sendspin/pcmstream/pkg/stream"
)

// WAVFile writes 16-bit PCM WAV files
type WAVFile struct {
	opts Options

	mu   sync.Mutex
	open map[string]bool
}

// NewWAVFile creates a WAV file service writing to opts.Path
func NewWAVFile(opts Options) *WAVFile {
	return &WAVFile{opts: opts, open: make(map[string]bool)}
}

func (w *WAVFile) Name() string { return NameWAV }
func (w *WAVFile) Init() error  { return nil }
func (w *WAVFile) Deinit()      {}

// Connect creates the file. The request target overrides the configured path.
func (w *WAVFile) Connect(req *stream.ConnectRequest) (stream.Stream, error) {
	path := w.opts.Path
	if req.Target != "" {
		path = req.Target
	}
	if path == "" {
		return nil, fmt.Errorf("%w: no output path for wav backend", stream.ErrUnavailable)
	}

	format, err := req.Negotiate(acceptS16(0))
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.open[path] {
		return nil, fmt.Errorf("%w: %s is already being written", stream.ErrUnavailable, path)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stream.ErrUnavailable, err)
	}

	enc := wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		SourceBitDepth: 16,
	}

	write := func(chunk []byte) error {
		n := len(chunk) / audio.BytesPerSample
		if cap(buf.Data) < n {
			buf.Data = make([]int, n)
		}
		buf.Data = buf.Data[:n]
		for i := range buf.Data {
			buf.Data[i] = int(int16(uint16(chunk[2*i]) | uint16(chunk[2*i+1])<<8))
		}
		return enc.Write(buf)
	}

	pull := stream.NewPullStream(req, format)
	pacer := stream.NewPacer(pull, stream.DefaultQuantum, w.opts.Realtime, write)
	pacer.Start()

	w.open[path] = true
	log.Printf("Writing %s to %s", format, path)

	ds := newDeviceStream(pull)
	ds.destroy = func() error {
		pacer.Stop()

		w.mu.Lock()
		delete(w.open, path)
		w.mu.Unlock()

		return errors.Join(enc.Close(), f.Close())
	}
	return ds, nil
}
