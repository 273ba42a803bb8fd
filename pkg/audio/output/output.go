// ABOUTME: Audio service registry and shared device stream plumbing
// ABOUTME: Picks a playback backend by name and adapts pull callbacks to sessions
package output

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Sendspin/pcmstream/pkg/audio"
	"github.com/Sendspin/pcmstream/pkg/stream"
)

// Backend names accepted by New
const (
	NamePulse     = "pulse"
	NameOto       = "oto"
	NameMalgo     = "malgo"
	NamePortAudio = "portaudio"
	NameWAV       = "wav"
)

// DefaultLatency is the device buffer target when Options leaves it unset
const DefaultLatency = 50 * time.Millisecond

// ErrUnknownBackend is returned by New for names it does not know
var ErrUnknownBackend = errors.New("unknown audio backend")

// Options configures the services created by New
type Options struct {
	// AppName is reported to sound servers that show client names
	AppName string

	// Latency is the device buffer target
	Latency time.Duration

	// Path is the file written by the wav backend
	Path string

	// Realtime paces the wav backend at playback speed
	Realtime bool
}

func (o Options) latency() time.Duration {
	if o.Latency <= 0 {
		return DefaultLatency
	}
	return o.Latency
}

var constructors = map[string]func(Options) stream.Service{
	NamePulse:     func(o Options) stream.Service { return NewPulse(o) },
	NameOto:       func(o Options) stream.Service { return NewOto(o) },
	NameMalgo:     func(o Options) stream.Service { return NewMalgo(o) },
	NamePortAudio: func(o Options) stream.Service { return NewPortAudio(o) },
	NameWAV:       func(o Options) stream.Service { return NewWAVFile(o) },
}

// New creates the service registered under name
func New(name string, opts Options) (stream.Service, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, Names())
	}
	return ctor(opts), nil
}

// Names lists the registered backends
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// acceptS16 accepts formats a 16-bit device of up to maxChannels can play
func acceptS16(maxChannels int) func(audio.Format) bool {
	return func(f audio.Format) bool {
		return f.Sample == audio.FormatS16LE && (maxChannels <= 0 || f.Channels <= maxChannels)
	}
}

// deviceStream is a PullStream whose device is torn down on Destroy
type deviceStream struct {
	*stream.PullStream
	format audio.Format // what the device actually opened

	once    sync.Once
	destroy func() error
	err     error
}

func newDeviceStream(pull *stream.PullStream) *deviceStream {
	return &deviceStream{PullStream: pull, format: pull.Format()}
}

func (d *deviceStream) Format() audio.Format {
	return d.format
}

func (d *deviceStream) Destroy() error {
	d.once.Do(func() {
		d.PullStream.Close()
		if d.destroy != nil {
			d.err = d.destroy()
		}
	})
	return d.err
}

// pullInt16 runs one cycle into samples through a reusable byte scratch
// and returns the number of samples the producer supplied
func pullInt16(pull *stream.PullStream, scratch *[]byte, samples []int16, frames int, hasRequest bool) int {
	size := len(samples) * audio.BytesPerSample
	if cap(*scratch) < size {
		*scratch = make([]byte, size)
	}
	buf := (*scratch)[:size]

	var n int
	if hasRequest {
		n = pull.PullFrames(buf, frames)
	} else {
		n = pull.Pull(buf)
	}
	audio.Int16s(samples, buf)
	return n / audio.BytesPerSample
}
