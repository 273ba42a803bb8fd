//go:build portaudio

// ABOUTME: PortAudio service
// ABOUTME: The stream callback pulls one session cycle per buffer
package output

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/Sendspin/pcmstream/pkg/stream"
)

const portAudioEnabled = true

// PortAudio plays streams on the default PortAudio device
type PortAudio struct {
	opts Options
}

// NewPortAudio creates a PortAudio service
func NewPortAudio(opts Options) *PortAudio {
	return &PortAudio{opts: opts}
}

func (p *PortAudio) Name() string { return NamePortAudio }

func (p *PortAudio) Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return nil
}

func (p *PortAudio) Deinit() {
	portaudio.Terminate()
}

func (p *PortAudio) Connect(req *stream.ConnectRequest) (stream.Stream, error) {
	format, err := req.Negotiate(acceptS16(0))
	if err != nil {
		return nil, err
	}

	pull := stream.NewPullStream(req, format)
	framesPerBuffer := format.FramesIn(p.opts.latency())

	var scratch []byte
	callback := func(out []int16) {
		pullInt16(pull, &scratch, out, len(out)/format.Channels, true)
	}

	s, err := portaudio.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), framesPerBuffer, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if err := s.Start(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start stream: %w", err)
	}

	ds := newDeviceStream(pull)
	ds.destroy = func() error {
		if err := s.Stop(); err != nil {
			return err
		}
		return s.Close()
	}
	return ds, nil
}
