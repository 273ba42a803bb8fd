// ABOUTME: PulseAudio service using the pure Go jfreymuth/pulse client
// ABOUTME: Works against PulseAudio and PipeWire's pulse server
package output

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"github.com/Sendspin/pcmstream/pkg/audio"
	"github.com/Sendspin/pcmstream/pkg/stream"
)

// Pulse plays streams on a PulseAudio compatible sound server
type Pulse struct {
	opts Options

	mu     sync.Mutex
	client *pulse.Client
}

// NewPulse creates a PulseAudio service
func NewPulse(opts Options) *Pulse {
	return &Pulse{opts: opts}
}

func (p *Pulse) Name() string { return NamePulse }

// Init connects the client shared by every stream of this service
func (p *Pulse) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var opts []pulse.ClientOption
	if p.opts.AppName != "" {
		opts = append(opts, pulse.ClientApplicationName(p.opts.AppName))
	}

	client, err := pulse.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to pulse server: %w", err)
	}
	p.client = client
	return nil
}

func (p *Pulse) Deinit() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}

// Connect creates a playback stream. Mono and stereo are supported.
func (p *Pulse) Connect(req *stream.ConnectRequest) (stream.Stream, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("%w: pulse client not initialized", stream.ErrUnavailable)
	}

	format, err := req.Negotiate(acceptS16(2))
	if err != nil {
		return nil, err
	}

	opts := []pulse.PlaybackOption{
		pulse.PlaybackSampleRate(format.SampleRate),
		pulse.PlaybackLatency(p.opts.latency().Seconds()),
		pulse.PlaybackMediaName(req.Name),
		pulse.PlaybackRawOption(func(c *proto.CreatePlaybackStream) {
			for k, v := range req.Properties {
				c.Properties[k] = proto.PropListString(v)
			}
		}),
	}
	if format.Channels == 1 {
		opts = append(opts, pulse.PlaybackMono)
	} else {
		opts = append(opts, pulse.PlaybackStereo)
	}

	if req.Target != "" {
		sink, err := client.SinkByID(req.Target)
		if err != nil {
			return nil, fmt.Errorf("%w: sink %q: %w", stream.ErrUnavailable, req.Target, err)
		}
		opts = append(opts, pulse.PlaybackSink(sink))
	}

	pull := stream.NewPullStream(req, format)
	var scratch []byte
	reader := pulse.Int16Reader(func(out []int16) (int, error) {
		if pull.Closed() {
			return 0, pulse.EndOfData
		}
		n := len(out) - len(out)%format.Channels
		pullInt16(pull, &scratch, out[:n], 0, false)
		return n, nil
	})

	ps, err := client.NewPlayback(reader, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create playback stream: %w", err)
	}

	ps.Start()

	ds := newDeviceStream(pull)
	// the server may pick its own rate or layout
	if got := audio.S16(ps.SampleRate(), ps.Channels()); got != format {
		log.Printf("Pulse server substituted %s for %s", got, format)
		ds.format = got
	}
	ds.destroy = func() error {
		ps.Stop()
		ps.Close()
		if err := ps.Error(); err != nil && !errors.Is(err, pulse.EndOfData) {
			return fmt.Errorf("pulse stream: %w", err)
		}
		return nil
	}
	return ds, nil
}
