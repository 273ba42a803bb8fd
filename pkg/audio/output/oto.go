// ABOUTME: Oto-based audio service
// ABOUTME: Each stream is an oto player reading straight from its session
package output

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/Sendspin/pcmstream/pkg/audio"
	"github.com/Sendspin/pcmstream/pkg/stream"
)

// oto only allows one context per process, created with the first stream's
// format. otoRefs counts initialized Oto services across the process, so the
// context is suspended only when the last of them is released.
var (
	otoMu     sync.Mutex
	otoCtx    *oto.Context
	otoFormat audio.Format
	otoRefs   int

	resumeOto  = func(c *oto.Context) error { return c.Resume() }
	suspendOto = func(c *oto.Context) error { return c.Suspend() }
)

// Oto plays streams through the ebitengine/oto driver
type Oto struct {
	opts Options
}

// NewOto creates an oto service
func NewOto(opts Options) *Oto {
	return &Oto{opts: opts}
}

func (o *Oto) Name() string { return NameOto }

func (o *Oto) Init() error {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoRefs == 0 && otoCtx != nil {
		if err := resumeOto(otoCtx); err != nil {
			return fmt.Errorf("failed to resume oto context: %w", err)
		}
	}
	otoRefs++
	return nil
}

func (o *Oto) Deinit() {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoRefs == 0 {
		return
	}
	otoRefs--
	if otoRefs == 0 && otoCtx != nil {
		if err := suspendOto(otoCtx); err != nil {
			log.Printf("Warning: oto suspend error: %v", err)
		}
	}
}

// Connect opens a player. Once the process-wide context exists only its
// format can be negotiated.
func (o *Oto) Connect(req *stream.ConnectRequest) (stream.Stream, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	accept := acceptS16(0)
	if otoCtx != nil {
		accept = func(f audio.Format) bool { return f == otoFormat }
	}
	format, err := req.Negotiate(accept)
	if err != nil {
		if otoCtx != nil {
			return nil, fmt.Errorf("%w: oto context is fixed at %s", err, otoFormat)
		}
		return nil, err
	}

	if otoCtx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   o.opts.latency(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create oto context: %w", err)
		}
		<-ready

		otoCtx = ctx
		otoFormat = format
		log.Printf("Audio output initialized: %dHz, %d channels (oto)", format.SampleRate, format.Channels)
	}

	pull := stream.NewPullStream(req, format)
	player := otoCtx.NewPlayer(&pullReader{pull: pull, stride: format.Stride()})
	player.SetBufferSize(format.FramesIn(o.opts.latency()) * format.Stride())
	player.Play()

	ds := newDeviceStream(pull)
	ds.destroy = func() error {
		player.Pause()
		return player.Close()
	}
	return ds, nil
}

// pullReader feeds an oto player from a session. Reads are whole frames
// and never short while the stream is open.
type pullReader struct {
	pull   *stream.PullStream
	stride int
}

func (r *pullReader) Read(p []byte) (int, error) {
	if r.pull.Closed() {
		return 0, io.EOF
	}
	n := len(p) - len(p)%r.stride
	r.pull.Pull(p[:n])
	return n, nil
}
