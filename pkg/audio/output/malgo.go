// ABOUTME: Malgo-based audio service
// ABOUTME: miniaudio's data callback pulls one session cycle per period
package output

import (
	"fmt"
	"log"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/Sendspin/pcmstream/pkg/stream"
)

// Malgo plays streams through miniaudio
type Malgo struct {
	opts Options

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
}

// NewMalgo creates a malgo service
func NewMalgo(opts Options) *Malgo {
	return &Malgo{opts: opts}
}

func (m *Malgo) Name() string { return NameMalgo }

// Init creates the miniaudio context shared by every stream
func (m *Malgo) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	m.malgoCtx = ctx
	return nil
}

func (m *Malgo) Deinit() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			log.Printf("Warning: malgo context uninit error: %v", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
}

// Connect opens and starts a playback device on the default output
func (m *Malgo) Connect(req *stream.ConnectRequest) (stream.Stream, error) {
	m.mu.Lock()
	ctx := m.malgoCtx
	m.mu.Unlock()
	if ctx == nil {
		return nil, fmt.Errorf("%w: malgo context not initialized", stream.ErrUnavailable)
	}

	format, err := req.Negotiate(acceptS16(0))
	if err != nil {
		return nil, err
	}
	if req.Target != "" {
		log.Printf("Warning: malgo plays on the default device, ignoring target %q", req.Target)
	}

	pull := stream.NewPullStream(req, format)
	stride := format.Stride()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(m.opts.latency().Milliseconds())
	deviceConfig.Alsa.NoMMap = 1

	// frameCount is the device's request hint for this period
	onSamples := func(pOutputSample, pInputSamples []byte, frameCount uint32) {
		out := pOutputSample[:min(len(pOutputSample), int(frameCount)*stride)]
		pull.PullFrames(out, int(frameCount))
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start device: %w", err)
	}

	log.Printf("Audio output initialized: %dHz, %d channels, 16-bit (malgo/%s)",
		format.SampleRate, format.Channels, formatName(malgo.FormatS16))

	ds := newDeviceStream(pull)
	ds.destroy = func() error {
		if err := device.Stop(); err != nil {
			log.Printf("Warning: device stop error: %v", err)
		}
		device.Uninit()
		return nil
	}
	return ds, nil
}

// formatName returns human-readable format name
func formatName(format malgo.FormatType) string {
	switch format {
	case malgo.FormatS16:
		return "S16"
	case malgo.FormatS24:
		return "S24"
	case malgo.FormatS32:
		return "S32"
	default:
		return fmt.Sprintf("Unknown(%d)", format)
	}
}
