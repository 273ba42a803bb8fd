//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Init always fails so sessions report the service as unavailable
package output

import (
	"errors"
	"fmt"

	"github.com/Sendspin/pcmstream/pkg/stream"
)

const portAudioEnabled = false

var errPortAudioDisabled = errors.New("PortAudio support not enabled (build with -tags portaudio)")

// PortAudio service (stub)
type PortAudio struct{}

// NewPortAudio creates a PortAudio service
func NewPortAudio(Options) *PortAudio {
	return &PortAudio{}
}

func (p *PortAudio) Name() string { return NamePortAudio }

func (p *PortAudio) Init() error {
	return errPortAudioDisabled
}

func (p *PortAudio) Deinit() {}

func (p *PortAudio) Connect(*stream.ConnectRequest) (stream.Stream, error) {
	return nil, fmt.Errorf("%w: %w", stream.ErrUnavailable, errPortAudioDisabled)
}
