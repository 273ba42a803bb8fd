// ABOUTME: Contract between a session and the audio service it plays on
// ABOUTME: Defines Service, Stream, connect requests, properties and flags
package stream

import (
	"strings"

	"github.com/Sendspin/pcmstream/pkg/audio"
)

// Service is a client of a host audio service (sound server, device API,
// file or network sink). Implementations must be comparable, normally a pointer.
type Service interface {
	// Name identifies the service in logs
	Name() string

	// Init prepares process-wide client state. It is called by the first
	// session that uses the service.
	Init() error

	// Deinit releases process-wide client state after the last session closed.
	Deinit()

	// Connect opens a stream and negotiates one of the offered formats.
	Connect(req *ConnectRequest) (Stream, error)
}

// Stream is the connection handle of one session
type Stream interface {
	// Format returns the negotiated format
	Format() audio.Format

	// Dequeue returns a free buffer, or nil if none is available this cycle
	Dequeue() *Buffer

	// Queue hands a filled buffer back for playback
	Queue(b *Buffer) error

	// Destroy disconnects the stream and releases its resources
	Destroy() error
}

// Dispatcher runs process callbacks on the session's loop goroutine
type Dispatcher interface {
	// Invoke runs fn on the loop and waits for it. It reports false when
	// the loop is not running.
	Invoke(fn func()) bool

	// Fail ends the running loop with an unrecoverable error
	Fail(err error)
}

// Direction of a stream relative to the service
type Direction uint8

const (
	DirectionInput Direction = iota
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}

// Flags requested at connect time
type Flags uint32

const (
	// FlagAutoconnect links the stream to the default sink
	FlagAutoconnect Flags = 1 << iota
	// FlagMapBuffers asks for buffers mapped into process memory
	FlagMapBuffers
	// FlagRTProcess dispatches process callbacks from the real-time path
	FlagRTProcess
)

func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

func (f Flags) String() string {
	var names []string
	if f.Has(FlagAutoconnect) {
		names = append(names, "autoconnect")
	}
	if f.Has(FlagMapBuffers) {
		names = append(names, "map-buffers")
	}
	if f.Has(FlagRTProcess) {
		names = append(names, "rt-process")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Well-known property keys
const (
	PropMediaType     = "media.type"
	PropMediaCategory = "media.category"
	PropMediaRole     = "media.role"
	PropMediaName     = "media.name"
	PropAppName       = "application.name"
)

// Properties describe a stream to the service
type Properties map[string]string

// DefaultProperties tags a music playback stream
func DefaultProperties() Properties {
	return Properties{
		PropMediaType:     "Audio",
		PropMediaCategory: "Playback",
		PropMediaRole:     "Music",
	}
}

// Merge returns a copy of p overlaid with extra
func (p Properties) Merge(extra Properties) Properties {
	out := make(Properties, len(p)+len(extra))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// ConnectRequest carries everything a service needs to open a stream
type ConnectRequest struct {
	Name       string
	Direction  Direction
	Target     string // sink to link to, empty for the default sink
	Flags      Flags
	Properties Properties
	Params     [][]byte // offered formats, encoded with Builder

	Loop    Dispatcher
	Process func()
}

// Negotiate decodes the first offered format that accept allows.
// accept may be nil to take the first valid offer.
func (r *ConnectRequest) Negotiate(accept func(audio.Format) bool) (audio.Format, error) {
	for _, p := range r.Params {
		f, err := ParseFormat(p)
		if err != nil {
			continue
		}
		if accept == nil || accept(f) {
			return f, nil
		}
	}
	return audio.Format{}, ErrNegotiation
}
