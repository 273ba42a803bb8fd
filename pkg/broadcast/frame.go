// ABOUTME: Binary frame layout for broadcast audio chunks
// ABOUTME: One codec byte, a big-endian sequence number, then the payload
package broadcast

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Codec identifies the payload encoding of a frame
type Codec byte

const (
	CodecPCM  Codec = 0 // interleaved S16LE
	CodecOpus Codec = 1 // one Opus packet
)

func (c Codec) String() string {
	switch c {
	case CodecPCM:
		return "pcm"
	case CodecOpus:
		return "opus"
	default:
		return "unknown"
	}
}

// ParseCodec maps a codec name to its id
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "pcm":
		return CodecPCM, nil
	case "opus":
		return CodecOpus, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", name)
	}
}

// HeaderSize is the number of bytes before the payload
const HeaderSize = 9

var errShortFrame = errors.New("frame shorter than header")

// AppendFrame appends one encoded frame to dst
func AppendFrame(dst []byte, codec Codec, seq uint64, payload []byte) []byte {
	dst = append(dst, byte(codec))
	dst = binary.BigEndian.AppendUint64(dst, seq)
	return append(dst, payload...)
}

// ParseFrame splits a frame into its header fields and payload
func ParseFrame(frame []byte) (Codec, uint64, []byte, error) {
	if len(frame) < HeaderSize {
		return 0, 0, nil, errShortFrame
	}
	return Codec(frame[0]), binary.BigEndian.Uint64(frame[1:HeaderSize]), frame[HeaderSize:], nil
}
