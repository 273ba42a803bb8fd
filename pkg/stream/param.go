// ABOUTME: Format parameter encoding used during negotiation
// ABOUTME: Fixed-capacity builder with a write cursor and a matching parser
package stream

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Sendspin/pcmstream/pkg/audio"
)

// MaxParamSize bounds one encoded parameter
const MaxParamSize = 1024

// ParamID identifies the kind of an encoded parameter
type ParamID uint8

const (
	ParamEnumFormat ParamID = 1
	ParamFormat     ParamID = 2
)

// Record keys inside a format parameter
const (
	keyMediaType    uint8 = 1
	keyMediaSubtype uint8 = 2
	keySampleFormat uint8 = 3
	keyRate         uint8 = 4
	keyChannels     uint8 = 5
)

const (
	mediaTypeAudio  = 1
	mediaSubtypeRaw = 1
)

var (
	errParamOverflow  = errors.New("param exceeds builder capacity")
	errParamTruncated = errors.New("param truncated")
)

// Builder encodes parameters into a fixed scratch area.
// Layout: [id:1] then records of [key:1][len:1][value:len], values little-endian.
type Builder struct {
	buf [MaxParamSize]byte
	pos int
	err error
}

// Reset rewinds the cursor
func (b *Builder) Reset() {
	b.pos = 0
	b.err = nil
}

func (b *Builder) put(p ...byte) {
	if b.err != nil {
		return
	}
	if b.pos+len(p) > len(b.buf) {
		b.err = errParamOverflow
		return
	}
	copy(b.buf[b.pos:], p)
	b.pos += len(p)
}

func (b *Builder) putUint32(key uint8, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.put(key, 4)
	b.put(tmp[:]...)
}

// Format encodes f as a raw audio parameter and returns a copy of the bytes.
// The builder is reset first.
func (b *Builder) Format(id ParamID, f audio.Format) ([]byte, error) {
	b.Reset()
	b.put(byte(id))
	b.put(keyMediaType, 1, mediaTypeAudio)
	b.put(keyMediaSubtype, 1, mediaSubtypeRaw)
	b.put(keySampleFormat, 1, byte(f.Sample))
	b.putUint32(keyRate, uint32(f.SampleRate))
	b.putUint32(keyChannels, uint32(f.Channels))
	if b.err != nil {
		return nil, b.err
	}

	out := make([]byte, b.pos)
	copy(out, b.buf[:b.pos])
	return out, nil
}

// ParseFormat decodes a raw audio parameter
func ParseFormat(p []byte) (audio.Format, error) {
	if len(p) < 1 {
		return audio.Format{}, errParamTruncated
	}
	if id := ParamID(p[0]); id != ParamEnumFormat && id != ParamFormat {
		return audio.Format{}, fmt.Errorf("unexpected param id %d", id)
	}

	var f audio.Format
	var mediaType, subtype byte
	for rest := p[1:]; len(rest) > 0; {
		if len(rest) < 2 {
			return audio.Format{}, errParamTruncated
		}
		key, n := rest[0], int(rest[1])
		rest = rest[2:]
		if len(rest) < n {
			return audio.Format{}, errParamTruncated
		}
		val := rest[:n]
		rest = rest[n:]

		switch key {
		case keyMediaType, keyMediaSubtype, keySampleFormat:
			if n != 1 {
				return audio.Format{}, fmt.Errorf("bad record length %d for key %d", n, key)
			}
		}

		switch key {
		case keyMediaType:
			mediaType = val[0]
		case keyMediaSubtype:
			subtype = val[0]
		case keySampleFormat:
			f.Sample = audio.SampleFormat(val[0])
		case keyRate:
			if n != 4 {
				return audio.Format{}, fmt.Errorf("bad rate record length %d", n)
			}
			f.SampleRate = int(binary.LittleEndian.Uint32(val))
		case keyChannels:
			if n != 4 {
				return audio.Format{}, fmt.Errorf("bad channels record length %d", n)
			}
			f.Channels = int(binary.LittleEndian.Uint32(val))
		}
	}

	if mediaType != mediaTypeAudio || subtype != mediaSubtypeRaw {
		return audio.Format{}, fmt.Errorf("not a raw audio param (type %d, subtype %d)", mediaType, subtype)
	}
	if !f.Valid() {
		return audio.Format{}, fmt.Errorf("incomplete format %s", f)
	}
	return f, nil
}
