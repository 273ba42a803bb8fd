// ABOUTME: Tests for format parameter encoding
// ABOUTME: Covers builder layout, parsing and malformed input
package stream

import (
	"testing"

	"github.com/Sendspin/pcmstream/pkg/audio"
)

func TestBuilderFormat(t *testing.T) {
	var b Builder
	p, err := b.Format(ParamEnumFormat, audio.S16(44100, 2))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	// id + 3 one-byte records + 2 four-byte records
	if want := 1 + 3*3 + 2*6; len(p) != want {
		t.Errorf("expected %d bytes, got %d", want, len(p))
	}
	if ParamID(p[0]) != ParamEnumFormat {
		t.Errorf("expected EnumFormat id, got %d", p[0])
	}

	f, err := ParseFormat(p)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if f != audio.S16(44100, 2) {
		t.Errorf("unexpected format %s", f)
	}
}

func TestBuilderReuse(t *testing.T) {
	var b Builder
	first, _ := b.Format(ParamEnumFormat, audio.S16(8000, 1))
	second, _ := b.Format(ParamFormat, audio.S16(96000, 8))

	if f, _ := ParseFormat(first); f != audio.S16(8000, 1) {
		t.Errorf("first param overwritten: %s", f)
	}
	if f, _ := ParseFormat(second); f != audio.S16(96000, 8) {
		t.Errorf("unexpected second format %s", f)
	}
}

func TestBuilderOverflow(t *testing.T) {
	var b Builder
	b.pos = MaxParamSize - 2
	b.putUint32(keyRate, 1)
	if b.err != errParamOverflow {
		t.Errorf("expected overflow error, got %v", b.err)
	}
}

func TestParseFormatMalformed(t *testing.T) {
	var b Builder
	valid, _ := b.Format(ParamEnumFormat, audio.S16(48000, 2))

	tests := []struct {
		name  string
		param []byte
	}{
		{"empty", nil},
		{"wrong id", append([]byte{9}, valid[1:]...)},
		{"truncated record", valid[:len(valid)-2]},
		{"missing rate", []byte{byte(ParamEnumFormat), keyMediaType, 1, 1, keyMediaSubtype, 1, 1, keySampleFormat, 1, 1}},
		{"bad rate length", []byte{byte(ParamEnumFormat), keyRate, 2, 0, 0}},
		{"zero length media type", []byte{byte(ParamEnumFormat), keyMediaType, 0}},
		{"not audio", []byte{byte(ParamEnumFormat), keyMediaType, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFormat(tt.param); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestNegotiate(t *testing.T) {
	var b Builder
	s16, _ := b.Format(ParamEnumFormat, audio.S16(48000, 2))
	f32, _ := b.Format(ParamEnumFormat, audio.Format{Sample: audio.FormatF32LE, SampleRate: 48000, Channels: 2})

	req := &ConnectRequest{Params: [][]byte{{0xFF}, f32, s16}}

	f, err := req.Negotiate(func(f audio.Format) bool { return f.Sample == audio.FormatS16LE })
	if err != nil {
		t.Fatalf("negotiate failed: %v", err)
	}
	if f != audio.S16(48000, 2) {
		t.Errorf("unexpected format %s", f)
	}

	if _, err := req.Negotiate(func(audio.Format) bool { return false }); err != ErrNegotiation {
		t.Errorf("expected ErrNegotiation, got %v", err)
	}
}
