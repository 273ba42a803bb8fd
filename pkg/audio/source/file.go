// ABOUTME: File-backed sources for WAV, MP3, FLAC and Ogg Vorbis
// ABOUTME: Every decoder converts to interleaved S16 at the file's native rate
package source

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"

	"github.com/Sendspin/pcmstream/pkg/audio"
)

// ErrUnsupported is returned for files no decoder handles
var ErrUnsupported = errors.New("unsupported audio file")

// Open creates a source for the file at path, picked by extension
func Open(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}

	var src Source
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav", ".wave":
		src, err = NewWAV(f)
	case ".mp3":
		src, err = NewMP3(f)
	case ".flac":
		src, err = NewFLAC(f)
	case ".ogg", ".oga":
		src, err = NewVorbis(f)
	default:
		err = fmt.Errorf("%w: %s (supported: .wav, .mp3, .flac, .ogg)", ErrUnsupported, ext)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	log.Printf("Loaded %s: %s", filepath.Base(path), src.Format())
	return src, nil
}

// WAV decodes PCM WAV files
type WAV struct {
	rc     io.Closer
	dec    *wav.Decoder
	format audio.Format
	shift  int
	buf    *goaudio.IntBuffer
}

// NewWAV reads the WAV header from r. Closing the source closes r when it
// is an io.Closer.
func NewWAV(r io.ReadSeeker) (*WAV, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid WAV file", ErrUnsupported)
	}

	depth := int(dec.BitDepth)
	if dec.WavAudioFormat != 1 || (depth != 16 && depth != 24 && depth != 32) {
		return nil, fmt.Errorf("%w: WAV format %d at %d bits", ErrUnsupported, dec.WavAudioFormat, depth)
	}

	format := audio.S16(int(dec.SampleRate), int(dec.NumChans))
	if !format.Valid() {
		return nil, fmt.Errorf("%w: WAV header %s", ErrUnsupported, format)
	}

	w := &WAV{
		dec:    dec,
		format: format,
		shift:  depth - 16,
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			SourceBitDepth: depth,
		},
	}
	w.rc, _ = r.(io.Closer)
	return w, nil
}

func (w *WAV) Format() audio.Format { return w.format }

func (w *WAV) Read(samples []int16) (int, error) {
	n := wholeFrames(len(samples), w.format.Channels)
	if n == 0 {
		return 0, nil
	}
	if cap(w.buf.Data) < n {
		w.buf.Data = make([]int, n)
	}
	w.buf.Data = w.buf.Data[:n]

	got, err := w.dec.PCMBuffer(w.buf)
	if err != nil {
		return 0, fmt.Errorf("wav decode error: %w", err)
	}
	if got == 0 {
		return 0, io.EOF
	}

	got = wholeFrames(got, w.format.Channels)
	for i := 0; i < got; i++ {
		samples[i] = int16(w.buf.Data[i] >> w.shift)
	}
	return got, nil
}

func (w *WAV) Close() error { return closeIf(w.rc) }

// MP3 decodes MPEG-1 Layer III files; output is always stereo
type MP3 struct {
	rc      io.Closer
	dec     io.Reader // S16LE stereo
	format  audio.Format
	scratch []byte
}

// NewMP3 reads the first MP3 frame header from r
func NewMP3(r io.Reader) (*MP3, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	m := newMP3(dec, dec.SampleRate())
	m.rc, _ = r.(io.Closer)
	return m, nil
}

func newMP3(dec io.Reader, rate int) *MP3 {
	return &MP3{dec: dec, format: audio.S16(rate, 2)}
}

func (m *MP3) Format() audio.Format { return m.format }

func (m *MP3) Read(samples []int16) (int, error) {
	size := wholeFrames(len(samples), 2) * audio.BytesPerSample
	if cap(m.scratch) < size {
		m.scratch = make([]byte, size)
	}

	// fill whole frames; the decoder may return odd byte counts
	n, err := io.ReadFull(m.dec, m.scratch[:size])
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	got := audio.Int16s(samples, m.scratch[:n-n%m.format.Stride()])
	if got > 0 {
		return got, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("mp3 decode error: %w", err)
	}
	return 0, err
}

func (m *MP3) Close() error { return closeIf(m.rc) }

// frameParser is the part of *flac.Stream that FLAC uses
type frameParser interface {
	ParseNext() (*frame.Frame, error)
	Close() error
}

// FLAC decodes FLAC files of any bit depth
type FLAC struct {
	stream frameParser
	format audio.Format
	depth  int

	frame *frame.Frame
	pos   int // next sample index within frame
}

// NewFLAC parses the FLAC stream header from r
func NewFLAC(r io.Reader) (*FLAC, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	return newFLAC(stream, int(stream.Info.SampleRate), int(stream.Info.NChannels), int(stream.Info.BitsPerSample))
}

func newFLAC(stream frameParser, rate, channels, depth int) (*FLAC, error) {
	format := audio.S16(rate, channels)
	if !format.Valid() {
		stream.Close()
		return nil, fmt.Errorf("%w: FLAC stream info %s", ErrUnsupported, format)
	}

	return &FLAC{
		stream: stream,
		format: format,
		depth:  depth,
	}, nil
}

func (f *FLAC) Format() audio.Format { return f.format }

func (f *FLAC) Read(samples []int16) (int, error) {
	ch := f.format.Channels
	frames := len(samples) / ch
	done := 0

	for done < frames {
		if f.frame == nil || f.pos >= int(f.frame.BlockSize) {
			fr, err := f.stream.ParseNext()
			if err != nil {
				if done > 0 && errors.Is(err, io.EOF) {
					break
				}
				return done * ch, err
			}
			f.frame, f.pos = fr, 0
		}

		for ; f.pos < int(f.frame.BlockSize) && done < frames; f.pos++ {
			for c := 0; c < ch; c++ {
				samples[done*ch+c] = scaleToInt16(f.frame.Subframes[c].Samples[f.pos], f.depth)
			}
			done++
		}
	}
	return done * ch, nil
}

func (f *FLAC) Close() error { return f.stream.Close() }

// scaleToInt16 converts a sample of the given bit depth to 16 bits
func scaleToInt16(sample int32, depth int) int16 {
	if shift := depth - 16; shift > 0 {
		return int16(sample >> shift)
	} else if shift < 0 {
		return int16(sample << -shift)
	}
	return int16(sample)
}

// vorbisReader is the subset of oggvorbis.Reader the source uses
type vorbisReader interface {
	SampleRate() int
	Channels() int
	Read([]float32) (int, error)
}

// Vorbis decodes Ogg Vorbis files
type Vorbis struct {
	rc      io.Closer
	dec     vorbisReader
	format  audio.Format
	scratch []float32
}

// NewVorbis reads the Vorbis headers from r
func NewVorbis(r io.Reader) (*Vorbis, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Ogg Vorbis: %w", err)
	}

	v, err := newVorbis(dec)
	if err != nil {
		return nil, err
	}
	v.rc, _ = r.(io.Closer)
	return v, nil
}

func newVorbis(dec vorbisReader) (*Vorbis, error) {
	format := audio.S16(dec.SampleRate(), dec.Channels())
	if !format.Valid() {
		return nil, fmt.Errorf("%w: Vorbis stream %s", ErrUnsupported, format)
	}
	return &Vorbis{dec: dec, format: format}, nil
}

func (v *Vorbis) Format() audio.Format { return v.format }

func (v *Vorbis) Read(samples []int16) (int, error) {
	n := wholeFrames(len(samples), v.format.Channels)
	if cap(v.scratch) < n {
		v.scratch = make([]float32, n)
	}

	got, err := v.dec.Read(v.scratch[:n])
	got = wholeFrames(got, v.format.Channels)
	for i := 0; i < got; i++ {
		samples[i] = audio.SampleFromFloat(float64(v.scratch[i]))
	}
	if got > 0 && errors.Is(err, io.EOF) {
		err = nil
	}
	return got, err
}

func (v *Vorbis) Close() error { return closeIf(v.rc) }

func wholeFrames(samples, channels int) int {
	return samples - samples%channels
}

func closeIf(c io.Closer) error {
	if c == nil {
		return nil
	}
	return c.Close()
}
