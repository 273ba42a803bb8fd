// ABOUTME: Source wrappers for rate conversion, channel remixing and volume
// ABOUTME: Used to match a file's native format to the session format
package source

import (
	"io"
	"math"
	"sync/atomic"

	"github.com/Sendspin/pcmstream/pkg/audio"
	"github.com/Sendspin/pcmstream/pkg/audio/resample"
)

// Convert wraps src so its output matches format
func Convert(src Source, format audio.Format) Source {
	if src.Format().Channels != format.Channels {
		src = NewRemix(src, format.Channels)
	}
	if src.Format().SampleRate != format.SampleRate {
		src = NewResampled(src, format.SampleRate)
	}
	return src
}

// Resampled converts a source to another sample rate
type Resampled struct {
	src       Source
	format    audio.Format
	resampler *resample.Resampler
	input     []int16
	output    []int16
	pending   []int16
	err       error
}

// NewResampled wraps src so it produces rate Hz
func NewResampled(src Source, rate int) *Resampled {
	in := src.Format()
	out := in
	out.SampleRate = rate

	return &Resampled{
		src:       src,
		format:    out,
		resampler: resample.New(in.SampleRate, rate, in.Channels),
	}
}

func (r *Resampled) Format() audio.Format { return r.format }

func (r *Resampled) Read(samples []int16) (int, error) {
	ch := r.format.Channels
	for len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}

		n := max(ch, r.resampler.InputSamplesNeeded(len(samples))+ch)
		if cap(r.input) < n {
			r.input = make([]int16, n)
		}
		got, err := r.src.Read(r.input[:n])
		r.err = err
		r.output = r.resampler.Resample(r.output[:0], r.input[:got])
		r.pending = r.output

		if got == 0 && err == nil {
			return 0, nil
		}
	}

	n := copy(samples[:wholeFrames(len(samples), ch)], r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *Resampled) Close() error { return r.src.Close() }

// Remix changes the channel count of a source. Mono output averages every
// input channel; otherwise output channel c takes input channel c, wrapping
// when the input has fewer channels.
type Remix struct {
	src     Source
	format  audio.Format
	in      int
	scratch []int16
}

// NewRemix wraps src so it produces channels channels
func NewRemix(src Source, channels int) *Remix {
	format := src.Format()
	in := format.Channels
	format.Channels = channels
	return &Remix{src: src, format: format, in: in}
}

func (m *Remix) Format() audio.Format { return m.format }

func (m *Remix) Read(samples []int16) (int, error) {
	out := m.format.Channels
	frames := len(samples) / out
	if cap(m.scratch) < frames*m.in {
		m.scratch = make([]int16, frames*m.in)
	}

	got, err := m.src.Read(m.scratch[:frames*m.in])
	got /= m.in
	for i := 0; i < got; i++ {
		frame := m.scratch[i*m.in : (i+1)*m.in]
		if out == 1 {
			var sum int
			for _, s := range frame {
				sum += int(s)
			}
			samples[i] = int16(sum / m.in)
			continue
		}
		for c := 0; c < out; c++ {
			samples[i*out+c] = frame[c%m.in]
		}
	}
	return got * out, err
}

func (m *Remix) Close() error { return m.src.Close() }

// Volume scales a source by a volume level (0-100) with mute
type Volume struct {
	src    Source
	volume atomic.Int32
	muted  atomic.Bool
}

// NewVolume wraps src at the given volume
func NewVolume(src Source, volume int) *Volume {
	v := &Volume{src: src}
	v.SetVolume(volume)
	return v
}

func (v *Volume) Format() audio.Format { return v.src.Format() }

// SetVolume sets the volume (0-100)
func (v *Volume) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	v.volume.Store(int32(volume))
}

// GetVolume returns current volume
func (v *Volume) GetVolume() int {
	return int(v.volume.Load())
}

// SetMuted sets mute state
func (v *Volume) SetMuted(muted bool) {
	v.muted.Store(muted)
}

// IsMuted returns mute state
func (v *Volume) IsMuted() bool {
	return v.muted.Load()
}

func (v *Volume) Read(samples []int16) (int, error) {
	n, err := v.src.Read(samples)
	applyVolume(samples[:n], v.GetVolume(), v.IsMuted())
	return n, err
}

func (v *Volume) Close() error { return v.src.Close() }

// applyVolume applies volume and mute to samples with clipping protection
func applyVolume(samples []int16, volume int, muted bool) {
	multiplier := getVolumeMultiplier(volume, muted)
	if multiplier == 1 {
		return
	}

	for i, sample := range samples {
		scaled := math.Round(float64(sample) * multiplier)
		if scaled > math.MaxInt16 {
			scaled = math.MaxInt16
		} else if scaled < math.MinInt16 {
			scaled = math.MinInt16
		}
		samples[i] = int16(scaled)
	}
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}

// Limit ends a source after frames frames
type Limit struct {
	src       Source
	remaining int
}

// NewLimit wraps src so it ends with io.EOF after frames frames
func NewLimit(src Source, frames int) *Limit {
	return &Limit{src: src, remaining: frames * src.Format().Channels}
}

func (l *Limit) Format() audio.Format { return l.src.Format() }

func (l *Limit) Read(samples []int16) (int, error) {
	if l.remaining <= 0 {
		return 0, io.EOF
	}
	if len(samples) > l.remaining {
		samples = samples[:l.remaining]
	}
	n, err := l.src.Read(samples)
	l.remaining -= n
	return n, err
}

func (l *Limit) Close() error { return l.src.Close() }
