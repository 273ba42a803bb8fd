// ABOUTME: Sine wave generators: single tone, bouncing sweep and chord
// ABOUTME: Frequency and volume can be changed while a session runs
package source

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/Sendspin/pcmstream/pkg/audio"
)

const twoPi = 2 * math.Pi

// SweepStep is how often a Sweep moves its frequency
const SweepStep = 10 * time.Millisecond

// Tone is a sine oscillator
type Tone struct {
	format audio.Format
	freq   atomic.Uint64 // float64 bits
	volume atomic.Uint64 // float64 bits
	phase  float64
}

// NewTone creates a tone at freq Hz with volume in [0, 1]
func NewTone(format audio.Format, freq, volume float64) *Tone {
	t := &Tone{format: format}
	t.SetFrequency(freq)
	t.SetVolume(volume)
	return t
}

func (t *Tone) Format() audio.Format { return t.format }

// Frequency returns the current frequency in Hz
func (t *Tone) Frequency() float64 {
	return math.Float64frombits(t.freq.Load())
}

// SetFrequency changes the frequency; safe from any goroutine
func (t *Tone) SetFrequency(freq float64) {
	t.freq.Store(math.Float64bits(freq))
}

// Volume returns the current volume
func (t *Tone) Volume() float64 {
	return math.Float64frombits(t.volume.Load())
}

// SetVolume changes the volume, clamped to [0, 1]
func (t *Tone) SetVolume(volume float64) {
	t.volume.Store(math.Float64bits(clampUnit(volume)))
}

func (t *Tone) Read(samples []int16) (int, error) {
	ch := t.format.Channels
	frames := len(samples) / ch
	step := twoPi * t.Frequency() / float64(t.format.SampleRate)
	volume := t.Volume()

	for i := 0; i < frames; i++ {
		t.phase += step
		for t.phase > twoPi {
			t.phase -= twoPi
		}

		v := audio.SampleFromFloat(math.Sin(t.phase) * volume)
		for c := 0; c < ch; c++ {
			samples[i*ch+c] = v
		}
	}
	return frames * ch, nil
}

func (t *Tone) Close() error { return nil }

// Sweep is a tone whose frequency bounces between two bounds,
// moving 1 Hz every SweepStep
type Sweep struct {
	tone     *Tone
	min, max float64
	delta    float64
	step     int // frames per frequency change
	count    int
}

// NewSweep creates a sweep starting at minFreq
func NewSweep(format audio.Format, minFreq, maxFreq, volume float64) *Sweep {
	return &Sweep{
		tone:  NewTone(format, minFreq, volume),
		min:   minFreq,
		max:   maxFreq,
		delta: 1,
		step:  max(1, format.FramesIn(SweepStep)),
	}
}

func (s *Sweep) Format() audio.Format { return s.tone.format }

// Tone returns the underlying oscillator
func (s *Sweep) Tone() *Tone { return s.tone }

func (s *Sweep) Read(samples []int16) (int, error) {
	ch := s.tone.format.Channels
	frames := len(samples) / ch

	for done := 0; done < frames; {
		k := min(frames-done, s.step-s.count)
		s.tone.Read(samples[done*ch : (done+k)*ch])
		done += k
		s.count += k
		if s.count == s.step {
			s.count = 0
			s.advance()
		}
	}
	return frames * ch, nil
}

func (s *Sweep) advance() {
	f := s.tone.Frequency() + s.delta
	if f <= s.min {
		f = s.min
		s.delta = -s.delta
	}
	if f >= s.max {
		f = s.max
		s.delta = -s.delta
	}
	s.tone.SetFrequency(f)
}

func (s *Sweep) Close() error { return nil }

// Chord mixes several sine waves at equal weight
type Chord struct {
	format      audio.Format
	frequencies []float64
	phases      []float64
	volume      atomic.Uint64
}

// NewChord creates a chord of the given frequencies
func NewChord(format audio.Format, volume float64, frequencies ...float64) *Chord {
	c := &Chord{
		format:      format,
		frequencies: frequencies,
		phases:      make([]float64, len(frequencies)),
	}
	c.SetVolume(volume)
	return c
}

// MajorChord returns the root, major third and fifth above root
func MajorChord(root float64) []float64 {
	return []float64{root, root * math.Pow(2, 4.0/12), root * math.Pow(2, 7.0/12)}
}

func (c *Chord) Format() audio.Format { return c.format }

// SetVolume changes the volume, clamped to [0, 1]
func (c *Chord) SetVolume(volume float64) {
	c.volume.Store(math.Float64bits(clampUnit(volume)))
}

// Volume returns the current volume
func (c *Chord) Volume() float64 {
	return math.Float64frombits(c.volume.Load())
}

func (c *Chord) Read(samples []int16) (int, error) {
	ch := c.format.Channels
	frames := len(samples) / ch
	volume := c.Volume()

	for i := 0; i < frames; i++ {
		var mixed float64
		for j, freq := range c.frequencies {
			c.phases[j] += twoPi * freq / float64(c.format.SampleRate)
			for c.phases[j] > twoPi {
				c.phases[j] -= twoPi
			}
			mixed += math.Sin(c.phases[j])
		}
		if len(c.frequencies) > 0 {
			mixed /= float64(len(c.frequencies))
		}

		v := audio.SampleFromFloat(mixed * volume)
		for k := 0; k < ch; k++ {
			samples[i*ch+k] = v
		}
	}
	return frames * ch, nil
}

func (c *Chord) Close() error { return nil }

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
