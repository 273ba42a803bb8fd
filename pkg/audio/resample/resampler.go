// ABOUTME: Streaming linear resampler for interleaved S16 audio
// ABOUTME: Carries the last input frame across calls so chunk edges stay continuous
package resample

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64 // in input frames; 0 is the last frame of the previous call
	lastFrame  []int16
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	r := &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastFrame:  make([]int16, channels),
	}
	r.Reset()
	return r
}

// Resample converts all of input and appends the result to dst.
// One input frame is held back as the left edge of the next call.
func (r *Resampler) Resample(dst, input []int16) []int16 {
	ch := r.channels
	frames := len(input) / ch
	if frames == 0 {
		return dst
	}

	// index 0 is the held back frame, index i > 0 is input frame i-1
	at := func(i, c int) int16 {
		if i == 0 {
			return r.lastFrame[c]
		}
		return input[(i-1)*ch+c]
	}

	for {
		idx := int(r.position)
		if idx+1 > frames {
			break
		}
		frac := r.position - float64(idx)

		for c := 0; c < ch; c++ {
			s1 := float64(at(idx, c))
			s2 := float64(at(idx+1, c))
			dst = append(dst, int16(s1+(s2-s1)*frac))
		}
		r.position += r.ratio
	}

	copy(r.lastFrame, input[(frames-1)*ch:frames*ch])
	r.position -= float64(frames)
	return dst
}

// Reset forgets the held back frame
func (r *Resampler) Reset() {
	// the first call starts on its own first frame
	r.position = 1
	for i := range r.lastFrame {
		r.lastFrame[i] = 0
	}
}

// Ratio returns input frames consumed per output frame
func (r *Resampler) Ratio() float64 {
	return r.ratio
}

// OutputSamplesNeeded calculates how many output samples will be produced from input samples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames) / r.ratio)
	return outputFrames * r.channels
}

// InputSamplesNeeded calculates how many input samples are needed to produce output samples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames) * r.ratio)
	return inputFrames * r.channels
}
