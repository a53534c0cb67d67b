package audio

// Resampler converts a continuous stream between rates, carrying the
// fractional read position across calls so block boundaries add no clicks.
type Resampler struct {
	inputRate  int
	outputRate int
	pos        float64 // next read position relative to the start of the pending input
	last       float32 // final sample of the previous call
	hasLast    bool
}

// NewResampler creates a stream resampler
func NewResampler(inputRate, outputRate int) *Resampler {
	return &Resampler{inputRate: inputRate, outputRate: outputRate}
}

// Process resamples the next piece of the stream
func (r *Resampler) Process(samples []float32) []float32 {
	if r.inputRate == r.outputRate || r.inputRate <= 0 || r.outputRate <= 0 {
		return samples
	}
	if len(samples) == 0 {
		return nil
	}

	// Index -1 refers to the last sample of the previous call.
	at := func(i int) float32 {
		if i < 0 {
			if r.hasLast {
				return r.last
			}
			return samples[0]
		}
		return samples[i]
	}

	step := float64(r.inputRate) / float64(r.outputRate)
	out := make([]float32, 0, int(float64(len(samples))/step)+1)

	start := -1.0
	if !r.hasLast {
		start = 0
	}
	if r.pos < start {
		r.pos = start
	}

	for r.pos <= float64(len(samples)-1) {
		base := int(r.pos)
		if r.pos < 0 {
			base = -1
		}
		fraction := r.pos - float64(base)
		a := at(base)
		b := a
		if base+1 < len(samples) {
			b = at(base + 1)
		}
		out = append(out, float32(float64(a)*(1.0-fraction)+float64(b)*fraction))
		r.pos += step
	}

	r.pos -= float64(len(samples))
	r.last = samples[len(samples)-1]
	r.hasLast = true
	return out
}
