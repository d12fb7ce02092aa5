package audio

import (
	"encoding/binary"
	"math"
)

// Resampler converts a continuous mono float stream between two sample rates
// with linear interpolation. State is carried between calls so block
// boundaries do not drift the output clock: over a whole stream the output
// length tracks len(input) * to / from.
//
// A Resampler is owned by one stream; it is not safe for concurrent use.
type Resampler struct {
	from, to int
	step     float64

	// pos is the input position of the next output sample, relative to the
	// first sample of the next Process call. -1 addresses last.
	pos     float64
	last    float32
	hasLast bool
}

// NewResampler returns a Resampler converting from one rate to another.
// Non-positive rates make it a pass-through.
func NewResampler(from, to int) *Resampler {
	r := &Resampler{from: from, to: to}
	if from > 0 && to > 0 {
		r.step = float64(from) / float64(to)
	}
	return r
}

// Passthrough reports whether Process returns its input unchanged.
func (r *Resampler) Passthrough() bool {
	return r.step == 0 || r.from == r.to
}

// Process resamples the next block of input and returns the output samples
// it completes. The returned slice is freshly allocated.
func (r *Resampler) Process(in []float32) []float32 {
	if r.Passthrough() {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	n := len(in)
	if n == 0 {
		return nil
	}

	at := func(i int) float32 {
		if i < 0 {
			return r.last
		}
		return in[i]
	}

	out := make([]float32, 0, int(float64(n)/r.step)+2)
	end := float64(n - 1)
	for r.pos <= end {
		i := int(math.Floor(r.pos))
		frac := float32(r.pos - float64(i))
		s0 := at(i)
		if frac == 0 {
			out = append(out, s0)
		} else {
			out = append(out, s0+(at(i+1)-s0)*frac)
		}
		r.pos += r.step
	}
	r.pos -= float64(n)
	r.last = in[n-1]
	r.hasLast = true
	return out
}

// Reset forgets carried state so the next Process starts a new stream.
func (r *Resampler) Reset() {
	r.pos = 0
	r.last = 0
	r.hasLast = false
}

// Downmix averages interleaved multi-channel samples into mono. A channel
// count of one or less returns the input slice itself.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for f := range frames {
		var sum float32
		for c := range channels {
			sum += interleaved[f*channels+c]
		}
		out[f] = sum / float32(channels)
	}
	return out
}

// BytesToFloat32LE interprets b as IEEE-754 little-endian float32 samples.
// Trailing bytes that do not form a whole sample are ignored.
func BytesToFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
