package engine

import (
	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-synth/dsp/resample"
)

// decimationFilter is the anti-aliasing design used when oversampling.
var decimationFilter = []resample.Option{
	resample.WithTapsPerPhase(16),
	resample.WithCutoffScale(0.9),
	resample.WithKaiserBeta(7.5),
}

// decimator reduces an oversampled interleaved stereo signal by an integer
// factor through a Kaiser-windowed sinc low-pass. It filters into buffers
// sized at construction, so the render path never allocates.
type decimator struct {
	factor int
	taps   []float64 // reversed, so a dot product with the delay line filters
	line   [2][]float64
	prod   []float64
}

func newDecimator(factor, maxOut int) (*decimator, error) {
	d := &decimator{factor: factor}
	if factor <= 1 {
		return d, nil
	}

	taps, err := resample.DecimationFilter(factor, decimationFilter...)
	if err != nil {
		return nil, err
	}

	n := len(taps)

	d.taps = make([]float64, n)
	for i, v := range taps {
		d.taps[n-1-i] = v
	}

	for ch := range d.line {
		d.line[ch] = make([]float64, n-1+maxOut*factor)
	}

	d.prod = make([]float64, n)

	return d, nil
}

// process filters in (frames*factor interleaved stereo frames) into out
// (frames interleaved stereo frames).
func (d *decimator) process(out, in []float64) {
	frames := len(out) / 2

	if d.factor <= 1 {
		copy(out, in[:2*frames])

		return
	}

	hist := len(d.taps) - 1
	inFrames := frames * d.factor

	for ch := range d.line {
		line := d.line[ch]

		for i := range inFrames {
			line[hist+i] = in[2*i+ch]
		}

		for o := range frames {
			start := (o+1)*d.factor - 1
			vecmath.MulBlock(d.prod, line[start:start+len(d.taps)], d.taps)

			acc := 0.0
			for _, v := range d.prod {
				acc += v
			}

			out[2*o+ch] = acc
		}

		copy(line[:hist], line[inFrames:inFrames+hist])
	}
}

func (d *decimator) reset() {
	for ch := range d.line {
		clear(d.line[ch])
	}
}
