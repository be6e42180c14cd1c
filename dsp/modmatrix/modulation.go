package modmatrix

import (
	"math"

	"github.com/cwbudde/algo-synth/dsp/graph"
	"github.com/cwbudde/algo-synth/dsp/lane"
	"github.com/meko-christian/algo-approx"
)

// minCurve is the curve magnitude below which the mapping is linear.
const minCurve = 1e-4

// params are the settings of one connection, shared by every clone of its
// processor.
type params struct {
	amount  float64
	bipolar bool
	stereo  bool
	bypass  bool
	curve   float64
	denom   float64
}

func (p *params) setCurve(c float64) {
	p.curve = c
	if math.Abs(c) >= minCurve {
		p.denom = approx.FastExp(c) - 1
	}
}

// shape maps x in [0, 1] onto [0, 1]. Positive curves bend towards the end,
// negative ones towards the start; both ends stay fixed.
func (p *params) shape(x float64) float64 {
	if math.Abs(p.curve) < minCurve {
		return x
	}

	return (approx.FastExp(p.curve*x) - 1) / p.denom
}

// Modulation turns a source signal into a modulation amount: the source is
// clamped to [0, 1], bent by the curve, mapped to [-1, 1] when bipolar and
// scaled by the amount. Stereo connections negate the right lane of each
// voice. Non-finite results become zero.
type Modulation struct {
	graph.Base

	params *params
}

func newModulation() *Modulation {
	p := &Modulation{params: &params{}}
	p.Init(p, 1, 1, graph.AudioRate)

	return p
}

// Process implements graph.Processor.
func (p *Modulation) Process(numSamples int) {
	src := p.Input(0).Source()
	out := p.Output(0)
	lanes := p.Lanes()
	frames := p.Frames(numSamples)
	buf := out.Buffer[:frames*lanes]
	prm := p.params

	if prm.bypass || prm.amount == 0 {
		clear(buf)

		return
	}

	for f := range frames {
		for ln := range lanes {
			x := src.At(f, ln)
			switch {
			case !(x > 0):
				x = 0
			case x > 1:
				x = 1
			}

			y := prm.shape(x)
			if prm.bipolar {
				y = 2*y - 1
			}

			y *= prm.amount
			if prm.stereo && ln%lane.Channels == 1 {
				y = -y
			}

			if math.IsNaN(y) || math.IsInf(y, 0) {
				y = 0
			}

			buf[f*lanes+ln] = y
		}
	}
}

// Clone implements graph.Processor.
func (p *Modulation) Clone() graph.Processor {
	c := *p
	c.CloneBase(&c)

	return &c
}
