package processors

import (
	"github.com/cwbudde/algo-synth/dsp/graph"
	"github.com/cwbudde/algo-vecmath"
)

// ScaleFunc maps a value to its scaled form.
type ScaleFunc func(float64) float64

// Scale applies a shaping function to every value of its input.
type Scale struct {
	graph.Base

	fn ScaleFunc
}

// NewScale returns a scale stage. A nil fn passes values through.
func NewScale(rate graph.Rate, fn ScaleFunc) *Scale {
	if fn == nil {
		fn = func(v float64) float64 { return v }
	}

	p := &Scale{fn: fn}
	p.Init(p, 1, 1, rate)

	return p
}

// Process implements graph.Processor.
func (p *Scale) Process(numSamples int) {
	src := p.Input(0).Source()
	out := p.Output(0)
	lanes := p.Lanes()

	for f := range p.Frames(numSamples) {
		row := src.Frame(f)
		for ln := range lanes {
			out.Buffer[f*lanes+ln] = p.fn(row[ln])
		}
	}
}

// Clone implements graph.Processor.
func (p *Scale) Clone() graph.Processor {
	c := *p
	c.CloneBase(&c)

	return &c
}

// Multiply outputs the product of its two inputs.
type Multiply struct {
	graph.Base
}

// NewMultiply returns a multiplier.
func NewMultiply(rate graph.Rate) *Multiply {
	p := &Multiply{}
	p.Init(p, 2, 1, rate)

	return p
}

// Process implements graph.Processor.
func (p *Multiply) Process(numSamples int) {
	a, b := p.Input(0).Source(), p.Input(1).Source()
	frames, lanes := p.Frames(numSamples), p.Lanes()
	out := p.Output(0).Buffer

	if frames > 1 && !a.IsControlRate() && !b.IsControlRate() {
		n := frames * lanes
		vecmath.MulBlock(out[:n], a.Buffer[:n], b.Buffer[:n])

		return
	}

	for f := range frames {
		vecmath.MulBlock(out[f*lanes:(f+1)*lanes], a.Frame(f)[:lanes], b.Frame(f)[:lanes])
	}
}

// Clone implements graph.Processor.
func (p *Multiply) Clone() graph.Processor {
	c := *p
	c.CloneBase(&c)

	return &c
}

// Clamp limits its input to [Min, Max].
type Clamp struct {
	graph.Base

	Min, Max float64
}

// NewClamp returns a clamp stage.
func NewClamp(rate graph.Rate, lo, hi float64) *Clamp {
	if lo > hi {
		lo, hi = hi, lo
	}

	p := &Clamp{Min: lo, Max: hi}
	p.Init(p, 1, 1, rate)

	return p
}

// Process implements graph.Processor.
func (p *Clamp) Process(numSamples int) {
	src := p.Input(0).Source()
	out := p.Output(0)
	lanes := p.Lanes()

	for f := range p.Frames(numSamples) {
		row := src.Frame(f)
		for ln := range lanes {
			out.Buffer[f*lanes+ln] = clamp(row[ln], p.Min, p.Max)
		}
	}
}

// Clone implements graph.Processor.
func (p *Clamp) Clone() graph.Processor {
	c := *p
	c.CloneBase(&c)

	return &c
}
