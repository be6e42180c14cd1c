package processors

import (
	"math"
	"sync/atomic"

	"github.com/cwbudde/algo-synth/dsp/graph"
)

// Value is a settable control-rate value. Set may be called from any
// goroutine; the new value is published on the next Process call. Clones
// share the value.
type Value struct {
	graph.Base

	bits *atomic.Uint64
}

// NewValue returns a value processor holding v.
func NewValue(v float64) *Value {
	p := &Value{bits: new(atomic.Uint64)}
	p.Init(p, 0, 1, graph.ControlRate)
	p.Set(v)

	return p
}

// Set stores v.
func (p *Value) Set(v float64) {
	p.bits.Store(math.Float64bits(v))
}

// Get returns the stored value.
func (p *Value) Get() float64 {
	return math.Float64frombits(p.bits.Load())
}

// Process implements graph.Processor.
func (p *Value) Process(int) {
	p.Output(0).Fill(p.Get(), 1)
}

// Clone implements graph.Processor.
func (p *Value) Clone() graph.Processor {
	c := *p
	c.CloneBase(&c)

	return &c
}

// Constant writes a fixed value to every lane.
type Constant struct {
	graph.Base

	value float64
}

// NewConstant returns a constant source running at rate.
func NewConstant(rate graph.Rate, v float64) *Constant {
	p := &Constant{value: v}
	p.Init(p, 0, 1, rate)

	return p
}

// Process implements graph.Processor.
func (p *Constant) Process(numSamples int) {
	p.Output(0).Fill(p.value, p.Frames(numSamples))
}

// Clone implements graph.Processor.
func (p *Constant) Clone() graph.Processor {
	c := *p
	c.CloneBase(&c)

	return &c
}

// DefaultSmoothingCutoff is the corner frequency SmoothValue uses when none
// is given.
const DefaultSmoothingCutoff = 20.0

// SmoothValue follows its target input through a one-pole lowpass so that
// stepped parameter changes do not click. It starts at the target the first
// time it processes and after Reset.
type SmoothValue struct {
	graph.Base

	cutoff  float64
	current []float64
	primed  bool
}

// NewSmoothValue returns an audio-rate smoother with the given cutoff in Hz.
func NewSmoothValue(cutoff float64) *SmoothValue {
	if cutoff <= 0 {
		cutoff = DefaultSmoothingCutoff
	}

	p := &SmoothValue{cutoff: cutoff}
	p.Init(p, 1, 1, graph.AudioRate)

	return p
}

// Prepare implements graph.Preparer.
func (p *SmoothValue) Prepare(f graph.Format) {
	p.current = make([]float64, f.Lanes)
	p.primed = false
}

// Reset makes the next block jump straight to the target.
func (p *SmoothValue) Reset() {
	p.primed = false
}

// Process implements graph.Processor.
func (p *SmoothValue) Process(numSamples int) {
	target := p.Input(0).Source()
	out := p.Output(0)
	lanes := p.Lanes()

	if !p.primed {
		copy(p.current, target.Frame(0)[:lanes])
		p.primed = true
	}

	coeff := 1 - math.Exp(-2*math.Pi*p.cutoff/p.SampleRate())

	for f := range p.Frames(numSamples) {
		row := target.Frame(f)
		for ln := range lanes {
			cur := p.current[ln] + (row[ln]-p.current[ln])*coeff
			cur = flushDenormals(cur)
			p.current[ln] = cur
			out.Buffer[f*lanes+ln] = cur
		}
	}
}

// Clone implements graph.Processor.
func (p *SmoothValue) Clone() graph.Processor {
	c := *p
	c.CloneBase(&c)

	return &c
}
