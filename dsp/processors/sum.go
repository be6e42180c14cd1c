package processors

import (
	"github.com/cwbudde/algo-synth/dsp/graph"
	"github.com/cwbudde/algo-synth/dsp/lane"
)

// Sum adds all of its inputs. Inputs are usually appended with
// graph.Router.ConnectNext.
type Sum struct {
	graph.Base
}

// NewSum returns a sum with numInputs initial inputs.
func NewSum(rate graph.Rate, numInputs int) *Sum {
	p := &Sum{}
	p.Init(p, numInputs, 1, rate)

	return p
}

// Process implements graph.Processor.
func (p *Sum) Process(numSamples int) {
	frames, lanes := p.Frames(numSamples), p.Lanes()
	buf := p.Output(0).Buffer[:frames*lanes]
	clear(buf)

	for i := range p.NumInputs() {
		addInto(buf, p.Input(i).Source(), frames, lanes)
	}
}

// Clone implements graph.Processor.
func (p *Sum) Clone() graph.Processor {
	c := *p
	c.CloneBase(&c)

	return &c
}

// PolySumReset is the index of the reset trigger input of a PolySum.
const PolySumReset = 0

// PolySum is the per-voice modulation sum. Control-rate inputs are ramped
// from their previous block value to the current one across the block; a
// trigger on the reset input makes the triggered lanes start from the current
// value instead, so a new note does not glide from the previous note's
// modulation. Audio-rate inputs are added as they are.
type PolySum struct {
	graph.Base

	prev []float64
}

// NewPolySum returns a poly sum whose only input is the reset trigger.
func NewPolySum(rate graph.Rate) *PolySum {
	p := &PolySum{}
	p.Init(p, 1, 1, rate)

	return p
}

// Prepare implements graph.Preparer.
func (p *PolySum) Prepare(f graph.Format) {
	p.prev = make([]float64, f.Lanes)
}

// Process implements graph.Processor.
func (p *PolySum) Process(numSamples int) {
	frames, lanes := p.Frames(numSamples), p.Lanes()
	buf := p.Output(0).Buffer[:frames*lanes]

	var cur [lane.MaxWidth]float64

	for i := 1; i < p.NumInputs(); i++ {
		src := p.Input(i).Source()
		if !src.IsControlRate() && frames > 1 {
			continue
		}

		row := src.Frame(0)
		for ln := range lanes {
			cur[ln] += row[ln]
		}
	}

	reset := p.Input(PolySumReset).Source()
	for ln := range lanes {
		if reset.TriggerMask.Has(ln) {
			p.prev[ln] = cur[ln]
		}
	}

	if frames == 1 {
		copy(buf, cur[:lanes])
	} else {
		step := 1 / float64(frames)
		for f := range frames {
			t := float64(f+1) * step
			for ln := range lanes {
				buf[f*lanes+ln] = p.prev[ln] + (cur[ln]-p.prev[ln])*t
			}
		}

		for i := 1; i < p.NumInputs(); i++ {
			if src := p.Input(i).Source(); !src.IsControlRate() {
				addInto(buf, src, frames, lanes)
			}
		}
	}

	copy(p.prev, cur[:lanes])
}

// Clone implements graph.Processor.
func (p *PolySum) Clone() graph.Processor {
	c := *p
	c.CloneBase(&c)

	return &c
}
