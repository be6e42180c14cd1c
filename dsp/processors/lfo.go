package processors

import (
	"math"

	"github.com/cwbudde/algo-synth/dsp/graph"
)

// Shape selects an LFO waveform.
type Shape int

// LFO waveforms. All are unipolar in [0, 1].
const (
	Sine Shape = iota
	Triangle
	Saw
	Square
)

// String returns the shape name.
func (s Shape) String() string {
	switch s {
	case Sine:
		return "sine"
	case Triangle:
		return "triangle"
	case Saw:
		return "saw"
	case Square:
		return "square"
	default:
		return "unknown"
	}
}

// LFO input indices.
const (
	LFOFrequency = 0
	LFOReset     = 1
)

// LFO is a unipolar low-frequency oscillator. Its frequency in Hz comes from
// the LFOFrequency input; a trigger on LFOReset restarts the phase of the
// triggered lanes at the start phase.
type LFO struct {
	graph.Base

	shape Shape
	start float64
	phase []float64
	freq  float64
}

// NewLFO returns an LFO running at rate.
func NewLFO(shape Shape, rate graph.Rate) *LFO {
	p := &LFO{shape: shape}
	p.Init(p, 2, 1, rate)

	return p
}

// Prepare implements graph.Preparer.
func (p *LFO) Prepare(f graph.Format) {
	p.phase = make([]float64, f.Lanes)
	for i := range p.phase {
		p.phase[i] = p.start
	}
}

// SetPhase sets the start phase in cycles and moves every lane there.
func (p *LFO) SetPhase(phase float64) {
	p.start = phase - math.Floor(phase)
	for i := range p.phase {
		p.phase[i] = p.start
	}
}

// Phase returns the current phase of lane.
func (p *LFO) Phase(ln int) float64 {
	return p.phase[ln]
}

// CorrectToTime implements graph.TimeCorrector: the phase becomes the one a
// free-running LFO started at time zero would have after seconds.
func (p *LFO) CorrectToTime(seconds float64) {
	pos := p.start + seconds*p.freq
	pos -= math.Floor(pos)

	for i := range p.phase {
		p.phase[i] = pos
	}
}

// Process implements graph.Processor.
func (p *LFO) Process(numSamples int) {
	freqIn := p.Input(LFOFrequency).Source()
	reset := p.Input(LFOReset).Source()
	out := p.Output(0)
	lanes := p.Lanes()
	frames := p.Frames(numSamples)
	sampleRate := p.SampleRate()

	p.freq = freqIn.At(0, 0)

	for ln := range lanes {
		resetAt := -1
		if reset.TriggerMask.Has(ln) {
			resetAt = min(reset.TriggerOffset[ln], frames-1)
		}

		inc := freqIn.At(0, ln) / sampleRate
		if frames == 1 {
			inc *= float64(numSamples)
		}

		phase := p.phase[ln]
		for f := range frames {
			if f == resetAt {
				phase = p.start
			}

			out.Buffer[f*lanes+ln] = p.shape.at(phase)

			phase += inc
			phase -= math.Floor(phase)
		}

		p.phase[ln] = phase
	}
}

func (s Shape) at(phase float64) float64 {
	switch s {
	case Triangle:
		if phase < 0.5 {
			return 2 * phase
		}

		return 2 - 2*phase
	case Saw:
		return phase
	case Square:
		if phase < 0.5 {
			return 1
		}

		return 0
	default:
		return 0.5 + 0.5*math.Sin(2*math.Pi*phase)
	}
}

// Clone implements graph.Processor.
func (p *LFO) Clone() graph.Processor {
	c := *p
	c.CloneBase(&c)

	return &c
}
