package processors

import (
	"math"

	"github.com/cwbudde/algo-synth/dsp/filter/biquad"
	"github.com/cwbudde/algo-synth/dsp/filter/design"
	"github.com/cwbudde/algo-synth/dsp/graph"
)

// FilterMode selects the response of a Filter.
type FilterMode int

// Filter responses.
const (
	Lowpass FilterMode = iota
	Highpass
	Bandpass
	Notch
)

// String returns the mode name.
func (m FilterMode) String() string {
	switch m {
	case Lowpass:
		return "lowpass"
	case Highpass:
		return "highpass"
	case Bandpass:
		return "bandpass"
	case Notch:
		return "notch"
	default:
		return "unknown"
	}
}

// Filter input indices.
const (
	FilterAudio     = 0
	FilterCutoff    = 1
	FilterResonance = 2
	FilterReset     = 3
)

// Cutoff range covered by the normalized FilterCutoff input.
const (
	MinCutoffHz   = 20.0
	cutoffOctaves = 10.0
)

// CutoffToHz maps a normalized cutoff in [0, 1] to 20 Hz .. 20.48 kHz on an
// octave scale.
func CutoffToHz(cutoff float64) float64 {
	return MinCutoffHz * math.Exp2(clamp(cutoff, 0, 1)*cutoffOctaves)
}

// ResonanceToQ maps a normalized resonance in [0, 1] to a quality factor
// from Butterworth (0.707) up to 12.
func ResonanceToQ(res float64) float64 {
	return math.Sqrt2/2 + clamp(res, 0, 1)*(12-math.Sqrt2/2)
}

// coefficients designs the section for one lane. Frequencies at or above
// 0.49 of the sample rate are pulled below it so the designer never returns
// the zero section.
func coefficients(mode FilterMode, freq, q, sampleRate float64) biquad.Coefficients {
	freq = min(max(freq, 1), 0.49*sampleRate)

	switch mode {
	case Highpass:
		return design.Highpass(freq, q, sampleRate)
	case Bandpass:
		return design.Bandpass(freq, q, sampleRate)
	case Notch:
		return design.Notch(freq, q, sampleRate)
	default:
		return design.Lowpass(freq, q, sampleRate)
	}
}

// Filter is a resonant biquad with one section per lane. Cutoff and
// resonance are read once per block; a trigger on FilterReset clears the
// state of the triggered lanes at the trigger offset.
type Filter struct {
	graph.Base

	mode     FilterMode
	sections []biquad.Section
}

// NewFilter returns an audio-rate filter.
func NewFilter(mode FilterMode) *Filter {
	p := &Filter{mode: mode}
	p.Init(p, 4, 1, graph.AudioRate)

	return p
}

// Mode returns the filter response.
func (p *Filter) Mode() FilterMode { return p.mode }

// Prepare implements graph.Preparer.
func (p *Filter) Prepare(f graph.Format) {
	p.sections = make([]biquad.Section, f.Lanes)
}

// Process implements graph.Processor.
func (p *Filter) Process(numSamples int) {
	in := p.Input(FilterAudio).Source()
	cutoff := p.Input(FilterCutoff).Source()
	res := p.Input(FilterResonance).Source()
	reset := p.Input(FilterReset).Source()
	out := p.Output(0)
	lanes := p.Lanes()
	sampleRate := p.SampleRate()

	for ln := range lanes {
		sec := &p.sections[ln]
		sec.Coefficients = coefficients(p.mode, CutoffToHz(cutoff.At(0, ln)), ResonanceToQ(res.At(0, ln)), sampleRate)

		resetAt := -1
		if reset.TriggerMask.Has(ln) {
			resetAt = min(reset.TriggerOffset[ln], numSamples-1)
		}

		for f := range numSamples {
			if f == resetAt {
				sec.Reset()
			}

			out.Buffer[f*lanes+ln] = sec.ProcessSample(in.At(f, ln))
		}

		sec.Settle()
	}
}

// Clone implements graph.Processor.
func (p *Filter) Clone() graph.Processor {
	c := *p
	c.CloneBase(&c)

	return &c
}
