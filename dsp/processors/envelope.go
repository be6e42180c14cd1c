package processors

import (
	"github.com/cwbudde/algo-synth/dsp/graph"
)

// Envelope input indices. Times are in seconds, the sustain level in [0, 1].
const (
	EnvelopeTrigger = iota
	EnvelopeAttack
	EnvelopeDecay
	EnvelopeSustain
	EnvelopeRelease
	EnvelopeRetrigger
)

// KillTime is how long a killed envelope takes to fade out, in seconds.
const KillTime = 0.002

type stage uint8

const (
	stageIdle stage = iota
	stageAttack
	stageDecay
	stageSustain
	stageRelease
)

// Envelope is a linear ADSR generator driven by the voice event triggers of
// a voice handler: graph.EventOn starts the attack from the current level,
// graph.EventOff starts the release and graph.EventKill fades out within
// KillTime. The output is zero once released, which makes it the usual voice
// killer.
//
// When EnvelopeRetrigger is connected, an EventOn restarts the attack of a
// sounding lane only if the retrigger input fires on that lane as well, so
// legato notes glide on at the current level.
type Envelope struct {
	graph.Base

	stage []stage
	level []float64
	fall  []float64
}

// NewEnvelope returns an audio-rate ADSR envelope.
func NewEnvelope() *Envelope {
	p := &Envelope{}
	p.Init(p, 6, 1, graph.AudioRate)

	return p
}

// Prepare implements graph.Preparer.
func (p *Envelope) Prepare(f graph.Format) {
	p.stage = make([]stage, f.Lanes)
	p.level = make([]float64, f.Lanes)
	p.fall = make([]float64, f.Lanes)
}

// Idle reports whether lane has finished its release.
func (p *Envelope) Idle(ln int) bool {
	return p.stage[ln] == stageIdle
}

// Process implements graph.Processor.
func (p *Envelope) Process(numSamples int) {
	trig := p.Input(EnvelopeTrigger).Source()
	retrig := p.Input(EnvelopeRetrigger)
	gated := retrig.Bound()
	out := p.Output(0)
	lanes := p.Lanes()
	sampleRate := p.SampleRate()

	for ln := range lanes {
		attack := p.Input(EnvelopeAttack).At(0, ln) * sampleRate
		decay := p.Input(EnvelopeDecay).At(0, ln) * sampleRate
		sustain := clamp(p.Input(EnvelopeSustain).At(0, ln), 0, 1)
		release := p.Input(EnvelopeRelease).At(0, ln) * sampleRate

		eventAt, event := -1, 0.0
		if trig.TriggerMask.Has(ln) {
			eventAt = min(trig.TriggerOffset[ln], numSamples-1)
			event = trig.TriggerValue[ln]
		}

		restart := !gated || retrig.Source().TriggerMask.Has(ln)

		st, level, fall := p.stage[ln], p.level[ln], p.fall[ln]

		for f := range numSamples {
			if f == eventAt {
				switch event {
				case graph.EventOn:
					if restart || st == stageIdle || st == stageRelease {
						st = stageAttack
					}
				case graph.EventOff:
					if st != stageIdle {
						st, fall = stageRelease, fallRate(level, release)
					}
				case graph.EventKill:
					if st != stageIdle {
						st, fall = stageRelease, fallRate(level, KillTime*sampleRate)
					}
				}
			}

			switch st {
			case stageAttack:
				if attack <= 1 {
					level = 1
				} else {
					level += 1 / attack
				}

				if level >= 1 {
					level, st = 1, stageDecay
				}
			case stageDecay:
				if decay <= 1 {
					level = sustain
				} else {
					level -= (1 - sustain) / decay
				}

				if level <= sustain {
					level, st = sustain, stageSustain
				}
			case stageSustain:
				level = sustain
			case stageRelease:
				level -= fall
				if level <= 0 {
					level, st = 0, stageIdle
				}
			case stageIdle:
				level = 0
			}

			out.Buffer[f*lanes+ln] = level
		}

		p.stage[ln], p.level[ln], p.fall[ln] = st, level, fall
	}
}

func fallRate(level, samples float64) float64 {
	if samples <= 1 {
		return level + 1
	}

	return level / samples
}

// Clone implements graph.Processor.
func (p *Envelope) Clone() graph.Processor {
	c := *p
	c.CloneBase(&c)

	return &c
}
