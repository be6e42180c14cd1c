package engine

import (
	"fmt"

	"github.com/cwbudde/algo-synth/dsp/control"
	"github.com/cwbudde/algo-synth/dsp/graph"
	"github.com/cwbudde/algo-synth/dsp/processors"
	"github.com/cwbudde/algo-synth/dsp/voice"
)

// Parameter names of the reference patch.
const (
	ParamVolume    = "volume"
	ParamLevel     = "level"
	ParamTranspose = "osc_transpose"
	ParamBendRange = "bend_range"
	ParamAttack    = "env_attack"
	ParamDecay     = "env_decay"
	ParamSustain   = "env_sustain"
	ParamRelease   = "env_release"
	ParamLFORate   = "lfo_rate"
	ParamCutoff    = "filter_cutoff"
	ParamResonance = "filter_resonance"
)

// Modulation source names of the reference patch.
const (
	SourceLFO          = "lfo"
	SourceModWheel     = "mod_wheel"
	SourceEnvelope     = "envelope"
	SourceVelocity     = "velocity"
	SourceAftertouch   = "aftertouch"
	SourceSlide        = "slide"
	SourceLift         = "lift"
	SourceNoteInOctave = "note_in_octave"
)

// patch is the processor graph the engine plays: a global LFO and the mod
// wheel as mono sources; per voice a sawtooth oscillator through a resonant
// lowpass, an ADSR envelope and a velocity-scaled level; a master volume on
// the voice sum.
type patch struct {
	root   *graph.Router
	voices *voice.Handler
	module *control.Module
	lfo    *processors.LFO
	out    *graph.Output
}

func buildPatch(f graph.Format, cfg Config) (*patch, error) {
	root := graph.NewRouter(f)
	root.SetSampleRate(cfg.SampleRate)
	root.SetOversampleAmount(cfg.Oversample)

	h := voice.NewHandler(f, cfg.Polyphony)
	root.Add(h)

	m := control.New("synth", root, h)
	p := &patch{root: root, voices: h, module: m}

	p.buildLFO(m.NewSubmodule("lfo"))

	m.RegisterSource(SourceModWheel, h.Output(voice.OutModWheel))
	m.RegisterPolySource(SourceVelocity, h.Output(voice.OutVelocity))
	m.RegisterPolySource(SourceAftertouch, h.Output(voice.OutAftertouch))
	m.RegisterPolySource(SourceSlide, h.Output(voice.OutSlide))
	m.RegisterPolySource(SourceLift, h.Output(voice.OutLift))
	m.RegisterPolySource(SourceNoteInOctave, h.Output(voice.OutNoteInOctave))

	osc, err := p.buildOscillator(m.NewSubmodule("osc"))
	if err != nil {
		return nil, err
	}

	filtered := p.buildFilter(m.NewSubmodule("filter"), osc)
	env := p.buildEnvelope(m.NewSubmodule("env"))

	amp := processors.NewMultiply(graph.AudioRate)
	h.Add(amp)
	h.Connect(amp, 0, filtered)
	h.Connect(amp, 1, env)

	level := m.CreatePolyModControl(control.Details{Name: ParamLevel, Max: 1, Default: 0.5}, false, false, nil, true)

	gain := processors.NewMultiply(graph.ControlRate)
	h.Add(gain)
	h.Connect(gain, 0, level.Output())
	h.Connect(gain, 1, h.Output(voice.OutVelocity))

	voiceOut := processors.NewMultiply(graph.AudioRate)
	h.Add(voiceOut)
	h.Connect(voiceOut, 0, amp.Output(0))
	h.Connect(voiceOut, 1, gain.Output(0))

	mix := h.RegisterOutput(voiceOut.Output(0))

	volume := m.CreateMonoModControl(control.Details{Name: ParamVolume, Max: 1, Default: 0.8, Scale: control.Quadratic}, true, true, nil)

	master := processors.NewMultiply(graph.AudioRate)
	root.Add(master)
	root.Connect(master, 0, mix)
	root.Connect(master, 1, volume.Output())

	p.out = master.Output(0)

	root.SetSampleRate(cfg.SampleRate)
	root.SetOversampleAmount(cfg.Oversample)

	return p, nil
}

func (p *patch) buildLFO(m *control.Module) {
	rate := m.CreateMonoModControl(control.Details{Name: ParamLFORate, Max: 20, Default: 2}, false, false, nil)

	p.lfo = processors.NewLFO(processors.Sine, graph.ControlRate)
	p.voices.AddGlobal(p.lfo)
	p.root.Connect(p.lfo, processors.LFOFrequency, rate.Output())

	m.RegisterSource(SourceLFO, p.lfo.Output(0))
}

// buildOscillator adds the per-voice sawtooth. Its pitch is the voice note
// plus the transpose control plus the pitch wheel scaled to the bend range.
func (p *patch) buildOscillator(m *control.Module) (*graph.Output, error) {
	h := p.voices

	osc, err := processors.NewWavetable()
	if err != nil {
		return nil, fmt.Errorf("engine: oscillator: %w", err)
	}

	transpose := m.CreatePolyModControl(control.Details{Name: ParamTranspose, Min: -48, Max: 48}, false, false, nil, true)
	bendRange := m.CreateBaseControl(control.Details{Name: ParamBendRange, Max: 24, Default: 2}, false, false)

	bend := processors.NewMultiply(graph.ControlRate)
	h.Add(bend)
	h.Connect(bend, 0, h.Output(voice.OutBend))
	h.Connect(bend, 1, bendRange.Output())

	pitch := processors.NewSum(graph.ControlRate, 2)
	h.Add(pitch)
	h.Connect(pitch, 0, bend.Output(0))
	h.Connect(pitch, 1, transpose.Output())

	h.Add(osc)
	h.Connect(osc, processors.WavetableNote, h.Output(voice.OutNote))
	h.Connect(osc, processors.WavetableBend, pitch.Output(0))
	h.Connect(osc, processors.WavetableReset, h.Output(voice.OutReset))

	return osc.Output(0), nil
}

// buildFilter adds the per-voice lowpass after in. Cutoff and resonance are
// normalized and modulatable per voice.
func (p *patch) buildFilter(m *control.Module, in *graph.Output) *graph.Output {
	h := p.voices

	cutoff := m.CreatePolyModControl(control.Details{Name: ParamCutoff, Max: 1, Default: 0.8}, false, false, nil, true)
	resonance := m.CreatePolyModControl(control.Details{Name: ParamResonance, Max: 1}, false, false, nil, true)

	f := processors.NewFilter(processors.Lowpass)
	h.Add(f)
	h.Connect(f, processors.FilterAudio, in)
	h.Connect(f, processors.FilterCutoff, cutoff.Output())
	h.Connect(f, processors.FilterResonance, resonance.Output())
	h.Connect(f, processors.FilterReset, h.Output(voice.OutReset))

	return f.Output(0)
}

// buildEnvelope adds the amplitude envelope, which also decides when a
// released voice is done.
func (p *patch) buildEnvelope(m *control.Module) *graph.Output {
	h := p.voices

	env := processors.NewEnvelope()
	h.Add(env)
	h.Connect(env, processors.EnvelopeTrigger, h.Output(voice.OutVoiceEvent))
	h.Connect(env, processors.EnvelopeRetrigger, h.Output(voice.OutRetrigger))

	stages := []struct {
		input int
		d     control.Details
	}{
		{processors.EnvelopeAttack, control.Details{Name: ParamAttack, Max: 10, Default: 0.005}},
		{processors.EnvelopeDecay, control.Details{Name: ParamDecay, Max: 10, Default: 0.2}},
		{processors.EnvelopeSustain, control.Details{Name: ParamSustain, Max: 1, Default: 0.7}},
		{processors.EnvelopeRelease, control.Details{Name: ParamRelease, Max: 10, Default: 0.3}},
	}

	for _, s := range stages {
		c := m.CreateBaseControl(s.d, false, false)
		h.Connect(env, s.input, c.Output())
	}

	h.SetVoiceKiller(env.Output(0))
	m.RegisterPolySource(SourceEnvelope, env.Output(0))

	return env.Output(0)
}
