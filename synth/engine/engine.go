// Package engine plays a reference polyphonic patch built on the processor
// graph, the voice handler, the control builder and the modulation bank.
//
// Note and controller calls are safe from any goroutine: they are queued on
// a buffered channel without blocking and applied at the start of the next
// block, at their sample offset. Structural edits (polyphony, modulation
// routings, sample rate, oversampling) are serialized against rendering by
// the engine's lock.
//
// Typical use:
//
//	e, err := engine.New(engine.WithSampleRate(48000), engine.WithPolyphony(8))
//	if err != nil { ... }
//	e.NoteOn(60, 0.8, 0, 0)
//	e.Render(buf) // interleaved stereo float32
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/algo-synth/dsp/control"
	"github.com/cwbudde/algo-synth/dsp/graph"
	"github.com/cwbudde/algo-synth/dsp/lane"
	"github.com/cwbudde/algo-synth/dsp/modmatrix"
	"github.com/cwbudde/algo-synth/dsp/voice"
	"github.com/viterin/vek/vek32"
)

// ErrUnknownParameter is returned for parameter names the patch lacks.
var ErrUnknownParameter = errors.New("unknown parameter")

// Engine renders the reference patch.
type Engine struct {
	mu sync.Mutex

	cfg    Config
	log    *slog.Logger
	format graph.Format

	patch *patch
	bank  *modmatrix.Bank
	decim *decimator

	events  chan event
	dropped atomic.Uint64

	wide    []float64
	stereo  []float64
	samples int64
}

// New builds an engine from the default config and opts.
func New(opts ...Option) (*Engine, error) {
	return NewFromConfig(ApplyOptions(opts...))
}

// NewFromConfig builds an engine from cfg. Zero fields take their defaults.
func NewFromConfig(cfg Config) (*Engine, error) {
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	lanes := cfg.Lanes
	if lanes == 0 {
		lanes = lane.Detect()
	}

	e := &Engine{
		cfg:    cfg,
		log:    log,
		format: graph.Format{Lanes: lanes, MaxBlock: cfg.BlockSize},
		events: make(chan event, cfg.EventQueue),
	}

	p, err := buildPatch(e.format, cfg)
	if err != nil {
		return nil, err
	}

	e.patch = p
	e.bank = modmatrix.NewBank(p.module, cfg.MaxConnections)

	if err := e.resize(cfg.Oversample); err != nil {
		return nil, err
	}

	p.root.OnFeedback(func(fb *graph.Feedback) {
		e.log.Info("feedback inserted",
			"source", fmt.Sprintf("%T", fb.Source().Owner()),
			"rate", fb.Rate().String())
	})

	priority, _ := voice.ParsePriority(cfg.VoicePriority)
	override, _ := voice.ParseOverride(cfg.VoiceOverride)
	p.voices.SetVoicePriority(priority)
	p.voices.SetVoiceOverride(override)
	p.voices.SetLegato(cfg.Legato)

	for name, v := range cfg.Parameters {
		if err := e.SetParameter(name, v); err != nil {
			return nil, err
		}
	}

	for _, m := range cfg.Modulations {
		if err := e.ConnectModulation(modmatrix.Connection{
			Source:      m.Source,
			Destination: m.Destination,
			Amount:      m.amount(),
			Bipolar:     m.Bipolar,
			Stereo:      m.Stereo,
			Bypass:      m.Bypass,
			Curve:       m.Curve,
		}); err != nil {
			return nil, err
		}
	}

	e.log.Info("engine ready",
		"sample_rate", cfg.SampleRate,
		"block_size", cfg.BlockSize,
		"oversample", cfg.Oversample,
		"lanes", lanes,
		"polyphony", cfg.Polyphony,
		"priority", priority.String(),
		"override", override.String())

	return e, nil
}

func (e *Engine) resize(k int) error {
	decim, err := newDecimator(k, e.cfg.BlockSize)
	if err != nil {
		return fmt.Errorf("engine: oversample %d: %w", k, err)
	}

	e.wide = make([]float64, 2*e.cfg.BlockSize*k)
	e.stereo = make([]float64, 2*e.cfg.BlockSize)
	e.decim = decim

	return nil
}

// Config returns the settings the engine runs with.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cfg
}

// Format returns the buffer format of the graph.
func (e *Engine) Format() graph.Format { return e.format }

// Voices returns the voice handler. Calls on it must be serialized with
// rendering by the caller.
func (e *Engine) Voices() *voice.Handler { return e.patch.voices }

// Module returns the root of the patch's control tree.
func (e *Engine) Module() *control.Module { return e.patch.module }

// Dropped returns how many control events were lost to a full queue.
func (e *Engine) Dropped() uint64 { return e.dropped.Load() }

// Samples returns the number of output frames rendered so far.
func (e *Engine) Samples() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.samples
}

func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	default:
		if e.dropped.Add(1) == 1 {
			e.log.Warn("control event queue full, dropping events", "kind", ev.kind.String())
		}
	}
}

// NoteOn starts note with velocity in [0, 1] at offset samples into the next
// block.
func (e *Engine) NoteOn(note int, velocity float64, offset, channel int) {
	e.post(event{kind: evNoteOn, note: note, value: velocity, offset: offset, channel: channel})
}

// NoteOff releases note with lift velocity in [0, 1].
func (e *Engine) NoteOff(note int, lift float64, offset, channel int) {
	e.post(event{kind: evNoteOff, note: note, value: lift, offset: offset, channel: channel})
}

// Sustain presses or releases the sustain pedal of channel.
func (e *Engine) Sustain(on bool, offset, channel int) {
	e.post(event{kind: evSustain, on: on, offset: offset, channel: channel})
}

// Sostenuto presses or releases the sostenuto pedal of channel.
func (e *Engine) Sostenuto(on bool, offset, channel int) {
	e.post(event{kind: evSostenuto, on: on, offset: offset, channel: channel})
}

// AllNotesOff releases every note.
func (e *Engine) AllNotesOff(offset int) {
	e.post(event{kind: evAllNotesOff, offset: offset})
}

// AllSoundsOff silences every voice at once.
func (e *Engine) AllSoundsOff() {
	e.post(event{kind: evAllSoundsOff})
}

// Aftertouch sets the pressure of note on channel.
func (e *Engine) Aftertouch(note int, value float64, offset, channel int) {
	e.post(event{kind: evAftertouch, note: note, value: value, offset: offset, channel: channel})
}

// ChannelAftertouch sets the pressure of every note on channel.
func (e *Engine) ChannelAftertouch(value float64, offset, channel int) {
	e.post(event{kind: evChannelAftertouch, value: value, offset: offset, channel: channel})
}

// Slide sets the slide controller of channel.
func (e *Engine) Slide(value float64, offset, channel int) {
	e.post(event{kind: evSlide, value: value, offset: offset, channel: channel})
}

// PitchWheel sets the pitch wheel of channel in [-1, 1].
func (e *Engine) PitchWheel(value float64, channel int) {
	e.post(event{kind: evPitchWheel, value: value, channel: channel})
}

// ModWheel sets the mod wheel in [0, 1]. It applies to every channel.
func (e *Engine) ModWheel(value float64) {
	e.post(event{kind: evModWheel, value: value})
}

func (e *Engine) drain() {
	for {
		select {
		case ev := <-e.events:
			ev.apply(e.patch.voices, e.cfg.Oversample)
		default:
			return
		}
	}
}

// Process applies queued events and runs the graph for numSamples output
// samples, which must not exceed the block size. The result is in Output.
func (e *Engine) Process(numSamples int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.process(numSamples)
}

func (e *Engine) process(numSamples int) {
	if numSamples <= 0 {
		return
	}

	if numSamples > e.cfg.BlockSize {
		panic(fmt.Sprintf("engine: block of %d samples exceeds block size %d", numSamples, e.cfg.BlockSize))
	}

	e.drain()
	e.patch.root.Process(numSamples * e.cfg.Oversample)
	e.samples += int64(numSamples)
}

// Output returns the master output of the graph: every voice slot carries
// the stereo mix, at the oversampled rate.
func (e *Engine) Output() *graph.Output { return e.patch.out }

// Render fills dst with interleaved stereo frames, processing as many blocks
// as needed. A trailing odd sample is left untouched.
func (e *Engine) Render(dst []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	frames := len(dst) / 2
	k := e.cfg.Oversample
	lanes := e.format.Lanes
	out := e.patch.out

	for done := 0; done < frames; {
		n := min(frames-done, e.cfg.BlockSize)
		e.process(n)

		wide := e.wide[:2*n*k]
		for f := range n * k {
			wide[2*f] = out.Buffer[f*lanes]
			wide[2*f+1] = out.Buffer[f*lanes+1]
		}

		stereo := e.stereo[:2*n]
		e.decim.process(stereo, wide)
		vek32.FromFloat64_Into(dst[2*done:2*(done+n)], stereo)

		done += n
	}
}

// SetParameter sets the control called name, clamped to its range.
func (e *Engine) SetParameter(name string, v float64) error {
	if err := e.patch.module.SetValue(name, v); err != nil {
		return fmt.Errorf("engine: %w: %w", ErrUnknownParameter, err)
	}

	return nil
}

// Parameter returns the value of the control called name.
func (e *Engine) Parameter(name string) (float64, error) {
	v, err := e.patch.module.ValueOf(name)
	if err != nil {
		return 0, fmt.Errorf("engine: %w: %w", ErrUnknownParameter, err)
	}

	return v, nil
}

// Parameters returns the current value of every control by name.
func (e *Engine) Parameters() map[string]float64 {
	controls := e.patch.module.Controls()

	values := make(map[string]float64, len(controls))
	for name, c := range controls {
		values[name] = c.Value()
	}

	return values
}

// ConnectModulation adds a modulation routing.
func (e *Engine) ConnectModulation(c modmatrix.Connection) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.bank.ConnectWith(c); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	e.log.Debug("modulation connected",
		"source", c.Source,
		"destination", c.Destination,
		"amount", c.Amount,
		"active", e.bank.Len())

	return nil
}

// DisconnectModulation removes a modulation routing.
func (e *Engine) DisconnectModulation(source, destination string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.bank.Disconnect(source, destination); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	e.log.Debug("modulation disconnected", "source", source, "destination", destination)

	return nil
}

// Modulations returns the active modulation routings.
func (e *Engine) Modulations() []modmatrix.Connection {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.bank.Active()
}

// UpdateModulation changes the settings of an existing routing.
func (e *Engine) UpdateModulation(c modmatrix.Connection) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	steps := []func() error{
		func() error { return e.bank.SetAmount(c.Source, c.Destination, c.Amount) },
		func() error { return e.bank.SetBipolar(c.Source, c.Destination, c.Bipolar) },
		func() error { return e.bank.SetStereo(c.Source, c.Destination, c.Stereo) },
		func() error { return e.bank.SetBypass(c.Source, c.Destination, c.Bypass) },
		func() error { return e.bank.SetCurve(c.Source, c.Destination, c.Curve) },
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
	}

	return nil
}

// SetPolyphony changes the number of voices.
func (e *Engine) SetPolyphony(n int) error {
	if n < 1 || n > voice.MaxPolyphony {
		return fmt.Errorf("engine: polyphony %d: %w", n, ErrInvalidConfig)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.cfg.Polyphony
	e.patch.voices.SetPolyphony(n)
	e.cfg.Polyphony = n

	e.log.Info("polyphony changed", "from", old, "to", n)

	return nil
}

// SetSampleRate changes the output sample rate.
func (e *Engine) SetSampleRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("engine: sample rate %v: %w", rate, ErrInvalidConfig)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg.SampleRate = rate
	e.patch.root.SetSampleRate(rate)

	e.log.Info("sample rate changed", "sample_rate", rate)

	return nil
}

// SetOversampleAmount changes the oversampling amount and resizes every
// buffer.
func (e *Engine) SetOversampleAmount(n int) error {
	if n < 1 || n > MaxOversample {
		return fmt.Errorf("engine: oversample %d: %w", n, ErrInvalidConfig)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.resize(n); err != nil {
		return err
	}

	e.cfg.Oversample = n
	e.patch.root.SetOversampleAmount(n)

	e.log.Info("oversampling changed", "oversample", n)

	return nil
}

// CorrectToTime moves tempo-following processors to where they would be
// after seconds of playback.
func (e *Engine) CorrectToTime(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.patch.root.CorrectToTime(seconds)
}

// Reset silences every voice and clears the decimation filter history.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.drain()
	e.patch.voices.AllSoundsOff()
	e.decim.reset()
}
