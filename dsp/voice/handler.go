// Package voice implements polyphonic voice allocation on top of the
// processor graph.
//
// A Handler is a router whose own processors form the per-voice ("poly")
// graph. That graph is never processed directly: the handler clones it once
// per Aggregate, a group of voices packed into the lanes of one frame, and
// runs every clone whose voices hold a note. A second router owned by the
// handler carries the global ("mono") processors, which run once per block
// before the voices.
//
// Per-voice values such as note, velocity and the note-on trigger are handler
// outputs. Before each aggregate is processed the handler writes the values of
// that aggregate's voices into the lanes of these outputs, so poly processors
// reading them see their own voice. Results leave the poly graph through
// registered outputs, which are either accumulated across all voices or taken
// from the most recently played voice.
//
// # Usage
//
//	h := voice.NewHandler(graph.DefaultFormat(), 8)
//	env := processors.NewEnvelope()
//	h.Add(env)
//	h.Connect(env, processors.EnvelopeTrigger, h.Output(voice.OutVoiceEvent))
//	h.Connect(env, processors.EnvelopeRetrigger, h.Output(voice.OutRetrigger))
//	h.SetVoiceKiller(env.Output(0))
//	level := h.RegisterOutput(env.Output(0))
//
//	h.NoteOn(60, 1, 0, 0)
//	h.Process(128)
//	_ = level.Buffer
package voice

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-synth/dsp/graph"
	"github.com/cwbudde/algo-synth/dsp/lane"
	"github.com/cwbudde/algo-synth/dsp/ringbuf"
	"github.com/cwbudde/algo-vecmath"
)

// MaxPolyphony is the hard cap on simultaneous voices.
const MaxPolyphony = 32

// Channels is the number of note channels.
const Channels = 16

// DefaultSilence is the level below which a released voice counts as silent.
const DefaultSilence = 1e-5

const pressedCapacity = 256

// Priority decides which voice is stolen first and which held note gets a
// voice back when one frees up.
type Priority int

// Voice priorities.
const (
	// Newest keeps the most recent notes; the oldest voice is stolen.
	Newest Priority = iota
	// Oldest keeps the earliest notes; the newest voice is stolen.
	Oldest
	// Highest keeps the highest notes; the lowest is stolen.
	Highest
	// Lowest keeps the lowest notes; the highest is stolen.
	Lowest
	// RoundRobin steals like Newest and cycles through free voices.
	RoundRobin
)

var priorityNames = map[Priority]string{
	Newest:     "newest",
	Oldest:     "oldest",
	Highest:    "highest",
	Lowest:     "lowest",
	RoundRobin: "round-robin",
}

// String returns the priority name.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}

	return "unknown"
}

// ParsePriority parses a priority name as returned by String.
func ParsePriority(name string) (Priority, error) {
	for p, n := range priorityNames {
		if n == name {
			return p, nil
		}
	}

	return Newest, fmt.Errorf("voice: unknown priority %q", name)
}

// Override decides how a voice is taken over when none is free.
type Override int

// Voice overrides.
const (
	// Kill hard-resets the first voice in priority order and reuses it.
	Kill Override = iota
	// Steal reuses a voice in the order released, sustained, held,
	// triggering, retriggering it without a reset.
	Steal
)

// String returns the override name.
func (o Override) String() string {
	if o == Steal {
		return "steal"
	}

	return "kill"
}

// ParseOverride parses an override name as returned by String.
func ParseOverride(name string) (Override, error) {
	switch name {
	case "kill":
		return Kill, nil
	case "steal":
		return Steal, nil
	default:
		return Kill, fmt.Errorf("voice: unknown override %q", name)
	}
}

// Handler outputs. Per-voice values are written into each voice's lanes
// before its aggregate is processed; the last three are global values.
const (
	OutVoiceEvent = iota
	OutRetrigger
	OutReset
	OutNote
	OutLastNote
	OutVelocity
	OutLift
	OutPressed
	OutNoteCount
	OutNoteInOctave
	OutChannel
	OutAftertouch
	OutSlide
	OutBend
	OutActiveLanes
	OutPolyphony
	OutModWheel
	OutPitchWheel

	numValueOutputs
)

var stealOrder = [...]State{Released, Sustained, Held, Triggering}

type registered struct {
	canonical  *graph.Output
	out        *graph.Output
	accumulate bool
}

// Handler allocates voices to notes and runs the per-voice graph for every
// group of voices that holds a note. It must not be cloned.
type Handler struct {
	graph.Router

	global    *graph.Router
	voicesPer int

	polyphony int
	priority  Priority
	override  Override
	legato    bool
	tuning    func(note int) float64
	silence   float64

	voices     []*Voice
	aggregates []*Aggregate
	free       *ringbuf.Queue[*Voice]
	active     *ringbuf.Queue[*Voice]
	pressed    *ringbuf.Queue[pressedKey]
	lastPlayed *Voice

	noteCount  uint64
	lastNote   float64
	sustain    [Channels]bool
	sostenuto  [Channels]bool
	pitchWheel [Channels]float64
	modWheel   float64
	wheel      float64

	registered []registered
	killer     *graph.Output
	fold       []float64
	scratch    []*Voice

	stealLess func(a, b *Voice) bool
}

// NewHandler returns a handler for buffers of format f with the given
// polyphony. Panics if f is invalid or polyphony is outside
// [1, MaxPolyphony].
func NewHandler(f graph.Format, polyphony int) *Handler {
	if !f.Valid() {
		panic(fmt.Sprintf("voice: invalid format %+v", f))
	}

	h := &Handler{
		voicesPer:  lane.VoicesPer(f.Lanes),
		tuning:     func(note int) float64 { return float64(note) },
		silence:    DefaultSilence,
		free:       ringbuf.New[*Voice](MaxPolyphony + lane.MaxWidth),
		active:     ringbuf.New[*Voice](MaxPolyphony + lane.MaxWidth),
		pressed:    ringbuf.New[pressedKey](pressedCapacity),
	}

	h.InitRouter(h, 0, 0)

	for range numValueOutputs {
		h.AddOutput(graph.ControlRate)
	}

	h.global = graph.NewRouter(f)
	h.SetFormat(f)
	h.Attach(h.global)
	h.SetVoicePriority(Newest)
	h.SetPolyphony(polyphony)

	return h
}

// Prepare implements graph.Preparer.
func (h *Handler) Prepare(f graph.Format) {
	h.fold = make([]float64, f.Lanes)
}

// Clone panics: a handler owns its voices and cannot be replicated.
func (h *Handler) Clone() graph.Processor {
	panic("voice: a Handler cannot be cloned")
}

// EachChild implements graph.Subgraph. It lists the global router first,
// then the per-voice processors.
func (h *Handler) EachChild(fn func(graph.Processor)) {
	if h.global != nil {
		fn(h.global)
	}

	h.Router.EachChild(fn)
}

// Global returns the router of processors that run once per block.
func (h *Handler) Global() *graph.Router { return h.global }

// AddGlobal adds p to the global router.
func (h *Handler) AddGlobal(p graph.Processor) {
	h.global.Add(p)
}

// Aggregates returns the voice groups.
func (h *Handler) Aggregates() []*Aggregate { return h.aggregates }

// Voices returns every voice of the pool, including ones above the current
// polyphony.
func (h *Handler) Voices() []*Voice { return h.voices }

// Polyphony returns the number of usable voices.
func (h *Handler) Polyphony() int { return h.polyphony }

// NumActiveVoices returns the number of voices holding a note.
func (h *Handler) NumActiveVoices() int { return h.active.Len() }

// PressedNotes returns the keys currently held down, oldest first.
func (h *Handler) PressedNotes() []Key {
	keys := make([]Key, 0, h.pressed.Len())
	for p := range h.pressed.All() {
		keys = append(keys, p.key)
	}

	return keys
}

// LastPlayed returns the most recently triggered voice that still holds a
// note, or nil.
func (h *Handler) LastPlayed() *Voice { return h.lastPlayed }

// SetTuning sets the mapping from note numbers to tuned notes in semitones.
// A nil fn restores equal temperament.
func (h *Handler) SetTuning(fn func(note int) float64) {
	if fn == nil {
		fn = func(note int) float64 { return float64(note) }
	}

	h.tuning = fn
}

// SetLegato enables legato: taking over a held voice does not retrigger it.
func (h *Handler) SetLegato(on bool) { h.legato = on }

// Legato reports whether legato is enabled.
func (h *Handler) Legato() bool { return h.legato }

// SetVoiceOverride sets how voices are taken over.
func (h *Handler) SetVoiceOverride(o Override) { h.override = o }

// VoiceOverride returns the override policy.
func (h *Handler) VoiceOverride() Override { return h.override }

// SetVoicePriority sets the priority policy and re-sorts active voices.
func (h *Handler) SetVoicePriority(p Priority) {
	h.priority = p

	switch p {
	case Oldest:
		h.stealLess = func(a, b *Voice) bool { return a.count > b.count }
	case Highest:
		h.stealLess = func(a, b *Voice) bool {
			if a.key.Note != b.key.Note {
				return a.key.Note < b.key.Note
			}

			return a.count < b.count
		}
	case Lowest:
		h.stealLess = func(a, b *Voice) bool {
			if a.key.Note != b.key.Note {
				return a.key.Note > b.key.Note
			}

			return a.count < b.count
		}
	default:
		h.stealLess = func(a, b *Voice) bool { return a.count < b.count }
	}

	h.active.Sort(h.stealLess)
}

// VoicePriority returns the priority policy.
func (h *Handler) VoicePriority() Priority { return h.priority }

// SetVoiceKiller sets the poly output whose silence frees released voices.
// Without a killer, released voices are freed right after their release
// event is processed.
func (h *Handler) SetVoiceKiller(out *graph.Output) {
	h.killer = out
}

// SetSilenceThreshold sets the level below which the voice killer counts as
// silent.
func (h *Handler) SetSilenceThreshold(level float64) {
	if level > 0 {
		h.silence = level
	}
}

// RegisterOutput exposes a poly output as a handler output and returns it.
// Audio-rate outputs, and outputs of processors that are not control-rate,
// are accumulated across voices; the rest follow the last played voice.
func (h *Handler) RegisterOutput(out *graph.Output) *graph.Output {
	owner := graph.BaseOf(out.Owner())
	accumulate := out.Rate() == graph.AudioRate || !owner.IsControlRate()

	return h.RegisterControlOutput(out, accumulate)
}

// RegisterControlOutput exposes a poly output as a handler output, summed
// across voices when accumulate is set and taken from the last played voice
// otherwise. Accumulated outputs carry the stereo sum of all voices in every
// voice slot.
func (h *Handler) RegisterControlOutput(out *graph.Output, accumulate bool) *graph.Output {
	if out.Owner() == nil || !graph.Contains(h, out.Owner()) || graph.Contains(h.global, out.Owner()) {
		panic("voice: registered output is not part of the per-voice graph")
	}

	reg := registered{
		canonical:  out,
		out:        h.AddOutput(out.Rate()),
		accumulate: accumulate,
	}
	h.registered = append(h.registered, reg)

	return reg.out
}

// SetPolyphony changes the number of usable voices, creating aggregates as
// needed. Voices beyond the new polyphony and sounding voices in excess of it
// are killed. Panics if n is outside [1, MaxPolyphony].
func (h *Handler) SetPolyphony(n int) {
	if n < 1 || n > MaxPolyphony {
		panic(fmt.Sprintf("voice: polyphony %d outside [1, %d]", n, MaxPolyphony))
	}

	h.polyphony = n

	for len(h.voices) < n {
		h.addAggregate()
	}

	for _, v := range h.voices {
		usable := v.id < n
		free := h.free.Contains(v)

		switch {
		case usable && !v.Active() && !free:
			h.free.PushBack(v)
		case !usable && free:
			h.free.Remove(v)
		case !usable && v.Active() && v.state != Released:
			v.kill(0)
		}
	}

	for h.numSounding() > n {
		v := h.firstUsable(func(v *Voice) bool { return v.Sounding() })
		if v == nil {
			break
		}

		v.kill(0)
	}
}

func (h *Handler) addAggregate() {
	agg := &Aggregate{graph: h.CloneRouter()}

	for i := range h.voicesPer {
		v := &Voice{agg: agg, id: len(h.voices), index: i, mask: lane.VoiceMask(i)}
		agg.voices = append(agg.voices, v)
		h.voices = append(h.voices, v)
	}

	h.aggregates = append(h.aggregates, agg)
}

func (h *Handler) numSounding() int {
	n := 0

	for v := range h.active.All() {
		if v.Sounding() {
			n++
		}
	}

	return n
}

// firstUsable returns the first active voice in steal order that is within
// the polyphony and satisfies match.
func (h *Handler) firstUsable(match func(*Voice) bool) *Voice {
	for v := range h.active.All() {
		if v.id < h.polyphony && match(v) {
			return v
		}
	}

	return nil
}

func clampChannel(ch int) int {
	if ch < 0 || ch >= Channels {
		return 0
	}

	return ch
}

// NoteOn starts note on channel at sample offset within the current block.
// Offsets beyond the block are carried into later blocks.
func (h *Handler) NoteOn(note int, velocity float64, offset, channel int) {
	channel = clampChannel(channel)
	key := Key{Note: note, Channel: channel}

	h.unpress(key)
	h.pressed.EnsureSpace(1)
	h.pressed.PushBack(pressedKey{key: key, velocity: velocity})

	v := h.grab()
	retrigger, reset := true, false

	if v.Active() {
		if h.legato && v.Sounding() {
			retrigger = false
		}

		reset = h.override == Kill && retrigger
		h.active.Remove(v)
	} else {
		h.free.Remove(v)

		reset = true
	}

	h.start(v, key, velocity, offset, retrigger, reset)
}

func (h *Handler) start(v *Voice, key Key, velocity float64, offset int, retrigger, reset bool) {
	h.noteCount++
	tuned := h.tuning(key.Note)

	v.activate(activation{
		key:       key,
		tuned:     tuned,
		lastNote:  h.lastNote,
		velocity:  velocity,
		count:     h.noteCount,
		pressed:   h.pressed.Len(),
		offset:    max(offset, 0),
		retrigger: retrigger,
		reset:     reset,
	})
	v.bend = h.pitchWheel[key.Channel]

	h.lastNote = tuned
	h.lastPlayed = v
	h.active.PushBack(v)
	h.active.Sort(h.stealLess)
}

// grab picks the voice for a new note: a free voice in an aggregate that is
// already running, any free voice, or an active voice taken over according
// to the override policy.
func (h *Handler) grab() *Voice {
	for v := range h.free.All() {
		if v.agg.NumActive() > 0 {
			return v
		}
	}

	if !h.free.Empty() {
		return h.free.Front()
	}

	if h.override == Kill {
		if v := h.firstUsable(func(*Voice) bool { return true }); v != nil {
			return v
		}
	}

	for _, st := range stealOrder {
		if v := h.firstUsable(func(v *Voice) bool { return v.state == st }); v != nil {
			return v
		}
	}

	return h.active.Front()
}

// NoteOff releases note on channel at sample offset. A pedal on the channel
// keeps the voice sustained instead. When more keys are held than there are
// voices, the freed voice immediately plays the next held key that has no
// voice.
func (h *Handler) NoteOff(note int, lift float64, offset, channel int) {
	channel = clampChannel(channel)
	key := Key{Note: note, Channel: channel}

	h.unpress(key)

	held := h.scratch[:0]

	for v := range h.active.All() {
		if v.key == key && (v.state == Held || v.state == Triggering) {
			held = append(held, v)
		}
	}

	h.scratch = held

	for _, v := range held {
		v.lift = lift

		if h.sustain[channel] || v.sostenuto {
			v.state = Sustained

			continue
		}

		if h.pressed.Len() >= h.polyphony {
			if next, ok := h.nextUnplayed(); ok {
				h.active.Remove(v)
				h.start(v, next.key, next.velocity, offset, !h.legato, false)

				continue
			}
		}

		v.deactivate(max(offset, 0))
	}
}

// nextUnplayed returns the held key without a voice that the priority policy
// prefers.
func (h *Handler) nextUnplayed() (pressedKey, bool) {
	var (
		best  pressedKey
		found bool
	)

	consider := func(p pressedKey) bool {
		if h.isPlaying(p.key) {
			return false
		}

		switch {
		case !found:
		case h.priority == Highest && p.key.Note <= best.key.Note:
			return false
		case h.priority == Lowest && p.key.Note >= best.key.Note:
			return false
		}

		best, found = p, true

		return h.priority == Newest || h.priority == Oldest || h.priority == RoundRobin
	}

	if h.priority == Oldest {
		for p := range h.pressed.All() {
			if consider(p) {
				break
			}
		}
	} else {
		for p := range h.pressed.Backward() {
			if consider(p) {
				break
			}
		}
	}

	return best, found
}

// pressedKey is a held key and the velocity it was struck with, kept so a
// voice freed later can pick the key up again.
type pressedKey struct {
	key      Key
	velocity float64
}

// unpress forgets every entry for key.
func (h *Handler) unpress(key Key) {
	for i := h.pressed.Len() - 1; i >= 0; i-- {
		if h.pressed.At(i).key == key {
			h.pressed.RemoveAt(i)
		}
	}
}

func (h *Handler) isPlaying(k Key) bool {
	for v := range h.active.All() {
		if v.key == k && v.Sounding() {
			return true
		}
	}

	return false
}

// SustainOn holds notes on channel after their key is released.
func (h *Handler) SustainOn(channel int) {
	h.sustain[clampChannel(channel)] = true
}

// SustainOff releases every sustained voice on channel that sostenuto does
// not hold, at sample offset.
func (h *Handler) SustainOff(channel, offset int) {
	channel = clampChannel(channel)
	h.sustain[channel] = false

	for v := range h.active.All() {
		if v.key.Channel == channel && v.state == Sustained && !v.sostenuto {
			v.deactivate(max(offset, 0))
		}
	}
}

// SostenutoOn latches the voices currently held on channel.
func (h *Handler) SostenutoOn(channel int) {
	channel = clampChannel(channel)
	h.sostenuto[channel] = true

	for v := range h.active.All() {
		if v.key.Channel == channel && (v.state == Held || v.state == Triggering) {
			v.sostenuto = true
		}
	}
}

// SostenutoOff drops the latch and releases the voices it kept sustained,
// unless the sustain pedal is down.
func (h *Handler) SostenutoOff(channel, offset int) {
	channel = clampChannel(channel)
	h.sostenuto[channel] = false

	for v := range h.active.All() {
		if v.key.Channel != channel || !v.sostenuto {
			continue
		}

		v.sostenuto = false

		if v.state == Sustained && !h.sustain[channel] {
			v.deactivate(max(offset, 0))
		}
	}
}

// Sustained reports whether the sustain pedal is down on channel.
func (h *Handler) Sustained(channel int) bool {
	return h.sustain[clampChannel(channel)]
}

// AllNotesOff releases every sounding voice at sample offset and forgets the
// held keys.
func (h *Handler) AllNotesOff(offset int) {
	for v := range h.active.All() {
		if v.Sounding() {
			v.deactivate(max(offset, 0))
		}
	}

	h.pressed.Clear()
}

// AllSoundsOff silences every voice immediately and resets the pedals.
func (h *Handler) AllSoundsOff() {
	for h.active.Len() > 0 {
		h.release(h.active.Back())
	}

	h.pressed.Clear()
	h.sustain = [Channels]bool{}
	h.sostenuto = [Channels]bool{}
}

// SetAftertouch sets the pressure of note on channel. Continuous values hold
// for a whole block; the change lands in the block containing offset.
func (h *Handler) SetAftertouch(channel, note int, value float64, offset int) {
	key := Key{Note: note, Channel: clampChannel(channel)}

	for v := range h.active.All() {
		if v.key == key {
			v.aftertouch.set(value, offset)
		}
	}
}

// SetChannelAftertouch sets the pressure of every voice on channel.
func (h *Handler) SetChannelAftertouch(channel int, value float64, offset int) {
	channel = clampChannel(channel)

	for v := range h.active.All() {
		if v.key.Channel == channel {
			v.aftertouch.set(value, offset)
		}
	}
}

// SetSlide sets the slide (MPE timbre) value of every voice on channel.
func (h *Handler) SetSlide(channel int, value float64, offset int) {
	channel = clampChannel(channel)

	for v := range h.active.All() {
		if v.key.Channel == channel {
			v.slide.set(value, offset)
		}
	}
}

// SetPitchWheel sets the pitch wheel of channel in [-1, 1]. Voices on the
// channel take it as their local bend.
func (h *Handler) SetPitchWheel(value float64, channel int) {
	channel = clampChannel(channel)
	h.pitchWheel[channel] = value
	h.wheel = value

	for v := range h.active.All() {
		if v.key.Channel == channel {
			v.bend = value
		}
	}
}

// SetModWheel sets the mod wheel in [0, 1]. It is global across channels.
func (h *Handler) SetModWheel(value float64) {
	h.modWheel = value
}

// SetSampleRate propagates the sample rate to every graph and clone.
func (h *Handler) SetSampleRate(rate float64) {
	h.Router.SetSampleRate(rate)
	h.global.SetSampleRate(rate)

	for _, agg := range h.aggregates {
		agg.graph.SetSampleRate(rate)
	}
}

// SetOversampleAmount resizes every graph and clone for n times
// oversampling.
func (h *Handler) SetOversampleAmount(n int) {
	h.Router.SetOversampleAmount(n)
	h.global.SetOversampleAmount(n)

	for _, agg := range h.aggregates {
		agg.graph.SetOversampleAmount(n)
	}
}

// CorrectToTime forwards a transport position to the global graph and every
// voice clone.
func (h *Handler) CorrectToTime(seconds float64) {
	h.global.CorrectToTime(seconds)

	for _, agg := range h.aggregates {
		agg.graph.CorrectToTime(seconds)
	}
}

// Process runs the global graph, then every aggregate holding a note, and
// frees released voices whose killer output has gone silent.
func (h *Handler) Process(numSamples int) {
	h.writeGlobalValues()
	h.global.Process(numSamples)

	for _, reg := range h.registered {
		if reg.accumulate {
			clear(reg.out.Buffer[:h.frames(reg.out, numSamples)*h.Lanes()])
		}
	}

	for _, agg := range h.aggregates {
		if agg.NumActive() == 0 {
			continue
		}

		h.scatter(agg, numSamples)
		agg.graph.Process(numSamples)
		h.gather(agg, numSamples)
		h.settle(agg, numSamples)
	}

	for _, i := range [...]int{OutVoiceEvent, OutRetrigger, OutReset} {
		h.Output(i).ClearTrigger()
	}
}

func (h *Handler) frames(out *graph.Output, numSamples int) int {
	if out.IsControlRate() {
		return 1
	}

	return numSamples
}

func (h *Handler) writeGlobalValues() {
	h.Output(OutPolyphony).Fill(float64(h.active.Len()), 1)
	h.Output(OutModWheel).Fill(h.modWheel, 1)
	h.Output(OutPitchWheel).Fill(h.wheel, 1)
}

// scatter writes the state of agg's voices into their lanes of the handler
// outputs and fires the events due this block.
func (h *Handler) scatter(agg *Aggregate, numSamples int) {
	event, retrigger, reset := h.Output(OutVoiceEvent), h.Output(OutRetrigger), h.Output(OutReset)
	event.ClearTrigger()
	retrigger.ClearTrigger()
	reset.ClearTrigger()

	for _, v := range agg.voices {
		v.fired = false

		if v.event != EventNone {
			if v.offset < numSamples {
				event.Trigger(v.mask, v.event.trigger(), v.offset)

				if v.event == EventOn && v.retrigger {
					retrigger.Trigger(v.mask, 1, v.offset)
				}

				if v.event == EventOn && v.reset {
					reset.Trigger(v.mask, 1, v.offset)
				}

				v.fired = true
			} else {
				v.offset -= numSamples
			}
		}

		active := 0.0
		if v.Active() {
			active = 1
		}

		note := v.key.Note
		h.setVoice(OutNote, v, v.tuned)
		h.setVoice(OutLastNote, v, v.lastNote)
		h.setVoice(OutVelocity, v, v.velocity)
		h.setVoice(OutLift, v, v.lift)
		h.setVoice(OutPressed, v, float64(v.pressed))
		h.setVoice(OutNoteCount, v, float64(v.count))
		h.setVoice(OutNoteInOctave, v, float64(((note%12)+12)%12)/12)
		h.setVoice(OutChannel, v, float64(v.key.Channel))
		h.setVoice(OutAftertouch, v, v.aftertouch.advance(numSamples))
		h.setVoice(OutSlide, v, v.slide.advance(numSamples))
		h.setVoice(OutBend, v, v.bend)
		h.setVoice(OutActiveLanes, v, active)
	}
}

func (h *Handler) setVoice(index int, v *Voice, value float64) {
	buf := h.Output(index).Buffer
	ln := v.index * lane.Channels
	buf[ln] = value
	buf[ln+1] = value
}

// gather adds agg's registered outputs to the handler outputs.
func (h *Handler) gather(agg *Aggregate, numSamples int) {
	live := agg.ActiveMask()
	lanes := h.Lanes()

	for _, reg := range h.registered {
		local := agg.graph.LocalOutput(reg.canonical)
		frames := h.frames(reg.out, numSamples)

		if !reg.accumulate {
			if h.lastPlayed == nil || h.lastPlayed.agg != agg {
				continue
			}

			ln := h.lastPlayed.index * lane.Channels
			for f := range frames {
				left, right := local.At(f, ln), local.At(f, ln+1)

				row := reg.out.Buffer[f*lanes : (f+1)*lanes]
				for i := 0; i < lanes; i += lane.Channels {
					row[i], row[i+1] = left, right
				}
			}

			continue
		}

		if !local.IsControlRate() {
			graph.Sanitize(local.Buffer[:frames*lanes])
		}

		for f := range frames {
			var left, right float64

			for i := 0; i < lanes; i += lane.Channels {
				if live.Has(i) {
					left += local.At(f, i)
					right += local.At(f, i+1)
				}
			}

			for i := 0; i < lanes; i += lane.Channels {
				h.fold[i], h.fold[i+1] = left, right
			}

			vecmath.AddBlockInPlace(reg.out.Buffer[f*lanes:(f+1)*lanes], h.fold)
		}
	}
}

// settle advances the lifecycle of agg's voices after processing.
func (h *Handler) settle(agg *Aggregate, numSamples int) {
	for _, v := range agg.voices {
		if v.fired {
			v.fired = false
			v.event = EventNone

			if v.state == Triggering {
				v.state = Held
			}
		}

		if v.state == Released && v.event == EventNone && h.silent(agg, v, numSamples) {
			h.release(v)
		}
	}
}

func (h *Handler) silent(agg *Aggregate, v *Voice, numSamples int) bool {
	if h.killer == nil {
		return true
	}

	out := agg.graph.LocalOutput(h.killer)
	ln := v.index * lane.Channels

	for f := range h.frames(out, numSamples) {
		if h.audible(out.At(f, ln)) || h.audible(out.At(f, ln+1)) {
			return false
		}
	}

	return true
}

// audible reports whether x keeps a released voice alive. A killer that has
// gone NaN or infinite can never decay, so it frees the voice.
func (h *Handler) audible(x float64) bool {
	a := math.Abs(x)

	return a > h.silence && !math.IsInf(a, 1)
}

// release returns v to the free pool.
func (h *Handler) release(v *Voice) {
	v.clear()
	h.active.Remove(v)

	if v.id < h.polyphony && !h.free.Contains(v) {
		h.free.PushBack(v)
	}

	if h.lastPlayed == v {
		h.lastPlayed = nil

		for a := range h.active.All() {
			if h.lastPlayed == nil || a.count > h.lastPlayed.count {
				h.lastPlayed = a
			}
		}
	}
}
