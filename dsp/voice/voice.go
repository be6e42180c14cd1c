package voice

import (
	"github.com/cwbudde/algo-synth/dsp/graph"
	"github.com/cwbudde/algo-synth/dsp/lane"
)

// Event is a pending voice event.
type Event uint8

// Voice events.
const (
	EventNone Event = iota
	EventOn
	EventOff
	EventKill
)

func (e Event) trigger() float64 {
	switch e {
	case EventOn:
		return graph.EventOn
	case EventOff:
		return graph.EventOff
	case EventKill:
		return graph.EventKill
	default:
		return 0
	}
}

// State is the lifecycle stage of a voice.
type State uint8

// Voice states. A voice moves Triggering → Held → (Sustained | Released) →
// Dead.
const (
	Dead State = iota
	Triggering
	Held
	Sustained
	Released
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Dead:
		return "dead"
	case Triggering:
		return "triggering"
	case Held:
		return "held"
	case Sustained:
		return "sustained"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Key identifies a pressed note.
type Key struct {
	Note    int
	Channel int
}

// Voice is the state of one polyphonic note.
type Voice struct {
	agg   *Aggregate
	id    int
	index int
	mask  lane.Mask

	state  State
	event  Event
	offset int
	fired  bool

	retrigger bool
	reset     bool

	key        Key
	tuned      float64
	lastNote   float64
	velocity   float64
	lift       float64
	bend       float64
	aftertouch scheduled
	slide      scheduled
	count      uint64
	pressed    int
	sostenuto  bool
}

// State returns the lifecycle stage.
func (v *Voice) State() State { return v.state }

// Key returns the note and channel the voice plays.
func (v *Voice) Key() Key { return v.key }

// Note returns the raw note number.
func (v *Voice) Note() int { return v.key.Note }

// Channel returns the channel.
func (v *Voice) Channel() int { return v.key.Channel }

// Tuned returns the note after tuning, in semitones.
func (v *Voice) Tuned() float64 { return v.tuned }

// Velocity returns the note-on velocity.
func (v *Voice) Velocity() float64 { return v.velocity }

// Lift returns the note-off velocity.
func (v *Voice) Lift() float64 { return v.lift }

// Count returns the global note counter value the voice was triggered with.
func (v *Voice) Count() uint64 { return v.count }

// Event returns the pending event and its sample offset.
func (v *Voice) Event() (Event, int) { return v.event, v.offset }

// ID returns the voice's position in the handler's pool.
func (v *Voice) ID() int { return v.id }

// Sostenuto reports whether the sostenuto pedal holds the voice.
func (v *Voice) Sostenuto() bool { return v.sostenuto }

// Aggregate returns the group the voice belongs to.
func (v *Voice) Aggregate() *Aggregate { return v.agg }

// Mask returns the lanes the voice occupies in its aggregate.
func (v *Voice) Mask() lane.Mask { return v.mask }

// Active reports whether the voice holds a note.
func (v *Voice) Active() bool { return v.state != Dead }

// Sounding reports whether the key is still considered down, including by a
// pedal.
func (v *Voice) Sounding() bool {
	return v.state == Triggering || v.state == Held || v.state == Sustained
}

type activation struct {
	key       Key
	tuned     float64
	lastNote  float64
	velocity  float64
	count     uint64
	pressed   int
	offset    int
	retrigger bool
	reset     bool
}

func (v *Voice) activate(a activation) {
	v.key = a.key
	v.tuned = a.tuned
	v.lastNote = a.lastNote
	v.velocity = a.velocity
	v.lift = 0
	v.count = a.count
	v.pressed = a.pressed
	v.sostenuto = false
	v.state = Triggering
	v.event = EventOn
	v.offset = a.offset
	v.retrigger = a.retrigger
	v.reset = a.reset
}

// deactivate releases the voice at offset.
func (v *Voice) deactivate(offset int) {
	v.state = Released
	v.event = EventOff
	v.offset = offset
	v.retrigger = false
	v.reset = false
}

// kill fades the voice out at offset.
func (v *Voice) kill(offset int) {
	v.state = Released
	v.event = EventKill
	v.offset = offset
	v.retrigger = false
	v.reset = false
}

func (v *Voice) clear() {
	v.state = Dead
	v.event = EventNone
	v.offset = 0
	v.fired = false
	v.retrigger = false
	v.reset = false
	v.sostenuto = false
	v.aftertouch = scheduled{}
	v.slide = scheduled{}
}

// scheduled is a continuous per-voice value. A change waits for the block
// that contains its sample offset and then holds for the whole block.
type scheduled struct {
	value   float64
	next    float64
	offset  int
	pending bool
}

func (s *scheduled) set(value float64, offset int) {
	s.next, s.offset, s.pending = value, max(offset, 0), true
}

// advance applies a change due within a block of numSamples and returns the
// value for that block.
func (s *scheduled) advance(numSamples int) float64 {
	if s.pending {
		if s.offset < numSamples {
			s.value, s.pending = s.next, false
		} else {
			s.offset -= numSamples
		}
	}

	return s.value
}

// Aggregate is a group of voices packed into the lanes of one frame. The
// voices share one clone of the handler's per-voice graph and are processed
// together.
type Aggregate struct {
	voices []*Voice
	graph  *graph.Router
}

// Voices returns the voices of the group.
func (a *Aggregate) Voices() []*Voice { return a.voices }

// Graph returns the group's clone of the per-voice graph.
func (a *Aggregate) Graph() *graph.Router { return a.graph }

// ActiveMask returns the lanes of the voices that hold a note.
func (a *Aggregate) ActiveMask() lane.Mask {
	var m lane.Mask

	for _, v := range a.voices {
		if v.Active() {
			m |= v.mask
		}
	}

	return m
}

// NumActive returns the number of voices holding a note.
func (a *Aggregate) NumActive() int {
	n := 0

	for _, v := range a.voices {
		if v.Active() {
			n++
		}
	}

	return n
}
