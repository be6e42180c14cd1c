// Package midiin turns MIDI channel messages into synth note and controller
// calls.
package midiin

import (
	"io"
	"log/slog"

	"gitlab.com/gomidi/midi/v2"
)

// Controller numbers handled by the dispatcher.
const (
	CCModWheel     = 1
	CCSustain      = 64
	CCSostenuto    = 66
	CCSlide        = 74
	CCAllSoundsOff = 120
	CCAllNotesOff  = 123
)

// pedalThreshold is the controller value from which a pedal counts as down.
const pedalThreshold = 64

// Target receives the decoded events. *engine.Engine implements it.
type Target interface {
	NoteOn(note int, velocity float64, offset, channel int)
	NoteOff(note int, lift float64, offset, channel int)
	Sustain(on bool, offset, channel int)
	Sostenuto(on bool, offset, channel int)
	AllNotesOff(offset int)
	AllSoundsOff()
	Aftertouch(note int, value float64, offset, channel int)
	ChannelAftertouch(value float64, offset, channel int)
	Slide(value float64, offset, channel int)
	PitchWheel(value float64, channel int)
	ModWheel(value float64)
}

// Dispatcher decodes MIDI messages for a Target.
type Dispatcher struct {
	target  Target
	log     *slog.Logger
	channel int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithChannel restricts the dispatcher to one channel in [0, 15]. A negative
// channel accepts all.
func WithChannel(ch int) Option {
	return func(d *Dispatcher) { d.channel = ch }
}

// WithLogger sets the logger unhandled messages are reported to at debug
// level.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDispatcher returns a dispatcher forwarding to target on every channel.
func NewDispatcher(target Target, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		target:  target,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		channel: -1,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func unit(v uint8) float64 {
	return float64(v) / 127
}

// Handle forwards msg with the given sample offset into the next block and
// reports whether it was understood.
func (d *Dispatcher) Handle(msg midi.Message, offset int) bool {
	var ch, key, vel, cc, val uint8

	var (
		rel int16
		abs uint16
	)

	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		if !d.accepts(ch) {
			return false
		}

		d.target.NoteOn(int(key), unit(vel), offset, int(ch))
	case msg.GetNoteOff(&ch, &key, &vel):
		if !d.accepts(ch) {
			return false
		}

		d.target.NoteOff(int(key), unit(vel), offset, int(ch))
	case msg.GetNoteEnd(&ch, &key):
		if !d.accepts(ch) {
			return false
		}

		d.target.NoteOff(int(key), 0, offset, int(ch))
	case msg.GetControlChange(&ch, &cc, &val):
		if !d.accepts(ch) {
			return false
		}

		return d.controlChange(int(ch), cc, val, offset)
	case msg.GetPitchBend(&ch, &rel, &abs):
		if !d.accepts(ch) {
			return false
		}

		d.target.PitchWheel(max(float64(rel)/8192, -1), int(ch))
	case msg.GetAfterTouch(&ch, &val):
		if !d.accepts(ch) {
			return false
		}

		d.target.ChannelAftertouch(unit(val), offset, int(ch))
	case msg.GetPolyAfterTouch(&ch, &key, &val):
		if !d.accepts(ch) {
			return false
		}

		d.target.Aftertouch(int(key), unit(val), offset, int(ch))
	default:
		d.log.Debug("unhandled MIDI message", "msg", msg.String())

		return false
	}

	return true
}

func (d *Dispatcher) controlChange(ch int, cc, val uint8, offset int) bool {
	switch cc {
	case CCModWheel:
		d.target.ModWheel(unit(val))
	case CCSustain:
		d.target.Sustain(val >= pedalThreshold, offset, ch)
	case CCSostenuto:
		d.target.Sostenuto(val >= pedalThreshold, offset, ch)
	case CCSlide:
		d.target.Slide(unit(val), offset, ch)
	case CCAllSoundsOff:
		d.target.AllSoundsOff()
	case CCAllNotesOff:
		d.target.AllNotesOff(offset)
	default:
		d.log.Debug("unhandled controller", "channel", ch, "cc", cc, "value", val)

		return false
	}

	return true
}

func (d *Dispatcher) accepts(ch uint8) bool {
	return d.channel < 0 || int(ch) == d.channel
}

// HandleMessage is a listener for midi.ListenTo. Live input is applied at the
// start of the next block.
func (d *Dispatcher) HandleMessage(msg midi.Message, _ int32) {
	d.Handle(msg, 0)
}
