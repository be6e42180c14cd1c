package engine

import "github.com/cwbudde/algo-synth/dsp/voice"

type eventKind uint8

const (
	evNoteOn eventKind = iota
	evNoteOff
	evSustain
	evSostenuto
	evAllNotesOff
	evAllSoundsOff
	evAftertouch
	evChannelAftertouch
	evSlide
	evPitchWheel
	evModWheel
)

func (k eventKind) String() string {
	switch k {
	case evNoteOn:
		return "note-on"
	case evNoteOff:
		return "note-off"
	case evSustain:
		return "sustain"
	case evSostenuto:
		return "sostenuto"
	case evAllNotesOff:
		return "all-notes-off"
	case evAllSoundsOff:
		return "all-sounds-off"
	case evAftertouch:
		return "aftertouch"
	case evChannelAftertouch:
		return "channel-aftertouch"
	case evSlide:
		return "slide"
	case evPitchWheel:
		return "pitch-wheel"
	case evModWheel:
		return "mod-wheel"
	default:
		return "unknown"
	}
}

// event is a control event queued for the next block.
type event struct {
	kind    eventKind
	channel int
	note    int
	offset  int
	value   float64
	on      bool
}

// apply forwards ev to h. Offsets are in oversampled samples.
func (ev event) apply(h *voice.Handler, oversample int) {
	offset := ev.offset * oversample

	switch ev.kind {
	case evNoteOn:
		h.NoteOn(ev.note, ev.value, offset, ev.channel)
	case evNoteOff:
		h.NoteOff(ev.note, ev.value, offset, ev.channel)
	case evSustain:
		if ev.on {
			h.SustainOn(ev.channel)
		} else {
			h.SustainOff(ev.channel, offset)
		}
	case evSostenuto:
		if ev.on {
			h.SostenutoOn(ev.channel)
		} else {
			h.SostenutoOff(ev.channel, offset)
		}
	case evAllNotesOff:
		h.AllNotesOff(offset)
	case evAllSoundsOff:
		h.AllSoundsOff()
	case evAftertouch:
		h.SetAftertouch(ev.channel, ev.note, ev.value, offset)
	case evChannelAftertouch:
		h.SetChannelAftertouch(ev.channel, ev.value, offset)
	case evSlide:
		h.SetSlide(ev.channel, ev.value, offset)
	case evPitchWheel:
		h.SetPitchWheel(ev.value, ev.channel)
	case evModWheel:
		h.SetModWheel(ev.value)
	}
}
