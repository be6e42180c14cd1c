package graph

import (
	"math"

	"github.com/cwbudde/algo-synth/dsp/lane"
)

// Output is a processor's output port: a buffer of frames × lanes values laid
// out frame-major, plus per-lane trigger events used for sample-accurate note
// events.
type Output struct {
	Buffer []float64

	// TriggerMask marks the lanes that carry an event this block.
	TriggerMask lane.Mask
	// TriggerValue holds the event value per lane.
	TriggerValue [lane.MaxWidth]float64
	// TriggerOffset holds the sample offset of the event per lane.
	TriggerOffset [lane.MaxWidth]int

	owner  Processor
	index  int
	rate   Rate
	frames int
	lanes  int
}

// nullOutput backs unbound inputs: one frame of zeros wide enough for any
// lane width. Nothing ever writes to it.
var nullOutput = &Output{Buffer: make([]float64, lane.MaxWidth), rate: ControlRate, frames: 1, lanes: lane.MaxWidth}

// Owner returns the processor that writes this output.
func (o *Output) Owner() Processor { return o.owner }

// Index returns the port index on the owner.
func (o *Output) Index() int { return o.index }

// Frames returns the frame capacity of the buffer.
func (o *Output) Frames() int { return o.frames }

// Lanes returns the lanes per frame.
func (o *Output) Lanes() int { return o.lanes }

// Rate returns the rate the output is produced at.
func (o *Output) Rate() Rate { return o.rate }

// IsControlRate reports whether the buffer holds a single frame.
func (o *Output) IsControlRate() bool { return o.frames == 1 }

// At returns the value of lane in frame. Control-rate outputs return their
// single frame for every frame index.
func (o *Output) At(frame, ln int) float64 {
	if o.frames == 1 {
		frame = 0
	}

	return o.Buffer[frame*o.lanes+ln]
}

// Frame returns the lanes of one frame.
func (o *Output) Frame(frame int) []float64 {
	if o.frames == 1 {
		frame = 0
	}

	return o.Buffer[frame*o.lanes : (frame+1)*o.lanes]
}

// Fill writes v into every lane of the first n frames.
func (o *Output) Fill(v float64, n int) {
	n = o.clampFrames(n)
	for i := range o.Buffer[:n*o.lanes] {
		o.Buffer[i] = v
	}
}

// Clear zeroes the buffer and drops any triggers.
func (o *Output) Clear() {
	for i := range o.Buffer {
		o.Buffer[i] = 0
	}

	o.ClearTrigger()
}

// ClearTrigger drops all pending trigger events.
func (o *Output) ClearTrigger() {
	o.TriggerMask = 0
}

// Trigger records an event on the lanes in mask.
func (o *Output) Trigger(mask lane.Mask, value float64, offset int) {
	o.TriggerMask |= mask
	for ln := 0; ln < o.lanes; ln++ {
		if mask.Has(ln) {
			o.TriggerValue[ln] = value
			o.TriggerOffset[ln] = offset
		}
	}
}

func (o *Output) clampFrames(n int) int {
	if n > o.frames {
		return o.frames
	}

	if n < 0 {
		return 0
	}

	return n
}

func (o *Output) size(frames, lanes int) {
	o.frames = frames
	o.lanes = lanes
	o.Buffer = make([]float64, frames*lanes)
}

// Input is a processor's input port, bound to at most one upstream output.
type Input struct {
	src *Output
}

// Source returns the bound output. Unbound inputs read a shared zero
// control-rate output.
func (in *Input) Source() *Output {
	if in.src == nil {
		return nullOutput
	}

	return in.src
}

// Bound reports whether the input has an upstream output.
func (in *Input) Bound() bool { return in.src != nil }

// At returns the source value of lane in frame.
func (in *Input) At(frame, ln int) float64 {
	return in.Source().At(frame, ln)
}

// IsControlRate reports whether the source holds a single frame.
func (in *Input) IsControlRate() bool {
	return in.Source().IsControlRate()
}

// Limit bounds the magnitude of sanitized signals.
const Limit = 1e6

// Sanitize replaces non-finite values with zero and clamps the rest to
// ±Limit. It reports whether anything had to be corrected.
func Sanitize(buf []float64) bool {
	corrected := false

	for i, v := range buf {
		switch {
		case math.IsNaN(v) || math.IsInf(v, 0):
			buf[i] = 0
			corrected = true
		case v > Limit:
			buf[i] = Limit
			corrected = true
		case v < -Limit:
			buf[i] = -Limit
			corrected = true
		}
	}

	return corrected
}

// Voice event values carried by trigger outputs.
const (
	EventOn   = 1.0
	EventOff  = 2.0
	EventKill = 3.0
)
