// Package graph implements the processor graph at the core of the synthesizer:
// processors with typed ports, routers that own and order them, and feedback
// nodes that break cycles with a one-block delay.
//
// # Processors
//
// A Processor reads its inputs, each bound to one upstream Output, and writes
// its own outputs once per block. Concrete processors embed Base, which
// carries the ports and the state shared with clones:
//
//	type Gain struct {
//		graph.Base
//	}
//
//	func NewGain() *Gain {
//		g := &Gain{}
//		g.Init(g, 2, 1, graph.AudioRate)
//		return g
//	}
//
// # Routers
//
// A Router owns processors and keeps them in a topological order that is
// recomputed whenever a connection changes, so callers never schedule
// processors by hand. Connecting an output to a processor upstream of its
// owner closes a cycle; the router then inserts a Feedback node that delays
// the signal by one block, keeping the ordering graph acyclic while the
// audible signal path loops.
//
// Routers nest: a Router is itself a Processor. Clones of a router share its
// global order and re-synchronize their local copy lazily through a change
// counter, which is how one per-voice sub-graph is replicated across voices.
//
// # Real-time contract
//
// Process never allocates, blocks or fails. Structural edits (Add, Remove,
// Connect, Disconnect, SetOversampleAmount) may allocate and must not run
// concurrently with Process on the same graph.
package graph

import "github.com/cwbudde/algo-synth/dsp/lane"

// DefaultMaxBlock is the default largest block passed to Process, before
// oversampling.
const DefaultMaxBlock = 128

// DefaultSampleRate is the sample rate processors start with.
const DefaultSampleRate = 44100.0

// Format describes the buffer layout shared by every processor in a graph.
type Format struct {
	// Lanes is the number of parallel lanes per frame.
	Lanes int
	// MaxBlock is the largest number of samples per Process call at an
	// oversampling amount of 1.
	MaxBlock int
}

// DefaultFormat returns the format for the current CPU.
func DefaultFormat() Format {
	return Format{Lanes: lane.Detect(), MaxBlock: DefaultMaxBlock}
}

// Valid reports whether the format can size buffers.
func (f Format) Valid() bool {
	return lane.Valid(f.Lanes) && f.MaxBlock > 0
}

// Rate selects how many frames a processor produces per block.
type Rate int

const (
	// AudioRate processors produce one frame per sample.
	AudioRate Rate = iota
	// ControlRate processors produce one frame per block.
	ControlRate
)

// String returns the rate name.
func (r Rate) String() string {
	if r == ControlRate {
		return "control"
	}

	return "audio"
}

// Processor is a unit of computation in the graph. The interface is closed:
// implementations must embed Base.
type Processor interface {
	// Process produces numSamples frames (one for control-rate processors)
	// into the processor's outputs.
	Process(numSamples int)
	// Clone returns an independent copy with fresh output buffers whose
	// inputs point at the same sources as the original.
	Clone() Processor
	SetSampleRate(rate float64)
	SetOversampleAmount(n int)
	Enable(on bool)
	Enabled() bool

	base() *Base
}

// Subgraph is implemented by processors that own other processors.
type Subgraph interface {
	Processor
	// EachChild calls fn for every directly owned processor.
	EachChild(fn func(Processor))
}

// Preparer is implemented by processors that size internal state from the
// graph format. Prepare runs when the processor joins a graph, after it is
// cloned and after the oversampling amount changes; it must allocate fresh
// state rather than reuse slices that a clone may share with its original.
type Preparer interface {
	Prepare(f Format)
}

// TimeCorrector is implemented by tempo-following processors that can jump to
// an absolute time, e.g. after a host transport seek.
type TimeCorrector interface {
	CorrectToTime(seconds float64)
}

// state is shared by a processor and all of its clones.
type state struct {
	rate       Rate
	enabled    bool
	sampleRate float64
	oversample int
	format     Format
}

// Base carries the ports and shared state of a processor.
type Base struct {
	self    Processor
	origin  Processor
	parent  Processor
	state   *state
	inputs  []*Input
	outputs []*Output
}

// Init wires the base to the processor embedding it and creates its ports.
// Output buffers are sized once the processor joins a router.
func (b *Base) Init(self Processor, numInputs, numOutputs int, rate Rate) {
	b.self = self
	b.origin = self
	b.state = &state{
		rate:       rate,
		enabled:    true,
		sampleRate: DefaultSampleRate,
		oversample: 1,
	}

	b.inputs = make([]*Input, numInputs)
	for i := range b.inputs {
		b.inputs[i] = &Input{}
	}

	b.outputs = make([]*Output, numOutputs)
	for i := range b.outputs {
		b.outputs[i] = &Output{owner: self, index: i, rate: rate}
	}
}

func (b *Base) base() *Base { return b }

// Self returns the processor embedding this base.
func (b *Base) Self() Processor { return b.self }

// Origin returns the canonical processor this one was cloned from, or the
// processor itself if it is not a clone.
func (b *Base) Origin() Processor { return b.origin }

// Parent returns the subgraph that owns the processor, or nil.
func (b *Base) Parent() Processor { return b.parent }

// NumInputs returns the number of input ports.
func (b *Base) NumInputs() int { return len(b.inputs) }

// NumOutputs returns the number of output ports.
func (b *Base) NumOutputs() int { return len(b.outputs) }

// Input returns input port i.
func (b *Base) Input(i int) *Input { return b.inputs[i] }

// Output returns output port i.
func (b *Base) Output(i int) *Output { return b.outputs[i] }

// Rate returns the processing rate.
func (b *Base) Rate() Rate { return b.state.rate }

// IsControlRate reports whether the processor produces one frame per block.
func (b *Base) IsControlRate() bool { return b.state.rate == ControlRate }

// SampleRate returns the effective sample rate including oversampling.
func (b *Base) SampleRate() float64 {
	return b.state.sampleRate * float64(b.state.oversample)
}

// BaseSampleRate returns the sample rate before oversampling.
func (b *Base) BaseSampleRate() float64 { return b.state.sampleRate }

// Oversample returns the oversampling multiplier.
func (b *Base) Oversample() int { return b.state.oversample }

// Format returns the buffer format of the graph the processor belongs to.
func (b *Base) Format() Format { return b.state.format }

// Lanes returns the lanes per frame.
func (b *Base) Lanes() int { return b.state.format.Lanes }

// SetSampleRate sets the sample rate before oversampling.
func (b *Base) SetSampleRate(rate float64) {
	if rate > 0 {
		b.state.sampleRate = rate
	}
}

// SetOversampleAmount sets the oversampling multiplier and resizes
// audio-rate output buffers.
func (b *Base) SetOversampleAmount(n int) {
	if n < 1 {
		n = 1
	}

	b.state.oversample = n
	if b.state.format.Valid() {
		b.allocate(b.state.format)
	}
}

// Enable switches processing on or off. A disabled processor is skipped by
// its router and keeps its last output.
func (b *Base) Enable(on bool) { b.state.enabled = on }

// Enabled reports whether the processor is processed.
func (b *Base) Enabled() bool { return b.state.enabled }

// AddInput appends an unbound input port and returns it. Used by processors
// with a variable number of inputs.
func (b *Base) AddInput() *Input {
	in := &Input{}
	b.inputs = append(b.inputs, in)

	return in
}

// AddOutput appends an output port running at rate and returns it. Outputs
// may run at a different rate than their processor; voice handlers use this
// for per-voice control values next to accumulated audio.
func (b *Base) AddOutput(rate Rate) *Output {
	out := &Output{owner: b.self, index: len(b.outputs), rate: rate}
	b.outputs = append(b.outputs, out)

	if b.state.format.Valid() {
		out.size(b.outputFrames(out, b.state.format), b.state.format.Lanes)
	}

	return out
}

// CloneBase turns a shallow copy of a processor into an independent clone.
// Clone implementations call it on the copy:
//
//	func (g *Gain) Clone() graph.Processor {
//		c := *g
//		c.CloneBase(&c)
//		return &c
//	}
func (b *Base) CloneBase(self Processor) {
	b.self = self
	b.parent = nil

	inputs := make([]*Input, len(b.inputs))
	for i, in := range b.inputs {
		inputs[i] = &Input{src: in.src}
	}

	b.inputs = inputs

	outputs := make([]*Output, len(b.outputs))
	for i, out := range b.outputs {
		outputs[i] = &Output{owner: self, index: i, rate: out.rate}
		if out.Buffer != nil {
			outputs[i].size(out.frames, out.lanes)
			copy(outputs[i].Buffer, out.Buffer)
		}
	}

	b.outputs = outputs

	if p, ok := self.(Preparer); ok && b.state.format.Valid() {
		p.Prepare(b.state.format)
	}
}

// ClearOutputs zeroes every output buffer and trigger.
func (b *Base) ClearOutputs() {
	for _, out := range b.outputs {
		out.Clear()
	}
}

// Frames returns the number of frames an output of this processor holds for
// a block of numSamples samples.
func (b *Base) Frames(numSamples int) int {
	if b.state.rate == ControlRate {
		return 1
	}

	return numSamples
}

func (b *Base) outputFrames(out *Output, f Format) int {
	if out.rate == ControlRate {
		return 1
	}

	return f.MaxBlock * b.state.oversample
}

func (b *Base) allocate(f Format) {
	b.state.format = f

	for _, out := range b.outputs {
		frames := b.outputFrames(out, f)
		if out.frames != frames || out.lanes != f.Lanes {
			out.size(frames, f.Lanes)
		}
	}

	if p, ok := b.self.(Preparer); ok {
		p.Prepare(f)
	}
}

// allocateTree sizes p and, for subgraphs, everything below it.
func allocateTree(p Processor, f Format) {
	p.base().allocate(f)

	if sg, ok := p.(Subgraph); ok {
		sg.EachChild(func(c Processor) { allocateTree(c, f) })
	}
}

// BaseOf exposes the base of any processor.
func BaseOf(p Processor) *Base { return p.base() }

// Contains reports whether p is owned, directly or through nested
// subgraphs, by sg.
func Contains(sg, p Processor) bool {
	for q := p.base().parent; q != nil; q = q.base().parent {
		if q == sg {
			return true
		}
	}

	return false
}
