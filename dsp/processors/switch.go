package processors

import (
	"sync"
	"sync/atomic"

	"github.com/cwbudde/algo-synth/dsp/graph"
)

// Switch input indices.
const (
	SwitchOff = 0
	SwitchOn  = 1
)

// Switch forwards its SwitchOn input while on and its SwitchOff input while
// off. Processors registered with Gate are enabled only while the switch is
// on, so a modulation sum with nothing connected costs nothing. The selection
// is shared by every clone.
type Switch struct {
	graph.Base

	shared *switchShared
}

type switchShared struct {
	on atomic.Bool

	mu    sync.Mutex
	gated []graph.Processor
}

// NewSwitch returns a switch that starts off.
func NewSwitch(rate graph.Rate) *Switch {
	p := &Switch{shared: &switchShared{}}
	p.Init(p, 2, 1, rate)

	return p
}

// On reports whether the switch forwards the SwitchOn input.
func (p *Switch) On() bool {
	return p.shared.on.Load()
}

// Set selects the input and enables or disables the gated processors.
func (p *Switch) Set(on bool) {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()

	p.shared.on.Store(on)

	for _, g := range p.shared.gated {
		g.Enable(on)
	}
}

// Gate ties the enabled flag of proc to the switch.
func (p *Switch) Gate(proc graph.Processor) {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()

	p.shared.gated = append(p.shared.gated, proc)
	proc.Enable(p.shared.on.Load())
}

// Process implements graph.Processor.
func (p *Switch) Process(numSamples int) {
	src := p.Input(SwitchOff).Source()
	if p.On() {
		src = p.Input(SwitchOn).Source()
	}

	out := p.Output(0)
	copyInto(out.Buffer, src, p.Frames(numSamples), p.Lanes())
}

// Clone implements graph.Processor.
func (p *Switch) Clone() graph.Processor {
	c := *p
	c.CloneBase(&c)

	return &c
}
