package control

import (
	"slices"

	"github.com/cwbudde/algo-synth/dsp/graph"
	"github.com/cwbudde/algo-synth/dsp/processors"
)

// Control is a named parameter built by a Module.
type Control struct {
	details Details
	value   *processors.Value
	base    *graph.Output
	out     *graph.Output
	dest    *Destination
	poly    bool
}

// Details returns the parameter description.
func (c *Control) Details() Details { return c.details }

// Name returns the control name.
func (c *Control) Name() string { return c.details.Name }

// Value returns the stored value, before scaling and modulation.
func (c *Control) Value() float64 { return c.value.Get() }

// Set stores v clamped to the control's range. It is safe to call while the
// graph processes; the value is picked up at the next block.
func (c *Control) Set(v float64) { c.value.Set(c.details.Clamp(v)) }

// Reset restores the default value.
func (c *Control) Reset() { c.value.Set(c.details.Default) }

// Output returns the control's final output: the base value or modulated sum
// after scaling. Poly controls return the canonical per-voice output.
func (c *Control) Output() *graph.Output { return c.out }

// Base returns the unmodulated base output.
func (c *Control) Base() *graph.Output { return c.base }

// Destination returns the modulation destination, or nil for base controls.
func (c *Control) Destination() *Destination { return c.dest }

// IsPoly reports whether the control is modulated per voice.
func (c *Control) IsPoly() bool { return c.poly }

// Destination is the modulation input of a control. The control's switch is
// on exactly while at least one source is plugged.
type Destination struct {
	name    string
	wiring  Wiring
	sum     graph.Processor
	sw      *processors.Switch
	sources []*graph.Output
	poly    bool
}

func newDestination(name string, w Wiring, sum graph.Processor, base *graph.Output, rate graph.Rate, poly bool) *Destination {
	sw := processors.NewSwitch(rate)
	w.Add(sw)
	w.Connect(sw, processors.SwitchOff, base)
	w.Connect(sw, processors.SwitchOn, graph.BaseOf(sum).Output(0))
	sw.Gate(sum)

	return &Destination{name: name, wiring: w, sum: sum, sw: sw, poly: poly}
}

// Name returns the destination name.
func (d *Destination) Name() string { return d.name }

// IsPoly reports whether the destination is per voice.
func (d *Destination) IsPoly() bool { return d.poly }

// Wiring returns the router the destination's sum lives in.
func (d *Destination) Wiring() Wiring { return d.wiring }

// Plug adds out to the modulation sum and switches the sum in. Plugging an
// output twice has no effect.
func (d *Destination) Plug(out *graph.Output) {
	if slices.Contains(d.sources, out) {
		return
	}

	d.wiring.ConnectNext(d.sum, out)
	d.sources = append(d.sources, out)

	if len(d.sources) == 1 {
		d.sw.Set(true)
	}
}

// Unplug removes out from the modulation sum and bypasses the sum once
// nothing is plugged. It reports whether out was plugged.
func (d *Destination) Unplug(out *graph.Output) bool {
	i := slices.Index(d.sources, out)
	if i < 0 {
		return false
	}

	d.wiring.DisconnectSource(d.sum, out)
	d.sources = slices.Delete(d.sources, i, i+1)

	if len(d.sources) == 0 {
		d.sw.Set(false)
	}

	return true
}

// Connected returns the number of plugged sources.
func (d *Destination) Connected() int { return len(d.sources) }

// Active reports whether the modulation sum is switched in.
func (d *Destination) Active() bool { return d.sw.On() }

// Sources returns the plugged outputs.
func (d *Destination) Sources() []*graph.Output {
	return slices.Clone(d.sources)
}
