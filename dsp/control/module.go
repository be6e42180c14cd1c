// Package control builds named, modulatable parameters on top of the
// processor graph.
//
// A control is a small subgraph: a settable base value, optionally smoothed;
// for modulatable controls a sum of the base and every plugged modulation
// source; a switch that bypasses the sum while nothing is plugged; and a
// shaping stage when the control's scale is not linear. Mono controls live
// entirely in the module's mono router. Poly controls keep their base value
// there and build the sum, switch and shaping stage in a voice handler's
// per-voice graph so that each voice can be modulated on its own.
//
// Modules form a tree. Lookups by name search the whole subtree.
package control

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/cwbudde/algo-synth/dsp/graph"
	"github.com/cwbudde/algo-synth/dsp/processors"
	"github.com/cwbudde/algo-synth/dsp/voice"
)

var (
	// ErrEmptyName is returned for controls without a name.
	ErrEmptyName = errors.New("empty name")
	// ErrUnknownControl is returned when no control has the requested name.
	ErrUnknownControl = errors.New("unknown control")
	// ErrUnknownSource is returned when no modulation source has the name.
	ErrUnknownSource = errors.New("unknown modulation source")
	// ErrUnknownDestination is returned when no destination has the name.
	ErrUnknownDestination = errors.New("unknown modulation destination")
)

// Wiring is the part of a router a module builds controls with. Both
// *graph.Router and *voice.Handler provide it.
type Wiring interface {
	Add(p graph.Processor)
	Connect(dst graph.Processor, index int, src *graph.Output) *graph.Output
	ConnectNext(dst graph.Processor, src *graph.Output) *graph.Output
	Disconnect(dst graph.Processor, index int)
	DisconnectSource(dst graph.Processor, src *graph.Output) bool
}

// Module owns a set of controls and modulation sources.
type Module struct {
	name string
	mono Wiring
	poly *voice.Handler

	parent     *Module
	submodules []*Module

	controls    map[string]*Control
	monoSources map[string]*graph.Output
	polySources map[string]*graph.Output
	monoDests   map[string]*Destination
	polyDests   map[string]*Destination
}

// New returns a module building mono processors in mono and per-voice
// processors in poly. poly may be nil for modules without poly controls.
func New(name string, mono Wiring, poly *voice.Handler) *Module {
	return &Module{
		name:        name,
		mono:        mono,
		poly:        poly,
		controls:    make(map[string]*Control),
		monoSources: make(map[string]*graph.Output),
		polySources: make(map[string]*graph.Output),
		monoDests:   make(map[string]*Destination),
		polyDests:   make(map[string]*Destination),
	}
}

// Name returns the module name.
func (m *Module) Name() string { return m.name }

// Mono returns the router mono processors are added to.
func (m *Module) Mono() Wiring { return m.mono }

// Poly returns the voice handler per-voice processors are added to, or nil.
func (m *Module) Poly() *voice.Handler { return m.poly }

// Parent returns the enclosing module, or nil.
func (m *Module) Parent() *Module { return m.parent }

// Submodules returns the direct children.
func (m *Module) Submodules() []*Module { return m.submodules }

// AddSubmodule attaches sub below m. Panics if sub already has a parent.
func (m *Module) AddSubmodule(sub *Module) {
	if sub.parent != nil {
		panic(fmt.Sprintf("control: module %q already has a parent", sub.name))
	}

	sub.parent = m
	m.submodules = append(m.submodules, sub)
}

// NewSubmodule creates a submodule sharing m's routers.
func (m *Module) NewSubmodule(name string) *Module {
	sub := New(name, m.mono, m.poly)
	m.AddSubmodule(sub)

	return sub
}

func rateFor(audio bool) graph.Rate {
	if audio {
		return graph.AudioRate
	}

	return graph.ControlRate
}

// mustCreate validates d and panics if the name is taken anywhere in the
// tree.
func (m *Module) mustCreate(d Details) {
	if err := d.Validate(); err != nil {
		panic(err.Error())
	}

	if m.root().Control(d.Name) != nil {
		panic(fmt.Sprintf("control: duplicate control %q", d.Name))
	}
}

func (m *Module) root() *Module {
	r := m
	for r.parent != nil {
		r = r.parent
	}

	return r
}

// base adds the settable value, and the smoother when requested, to the
// mono router.
func (m *Module) base(c *Control, smooth bool) *graph.Output {
	m.mono.Add(c.value)

	if !smooth {
		return c.value.Output(0)
	}

	s := processors.NewSmoothValue(processors.DefaultSmoothingCutoff)
	m.mono.Add(s)
	m.mono.Connect(s, 0, c.value.Output(0))

	return s.Output(0)
}

func shape(w Wiring, src *graph.Output, d Details, rate graph.Rate) *graph.Output {
	if !d.Shaped() {
		return src
	}

	s := processors.NewScale(rate, d.Apply)
	w.Add(s)
	w.Connect(s, 0, src)

	return s.Output(0)
}

// CreateBaseControl builds a plain settable control in the mono router.
// Smoothed controls run at audio rate.
func (m *Module) CreateBaseControl(d Details, audioRate, smooth bool) *Control {
	m.mustCreate(d)

	c := &Control{details: d, value: processors.NewValue(d.Default)}
	c.base = m.base(c, smooth)
	c.out = shape(m.mono, c.base, d, rateFor(audioRate || smooth))

	m.controls[d.Name] = c
	m.monoSources[d.Name] = c.out

	return c
}

// CreateMonoModControl builds a control in the mono router that is also a
// modulation destination. internalMod, when not nil, is plugged right away.
func (m *Module) CreateMonoModControl(d Details, audioRate, smooth bool, internalMod *graph.Output) *Control {
	m.mustCreate(d)

	rate := rateFor(audioRate || smooth)
	c := &Control{details: d, value: processors.NewValue(d.Default)}
	c.base = m.base(c, smooth)

	sum := processors.NewSum(rate, 1)
	m.mono.Add(sum)
	m.mono.Connect(sum, 0, c.base)

	c.dest = newDestination(d.Name, m.mono, sum, c.base, rate, false)
	c.out = shape(m.mono, c.dest.sw.Output(0), d, rate)

	m.controls[d.Name] = c
	m.monoSources[d.Name] = c.out
	m.monoDests[d.Name] = c.dest

	if internalMod != nil {
		c.dest.Plug(internalMod)
	}

	return c
}

// CreatePolyModControl builds a per-voice modulatable control. The base value
// lives in the mono router; the modulation sum, switch and shaping stage are
// added to the voice handler. With reset, a voice reset restarts the sum's
// interpolation at the current value. Panics if the module has no handler.
func (m *Module) CreatePolyModControl(d Details, audioRate, smooth bool, internalMod *graph.Output, reset bool) *Control {
	if m.poly == nil {
		panic(fmt.Sprintf("control: module %q has no voice handler", m.name))
	}

	m.mustCreate(d)

	rate := rateFor(audioRate || smooth)
	c := &Control{details: d, value: processors.NewValue(d.Default), poly: true}
	c.base = m.base(c, smooth)

	sum := processors.NewPolySum(rate)
	m.poly.Add(sum)

	if reset {
		m.poly.Connect(sum, processors.PolySumReset, m.poly.Output(voice.OutReset))
	}

	m.poly.ConnectNext(sum, c.base)

	c.dest = newDestination(d.Name, m.poly, sum, c.base, rate, true)
	c.out = shape(m.poly, c.dest.sw.Output(0), d, rate)

	m.controls[d.Name] = c
	m.polySources[d.Name] = c.out
	m.polyDests[d.Name] = c.dest

	if internalMod != nil {
		c.dest.Plug(internalMod)
	}

	return c
}

// RegisterSource exposes a mono output as a modulation source. Panics if the
// name is already a source.
func (m *Module) RegisterSource(name string, out *graph.Output) {
	m.mustNewSource(name)
	m.monoSources[name] = out
}

// RegisterPolySource exposes a per-voice output as a modulation source.
func (m *Module) RegisterPolySource(name string, out *graph.Output) {
	m.mustNewSource(name)
	m.polySources[name] = out
}

func (m *Module) mustNewSource(name string) {
	if name == "" {
		panic("control: empty source name")
	}

	if _, _, err := m.root().Source(name); err == nil {
		panic(fmt.Sprintf("control: duplicate source %q", name))
	}
}

// walk calls fn for m and every module below it, depth first.
func (m *Module) walk(fn func(*Module)) {
	fn(m)

	for _, sub := range m.submodules {
		sub.walk(fn)
	}
}

// Control returns the control called name, or nil.
func (m *Module) Control(name string) *Control {
	var found *Control

	m.walk(func(mod *Module) {
		if c, ok := mod.controls[name]; ok && found == nil {
			found = c
		}
	})

	return found
}

// Controls returns every control in the subtree by name.
func (m *Module) Controls() map[string]*Control {
	all := make(map[string]*Control)

	m.walk(func(mod *Module) {
		maps.Copy(all, mod.controls)
	})

	return all
}

// ValueOf returns the stored value of the control called name.
func (m *Module) ValueOf(name string) (float64, error) {
	c := m.Control(name)
	if c == nil {
		return 0, fmt.Errorf("control: %q: %w", name, ErrUnknownControl)
	}

	return c.Value(), nil
}

// SetValue stores v, clamped to the control's range, in the control called
// name.
func (m *Module) SetValue(name string, v float64) error {
	c := m.Control(name)
	if c == nil {
		return fmt.Errorf("control: %q: %w", name, ErrUnknownControl)
	}

	c.Set(v)

	return nil
}

// Source returns the output registered as modulation source name and whether
// it is per-voice.
func (m *Module) Source(name string) (*graph.Output, bool, error) {
	var (
		out  *graph.Output
		poly bool
	)

	m.walk(func(mod *Module) {
		if out != nil {
			return
		}

		if o, ok := mod.monoSources[name]; ok {
			out = o
		} else if o, ok := mod.polySources[name]; ok {
			out, poly = o, true
		}
	})

	if out == nil {
		return nil, false, fmt.Errorf("control: %q: %w", name, ErrUnknownSource)
	}

	return out, poly, nil
}

// MonoDestination returns the mono destination called name, or nil.
func (m *Module) MonoDestination(name string) *Destination {
	return m.findDestination(name, func(mod *Module) map[string]*Destination { return mod.monoDests })
}

// PolyDestination returns the per-voice destination called name, or nil.
func (m *Module) PolyDestination(name string) *Destination {
	return m.findDestination(name, func(mod *Module) map[string]*Destination { return mod.polyDests })
}

// Destination returns the destination called name, per-voice or mono.
func (m *Module) Destination(name string) (*Destination, error) {
	if d := m.PolyDestination(name); d != nil {
		return d, nil
	}

	if d := m.MonoDestination(name); d != nil {
		return d, nil
	}

	return nil, fmt.Errorf("control: %q: %w", name, ErrUnknownDestination)
}

func (m *Module) findDestination(name string, table func(*Module) map[string]*Destination) *Destination {
	var found *Destination

	m.walk(func(mod *Module) {
		if d, ok := table(mod)[name]; ok && found == nil {
			found = d
		}
	})

	return found
}

// Sources returns the names of every modulation source, sorted.
func (m *Module) Sources() []string {
	names := make(map[string]struct{})

	m.walk(func(mod *Module) {
		for n := range mod.monoSources {
			names[n] = struct{}{}
		}

		for n := range mod.polySources {
			names[n] = struct{}{}
		}
	})

	return slices.Sorted(maps.Keys(names))
}

// Destinations returns the names of every modulation destination, sorted.
func (m *Module) Destinations() []string {
	names := make(map[string]struct{})

	m.walk(func(mod *Module) {
		for n := range mod.monoDests {
			names[n] = struct{}{}
		}

		for n := range mod.polyDests {
			names[n] = struct{}{}
		}
	})

	return slices.Sorted(maps.Keys(names))
}
