// Package modmatrix connects named modulation sources to named control
// destinations through a fixed bank of connection processors.
//
// The bank creates all of its connection processors up front, disabled, in
// the module's mono router and, when the module has a voice handler, in its
// per-voice graph. Connecting a pair enables a free processor, binds it to
// the source and plugs it into the destination; disconnecting undoes exactly
// that, so a destination with nothing plugged returns to its unmodulated
// output.
package modmatrix

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-synth/dsp/control"
	"github.com/cwbudde/algo-synth/dsp/graph"
)

// DefaultMaxConnections is the bank size used when none is given.
const DefaultMaxConnections = 64

var (
	// ErrNoFreeConnection is returned when every connection is in use.
	ErrNoFreeConnection = errors.New("no free modulation connection")
	// ErrAlreadyConnected is returned when the pair is already connected.
	ErrAlreadyConnected = errors.New("modulation already connected")
	// ErrNotConnected is returned when the pair is not connected.
	ErrNotConnected = errors.New("modulation not connected")
	// ErrPolySourceToMono is returned when a per-voice source targets a mono
	// destination.
	ErrPolySourceToMono = errors.New("per-voice source cannot modulate a mono destination")
)

// Connection describes one modulation routing.
type Connection struct {
	Source      string
	Destination string
	Amount      float64
	Bipolar     bool
	Stereo      bool
	Bypass      bool
	// Curve bends the source before scaling; 0 is linear.
	Curve float64
}

type slot struct {
	proc   *Modulation
	wiring control.Wiring
	dest   *control.Destination
	conn   Connection
	used   bool
}

func (s *slot) apply(c Connection) {
	s.conn = c

	prm := s.proc.params
	prm.amount = c.Amount
	prm.bipolar = c.Bipolar
	prm.stereo = c.Stereo
	prm.bypass = c.Bypass
	prm.setCurve(c.Curve)
}

// Bank manages the modulation connections of a module tree. It is not safe
// for concurrent use; edits are structural graph changes and must be
// serialized with processing.
type Bank struct {
	module *control.Module
	max    int

	mono   []*slot
	poly   []*slot
	active []*slot
}

// NewBank creates maxConnections placeholder connections in each of m's
// graphs. A non-positive maxConnections selects DefaultMaxConnections.
func NewBank(m *control.Module, maxConnections int) *Bank {
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}

	b := &Bank{module: m, max: maxConnections}
	b.mono = makeSlots(m.Mono(), maxConnections)

	if h := m.Poly(); h != nil {
		b.poly = makeSlots(h, maxConnections)
	}

	return b
}

func makeSlots(w control.Wiring, n int) []*slot {
	slots := make([]*slot, n)

	for i := range slots {
		proc := newModulation()
		w.Add(proc)
		proc.Enable(false)
		slots[i] = &slot{proc: proc, wiring: w}
	}

	return slots
}

// Max returns the number of connections the bank can hold.
func (b *Bank) Max() int { return b.max }

// Len returns the number of active connections.
func (b *Bank) Len() int { return len(b.active) }

// Connect routes source to destination with amount 1, unipolar and linear.
func (b *Bank) Connect(source, destination string) error {
	return b.ConnectWith(Connection{Source: source, Destination: destination, Amount: 1})
}

// ConnectWith routes c.Source to c.Destination with c's settings.
func (b *Bank) ConnectWith(c Connection) error {
	if b.find(c.Source, c.Destination) != nil {
		return fmt.Errorf("modmatrix: %s -> %s: %w", c.Source, c.Destination, ErrAlreadyConnected)
	}

	out, polySource, err := b.module.Source(c.Source)
	if err != nil {
		return fmt.Errorf("modmatrix: %w", err)
	}

	dest, err := b.module.Destination(c.Destination)
	if err != nil {
		return fmt.Errorf("modmatrix: %w", err)
	}

	if polySource && !dest.IsPoly() {
		return fmt.Errorf("modmatrix: %s -> %s: %w", c.Source, c.Destination, ErrPolySourceToMono)
	}

	if len(b.active) >= b.max {
		return fmt.Errorf("modmatrix: %s -> %s: %w", c.Source, c.Destination, ErrNoFreeConnection)
	}

	pool := b.mono
	if dest.IsPoly() {
		pool = b.poly
	}

	s := freeSlot(pool)
	if s == nil {
		return fmt.Errorf("modmatrix: %s -> %s: %w", c.Source, c.Destination, ErrNoFreeConnection)
	}

	s.apply(c)
	s.wiring.Connect(s.proc, 0, out)
	s.proc.Enable(true)
	s.dest = dest
	s.used = true
	dest.Plug(s.proc.Output(0))

	b.active = append(b.active, s)

	return nil
}

func freeSlot(pool []*slot) *slot {
	for _, s := range pool {
		if !s.used {
			return s
		}
	}

	return nil
}

// Disconnect removes the routing from source to destination.
func (b *Bank) Disconnect(source, destination string) error {
	s := b.find(source, destination)
	if s == nil {
		return fmt.Errorf("modmatrix: %s -> %s: %w", source, destination, ErrNotConnected)
	}

	s.dest.Unplug(s.proc.Output(0))
	s.wiring.Disconnect(s.proc, 0)
	s.proc.Enable(false)
	s.dest = nil
	s.used = false

	for i, a := range b.active {
		if a == s {
			b.active = append(b.active[:i], b.active[i+1:]...)

			break
		}
	}

	return nil
}

// DisconnectAll removes every routing.
func (b *Bank) DisconnectAll() {
	for len(b.active) > 0 {
		c := b.active[len(b.active)-1].conn
		_ = b.Disconnect(c.Source, c.Destination)
	}
}

func (b *Bank) find(source, destination string) *slot {
	for _, s := range b.active {
		if s.conn.Source == source && s.conn.Destination == destination {
			return s
		}
	}

	return nil
}

// Find returns the settings of the routing from source to destination.
func (b *Bank) Find(source, destination string) (Connection, bool) {
	if s := b.find(source, destination); s != nil {
		return s.conn, true
	}

	return Connection{}, false
}

// Active returns the active connections in the order they were made.
func (b *Bank) Active() []Connection {
	conns := make([]Connection, len(b.active))
	for i, s := range b.active {
		conns[i] = s.conn
	}

	return conns
}

// Output returns the modulation output of the routing, as plugged into the
// destination. Per-voice routings return the canonical output.
func (b *Bank) Output(source, destination string) *graph.Output {
	if s := b.find(source, destination); s != nil {
		return s.proc.Output(0)
	}

	return nil
}

func (b *Bank) update(source, destination string, fn func(*Connection)) error {
	s := b.find(source, destination)
	if s == nil {
		return fmt.Errorf("modmatrix: %s -> %s: %w", source, destination, ErrNotConnected)
	}

	c := s.conn
	fn(&c)
	s.apply(c)

	return nil
}

// SetAmount sets the scale of a routing.
func (b *Bank) SetAmount(source, destination string, amount float64) error {
	return b.update(source, destination, func(c *Connection) { c.Amount = amount })
}

// SetBipolar maps the routing's source to [-1, 1] instead of [0, 1].
func (b *Bank) SetBipolar(source, destination string, on bool) error {
	return b.update(source, destination, func(c *Connection) { c.Bipolar = on })
}

// SetStereo negates the routing on right lanes.
func (b *Bank) SetStereo(source, destination string, on bool) error {
	return b.update(source, destination, func(c *Connection) { c.Stereo = on })
}

// SetBypass silences the routing without disconnecting it.
func (b *Bank) SetBypass(source, destination string, on bool) error {
	return b.update(source, destination, func(c *Connection) { c.Bypass = on })
}

// SetCurve sets the bend applied to the routing's source.
func (b *Bank) SetCurve(source, destination string, curve float64) error {
	return b.update(source, destination, func(c *Connection) { c.Curve = curve })
}
