package control

import (
	"fmt"
	"math"

	"github.com/meko-christian/algo-approx"
)

const ln2 = 0.693147180559945309417232121458

// ValueScale maps a control's stored value to the value its consumers see.
type ValueScale int

// Value scales.
const (
	Linear ValueScale = iota
	Indexed
	Quadratic
	Cubic
	Quartic
	SquareRoot
	Exponential
)

var scaleNames = map[ValueScale]string{
	Linear:      "linear",
	Indexed:     "indexed",
	Quadratic:   "quadratic",
	Cubic:       "cubic",
	Quartic:     "quartic",
	SquareRoot:  "sqrt",
	Exponential: "exp",
}

// String returns the scale name.
func (s ValueScale) String() string {
	if name, ok := scaleNames[s]; ok {
		return name
	}

	return "unknown"
}

// Details describes a control parameter.
type Details struct {
	Name    string
	Min     float64
	Max     float64
	Default float64
	Scale   ValueScale
	// PostOffset is added after the scale is applied.
	PostOffset float64
	// Display is the unit suffix used by Format.
	Display string
}

// Validate reports whether the details describe a usable range.
func (d Details) Validate() error {
	switch {
	case d.Name == "":
		return fmt.Errorf("control: %w", ErrEmptyName)
	case d.Min > d.Max:
		return fmt.Errorf("control: %s: min %g above max %g", d.Name, d.Min, d.Max)
	case d.Default < d.Min || d.Default > d.Max:
		return fmt.Errorf("control: %s: default %g outside [%g, %g]", d.Name, d.Default, d.Min, d.Max)
	}

	return nil
}

// Clamp limits v to the control range, rounding indexed controls.
func (d Details) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return d.Default
	}

	v = math.Max(d.Min, math.Min(d.Max, v))
	if d.Scale == Indexed {
		v = math.Round(v)
	}

	return v
}

// Shaped reports whether Apply changes values, so a shaping stage is needed.
func (d Details) Shaped() bool {
	return d.Scale != Linear || d.PostOffset != 0
}

// Apply maps a stored value through the scale and adds the post offset.
// Exponential is 2^v.
func (d Details) Apply(v float64) float64 {
	switch d.Scale {
	case Indexed:
		v = math.Round(v)
	case Quadratic:
		v *= v
	case Cubic:
		v = v * v * v
	case Quartic:
		v *= v
		v *= v
	case SquareRoot:
		v = approx.FastSqrt(math.Max(v, 0))
	case Exponential:
		v = approx.FastExp(v * ln2)
	}

	return v + d.PostOffset
}

// Format renders v after scaling, with the display suffix.
func (d Details) Format(v float64) string {
	return fmt.Sprintf("%.4g%s", d.Apply(v), d.Display)
}
