// Package interp provides fractional-position interpolation primitives used
// by table-lookup oscillators.
package interp
