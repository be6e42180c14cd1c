// Package biquad provides biquad (second-order IIR) filter runtime primitives.
//
// A [Section] implements Direct Form II Transposed processing for a single
// second-order section defined by [Coefficients]. Sections carry their own
// delay line, so a per-voice filter keeps one Section per lane.
//
// This package provides the processing runtime only. Coefficient design
// lives in dsp/filter/design.
package biquad
