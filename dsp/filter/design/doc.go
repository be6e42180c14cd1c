// Package design provides digital IIR filter coefficient designers.
//
// The functions in this package produce RBJ cookbook biquad coefficients
// consumable by dsp/filter/biquad for runtime processing. Designers return
// zero coefficients when the frequency lies outside (0, Nyquist).
package design
