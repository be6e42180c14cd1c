package dither

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Quantizer performs bit-depth quantization with optional dither noise
// and noise shaping.
type Quantizer struct {
	sampleRate      float64
	bitDepth        int
	ditherType      DitherType
	ditherAmplitude float64
	limit           bool
	shaper          NoiseShaper
	rng             *rand.Rand

	// derived from bitDepth
	bitMul  float64
	bitDiv  float64
	limitLo int
	limitHi int
}

// NewQuantizer creates a new Quantizer. The default configuration is:
// 16-bit, triangular dither, amplitude 1.0, limiting enabled,
// F-weighted 9th-order FIR noise shaper (Preset9FC).
func NewQuantizer(sampleRate float64, opts ...Option) (*Quantizer, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("dither: sample rate must be > 0 and finite: %f", sampleRate)
	}

	cfg := defaultConfig()

	for _, opt := range opts {
		if opt == nil {
			continue
		}

		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	shaper := cfg.shaper
	if shaper == nil {
		shaper = NewFIRShaper(Preset9FC.Coefficients())
	}

	quant := &Quantizer{
		sampleRate:      sampleRate,
		bitDepth:        cfg.bitDepth,
		ditherType:      cfg.ditherType,
		ditherAmplitude: cfg.ditherAmplitude,
		limit:           cfg.limit,
		shaper:          shaper,
		rng:             cfg.rng,
	}

	if quant.rng == nil {
		quant.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	quant.bitMul = math.Exp2(float64(quant.bitDepth-1)) - 0.5
	quant.bitDiv = 1.0 / quant.bitMul
	quant.limitLo = -int(math.Round(quant.bitMul + 0.5))
	quant.limitHi = int(math.Round(quant.bitMul - 0.5))

	return quant, nil
}

// ProcessInteger quantizes the input (expected in [-1, +1]) to an integer
// in the bit-depth range.
func (q *Quantizer) ProcessInteger(input float64) int {
	scaled := q.bitMul * input
	shaped := q.shaper.Shape(scaled)
	result := q.quantize(shaped)

	if q.limit {
		result = max(q.limitLo, min(q.limitHi, result))
	}

	q.shaper.RecordError(float64(result) - shaped)

	return result
}

// ProcessSample quantizes the input and returns a normalized float64
// in approximately [-1, +1].
func (q *Quantizer) ProcessSample(input float64) float64 {
	return (float64(q.ProcessInteger(input)) + 0.5) * q.bitDiv
}

// Reset clears the noise shaper history.
func (q *Quantizer) Reset() {
	q.shaper.Reset()
}

// quantize adds dither noise per the configured type and truncates toward
// negative infinity. Error feedback removes the truncation bias on average.
func (q *Quantizer) quantize(input float64) int {
	var noise float64

	switch q.ditherType {
	case DitherRectangular:
		noise = q.ditherAmplitude * (q.rng.Float64()*2 - 1)
	case DitherTriangular:
		noise = q.ditherAmplitude * (q.rng.Float64() - q.rng.Float64())
	case DitherGaussian:
		noise = q.ditherAmplitude * q.rng.NormFloat64()
	}

	return int(math.Floor(input + noise))
}

// BitDepth returns the target bit depth.
func (q *Quantizer) BitDepth() int { return q.bitDepth }

// DitherType returns the dither noise type.
func (q *Quantizer) DitherType() DitherType { return q.ditherType }

// SampleRate returns the configured sample rate.
func (q *Quantizer) SampleRate() float64 { return q.sampleRate }
