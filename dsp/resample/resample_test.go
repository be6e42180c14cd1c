package resample

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"
)

func response(taps []float64, f float64) float64 {
	var h complex128
	for i, v := range taps {
		h += complex(v, 0) * cmplx.Exp(complex(0, -2*math.Pi*f*float64(i)))
	}

	return cmplx.Abs(h)
}

func TestDecimationFilterShape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		factor        int
		opts          []Option
		taps          int
		minStopbandDB float64
	}{
		{name: "fast x2", factor: 2, opts: []Option{WithQuality(QualityFast)}, taps: 32, minStopbandDB: 30},
		{name: "balanced x4", factor: 4, taps: 128, minStopbandDB: 50},
		{name: "custom x2", factor: 2, opts: []Option{WithTapsPerPhase(16), WithCutoffScale(0.9), WithKaiserBeta(7.5)}, taps: 32, minStopbandDB: 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			taps, err := DecimationFilter(tt.factor, tt.opts...)
			if err != nil {
				t.Fatal(err)
			}

			if len(taps) != tt.taps {
				t.Fatalf("len = %d, want %d", len(taps), tt.taps)
			}

			if dc := response(taps, 0); math.Abs(dc-1) > 1e-12 {
				t.Fatalf("DC gain = %v", dc)
			}

			for i := range taps {
				if math.Abs(taps[i]-taps[len(taps)-1-i]) > 1e-12 {
					t.Fatalf("tap %d not symmetric", i)
				}
			}

			// Well inside the stopband: 0.75 of the output Nyquist onwards
			// reflected above it.
			stop := 1.5 * 0.5 / float64(tt.factor)
			if db := -20 * math.Log10(response(taps, stop)); db < tt.minStopbandDB {
				t.Fatalf("stopband attenuation %.1f dB < %.1f dB", db, tt.minStopbandDB)
			}
		})
	}
}

func TestDecimationFilterRejectsFactor(t *testing.T) {
	t.Parallel()

	if _, err := DecimationFilter(0); !errors.Is(err, ErrInvalidRatio) {
		t.Fatalf("err = %v", err)
	}
}

func TestI0(t *testing.T) {
	t.Parallel()

	// I0(0) = 1, I0(1) = 1.2660658777520082
	if got := i0(0); got != 1 {
		t.Fatalf("i0(0) = %v", got)
	}

	if got := i0(1); math.Abs(got-1.2660658777520082) > 1e-12 {
		t.Fatalf("i0(1) = %v", got)
	}
}
