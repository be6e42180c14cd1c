package biquad

import (
	"math/cmplx"
	"testing"
)

func TestMagnitudeSquaredMatchesResponse(t *testing.T) {
	t.Parallel()

	c := traced()
	for _, hz := range []float64{0, 100, 1000, 10000, 23999} {
		h := c.Response(hz, 48000)
		want := real(h)*real(h) + imag(h)*imag(h)

		if got := c.MagnitudeSquared(hz, 48000); !almostEqual(got, want, 1e-9) {
			t.Errorf("%v Hz: MagnitudeSquared = %v, |H|^2 = %v", hz, got, want)
		}
	}

	// DC gain of the traced section is sum(b) / sum(1, a).
	if got := cmplx.Abs(c.Response(0, 48000)); !almostEqual(got, 1/0.84, 1e-12) {
		t.Errorf("DC gain = %v, want %v", got, 1/0.84)
	}
}
