package resample

import (
	"errors"
	"fmt"
	"math"
)

// designLowpass returns an n-tap Kaiser-windowed sinc low-pass with cutoff
// fc in cycles per sample, normalized to unity DC gain.
func designLowpass(n int, fc, beta float64) ([]float64, error) {
	if n <= 0 {
		return nil, errors.New("resample: taps per phase must be > 0")
	}

	if fc <= 0 || fc >= 0.5 {
		return nil, fmt.Errorf("resample: invalid cutoff %.6f", fc)
	}

	taps := make([]float64, n)

	center := 0.5 * float64(n-1)
	for i := range n {
		t := float64(i) - center
		taps[i] = 2 * fc * sinc(2*fc*t) * kaiserWindow(i, n, beta)
	}

	var sum float64
	for _, v := range taps {
		sum += v
	}

	if sum == 0 {
		return nil, errors.New("resample: designed zero-sum filter")
	}

	for i := range taps {
		taps[i] /= sum
	}

	return taps, nil
}

func sinc(x float64) float64 {
	if math.Abs(x) < 1e-12 {
		return 1
	}

	pix := math.Pi * x

	return math.Sin(pix) / pix
}

func kaiserWindow(i, n int, beta float64) float64 {
	if n <= 1 || beta == 0 {
		return 1
	}

	t := 2*float64(i)/float64(n-1) - 1
	a := math.Sqrt(math.Max(0, 1-t*t))

	return i0(beta*a) / i0(beta)
}

func i0(x float64) float64 {
	// Power series approximation.
	sum := 1.0
	term := 1.0

	x2 := (x * x) / 4
	for k := 1; k < 64; k++ {
		term *= x2 / float64(k*k)

		sum += term
		if term < 1e-16*sum {
			break
		}
	}

	return sum
}
