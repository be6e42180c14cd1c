// Package processors provides the small building blocks the synthesizer
// graph is assembled from: settable values, sums, switches, shaping stages and
// a handful of signal sources.
//
// Every processor works on frames of lanes as described in package lane.
// Control-rate inputs feeding audio-rate processors are broadcast to every
// frame of the block.
package processors

import (
	"github.com/cwbudde/algo-synth/dsp/graph"
	"github.com/cwbudde/algo-vecmath"
)

// addInto adds frames frames of src to dst.
func addInto(dst []float64, src *graph.Output, frames, lanes int) {
	if frames == 1 || src.IsControlRate() {
		row := src.Frame(0)[:lanes]
		for f := range frames {
			vecmath.AddBlockInPlace(dst[f*lanes:(f+1)*lanes], row)
		}

		return
	}

	vecmath.AddBlockInPlace(dst[:frames*lanes], src.Buffer[:frames*lanes])
}

// copyInto copies frames frames of src to dst.
func copyInto(dst []float64, src *graph.Output, frames, lanes int) {
	if frames == 1 || src.IsControlRate() {
		row := src.Frame(0)[:lanes]
		for f := range frames {
			copy(dst[f*lanes:(f+1)*lanes], row)
		}

		return
	}

	copy(dst[:frames*lanes], src.Buffer[:frames*lanes])
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

// flushDenormals converts tiny values to exact zero.
func flushDenormals(x float64) float64 {
	const epsilon = 1e-30
	if x > -epsilon && x < epsilon {
		return 0
	}

	return x
}
