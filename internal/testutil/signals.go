package testutil

// DC returns length samples of value.
func DC(value float64, length int) []float64 {
	out := make([]float64, length)
	for i := range out {
		out[i] = value
	}

	return out
}

// LaneOf extracts lane ln from frames frames of a frame-major buffer with
// lanes lanes per frame.
func LaneOf(buf []float64, lanes, ln, frames int) []float64 {
	out := make([]float64, frames)
	for f := range out {
		out[f] = buf[f*lanes+ln]
	}

	return out
}
