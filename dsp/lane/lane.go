// Package lane describes how polyphonic voices are packed into the parallel
// lanes of a frame.
//
// Every buffer in the processing graph stores frames of Width lanes. A voice
// owns one stereo pair of adjacent lanes (left, right), so one frame carries
// Width/2 voices. Width is chosen from the SIMD features of the host CPU,
// treating a 64-bit float as the lane type:
//
//   - AVX-512: 8 lanes (4 voices per group)
//   - AVX/AVX2: 4 lanes (2 voices per group)
//   - SSE2/NEON or generic: 2 lanes (1 voice per group)
//
// Width 2 is the scalar-per-voice reference layout.
package lane

import (
	"iter"
	"math/bits"

	"github.com/cwbudde/algo-vecmath/cpu"
)

// Channels is the number of lanes one voice occupies.
const Channels = 2

// MaxWidth is the widest supported frame.
const MaxWidth = 8

// Detect returns the lane width for the current CPU.
func Detect() int {
	return WidthFor(cpu.DetectFeatures())
}

// WidthFor maps a feature set to a lane width.
func WidthFor(f cpu.Features) int {
	switch {
	case f.ForceGeneric:
		return 2
	case f.HasAVX512:
		return 8
	case f.HasAVX2, f.HasAVX:
		return 4
	default:
		return 2
	}
}

// Valid reports whether width is a supported lane width.
func Valid(width int) bool {
	return width >= Channels && width <= MaxWidth && width%Channels == 0
}

// VoicesPer returns how many voices share a frame of the given width.
func VoicesPer(width int) int {
	return width / Channels
}

// Mask is a set of lanes.
type Mask uint64

// VoiceMask returns the lanes of the voice at index within its group.
func VoiceMask(index int) Mask {
	return Mask(1<<Channels-1) << (index * Channels)
}

// Full returns the mask covering every lane of width.
func Full(width int) Mask {
	return Mask(1)<<width - 1
}

// Has reports whether lane is in the mask.
func (m Mask) Has(lane int) bool {
	return m&(1<<lane) != 0
}

// Count returns the number of lanes in the mask.
func (m Mask) Count() int {
	return bits.OnesCount64(uint64(m))
}

// First returns the lowest lane in the mask, or -1 if empty.
func (m Mask) First() int {
	if m == 0 {
		return -1
	}

	return bits.TrailingZeros64(uint64(m))
}

// Lanes yields the lanes in the mask in ascending order.
func (m Mask) Lanes() iter.Seq[int] {
	return func(yield func(int) bool) {
		for rest := m; rest != 0; rest &= rest - 1 {
			if !yield(bits.TrailingZeros64(uint64(rest))) {
				return
			}
		}
	}
}
