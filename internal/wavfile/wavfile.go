// Package wavfile writes interleaved float32 audio as RIFF/WAVE files,
// either as IEEE float or as dithered 16-bit PCM.
package wavfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/cwbudde/algo-synth/dsp/dither"
)

// Format selects the sample encoding.
type Format int

const (
	// Float32 stores IEEE float samples (format tag 3).
	Float32 Format = iota
	// PCM16 stores dithered signed 16-bit integers (format tag 1).
	PCM16
)

// String returns the name of the format.
func (f Format) String() string {
	switch f {
	case Float32:
		return "float32"
	case PCM16:
		return "pcm16"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat parses the names returned by Format.String.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "float32", "float":
		return Float32, nil
	case "pcm16", "16":
		return PCM16, nil
	default:
		return 0, fmt.Errorf("wavfile: unknown format %q", s)
	}
}

// ErrInvalidHeader is returned for non-positive rates or channel counts.
var ErrInvalidHeader = errors.New("wavfile: invalid header")

// Write encodes samples (interleaved, channels per frame) to w.
func Write(w io.Writer, samples []float32, sampleRate, channels int, format Format) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("%w: rate %d, channels %d", ErrInvalidHeader, sampleRate, channels)
	}

	var err error

	switch format {
	case Float32:
		err = writeFloat(w, samples, sampleRate, channels)
	case PCM16:
		err = writePCM16(w, samples, sampleRate, channels)
	default:
		err = fmt.Errorf("wavfile: unknown format %d", int(format))
	}

	if err != nil {
		return fmt.Errorf("wavfile: %w", err)
	}

	return nil
}

func writeFloat(w io.Writer, samples []float32, sampleRate, channels int) error {
	frames := len(samples) / channels
	dataSize := 4 * len(samples)

	header := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(50 + dataSize),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(18),
		uint16(3),
		uint16(channels),
		uint32(sampleRate),
		uint32(sampleRate * channels * 4),
		uint16(channels * 4),
		uint16(32),
		uint16(0),
		[4]byte{'f', 'a', 'c', 't'},
		uint32(4),
		uint32(frames),
		[4]byte{'d', 'a', 't', 'a'},
		uint32(dataSize),
	}

	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	return binary.Write(w, binary.LittleEndian, samples)
}

// pcm16Options configures the per-channel quantizers: triangular dither and
// first-order error feedback, which keeps silence within a few LSB.
var pcm16Options = []dither.Option{
	dither.WithBitDepth(16),
	dither.WithDitherType(dither.DitherTriangular),
	dither.WithFIRPreset(dither.PresetEFB),
}

func writePCM16(w io.Writer, samples []float32, sampleRate, channels int, opts ...dither.Option) error {
	quantizers := make([]*dither.Quantizer, channels)
	for ch := range quantizers {
		q, err := dither.NewQuantizer(float64(sampleRate), slices.Concat(pcm16Options, opts)...)
		if err != nil {
			return err
		}

		quantizers[ch] = q
	}

	dataSize := 2 * len(samples)

	header := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + dataSize),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(1),
		uint16(channels),
		uint32(sampleRate),
		uint32(sampleRate * channels * 2),
		uint16(channels * 2),
		uint16(16),
		[4]byte{'d', 'a', 't', 'a'},
		uint32(dataSize),
	}

	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	ints := make([]int16, len(samples))
	for i, v := range samples {
		ints[i] = int16(quantizers[i%channels].ProcessInteger(float64(v)))
	}

	return binary.Write(w, binary.LittleEndian, ints)
}
