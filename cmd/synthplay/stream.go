package main

import (
	"encoding/binary"
	"math"
	"sync"
)

// renderer fills interleaved stereo float32 frames.
type renderer interface {
	Render(dst []float32)
}

// stream adapts a renderer to the io.Reader an oto player pulls from.
type stream struct {
	mu  sync.Mutex
	src renderer
	buf []float32
}

func newStream(src renderer) *stream {
	return &stream{src: src}
}

// Read renders whole stereo frames as little-endian float32.
func (s *stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}

	need := 2 * frames
	if cap(s.buf) < need {
		s.buf = make([]float32, need)
	}

	s.buf = s.buf[:need]
	s.src.Render(s.buf)

	for i, v := range s.buf {
		binary.LittleEndian.PutUint32(p[4*i:], math.Float32bits(v))
	}

	return 8 * frames, nil
}
