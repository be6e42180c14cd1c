package lane

import (
	"slices"
	"testing"

	"github.com/cwbudde/algo-vecmath/cpu"
)

func TestWidthFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		features cpu.Features
		want     int
	}{
		{name: "generic", features: cpu.Features{}, want: 2},
		{name: "forced generic", features: cpu.Features{HasAVX2: true, ForceGeneric: true}, want: 2},
		{name: "sse2", features: cpu.Features{HasSSE2: true}, want: 2},
		{name: "avx2", features: cpu.Features{HasSSE2: true, HasAVX: true, HasAVX2: true}, want: 4},
		{name: "avx512", features: cpu.Features{HasAVX2: true, HasAVX512: true}, want: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := WidthFor(tt.features); got != tt.want {
				t.Fatalf("WidthFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDetectIsValid(t *testing.T) {
	t.Parallel()

	if w := Detect(); !Valid(w) {
		t.Fatalf("Detect() = %d is not a valid width", w)
	}
}

func TestVoiceMask(t *testing.T) {
	t.Parallel()

	if got := VoiceMask(0); got != 0b0011 {
		t.Fatalf("VoiceMask(0) = %b", got)
	}

	if got := VoiceMask(1); got != 0b1100 {
		t.Fatalf("VoiceMask(1) = %b", got)
	}

	m := VoiceMask(1)
	if m.Has(0) || !m.Has(2) || !m.Has(3) {
		t.Fatalf("VoiceMask(1).Has mismatch: %b", m)
	}

	if m.Count() != 2 || m.First() != 2 {
		t.Fatalf("Count() = %d, First() = %d", m.Count(), m.First())
	}

	if Full(4) != 0b1111 {
		t.Fatalf("Full(4) = %b", Full(4))
	}

	if VoicesPer(8) != 4 || VoicesPer(2) != 1 {
		t.Fatal("VoicesPer mismatch")
	}

	if Valid(3) || Valid(16) || !Valid(4) {
		t.Fatal("Valid mismatch")
	}
}

func TestMaskLanes(t *testing.T) {
	t.Parallel()

	var got []int
	for ln := range (VoiceMask(0) | VoiceMask(2)).Lanes() {
		got = append(got, ln)
	}

	if want := []int{0, 1, 4, 5}; !slices.Equal(got, want) {
		t.Fatalf("Lanes() = %v, want %v", got, want)
	}

	for range Mask(0).Lanes() {
		t.Fatal("empty mask yielded a lane")
	}

	for ln := range Full(8).Lanes() {
		if ln == 3 {
			break
		}
	}
}
