package processors

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-synth/dsp/graph"
	"github.com/cwbudde/algo-synth/dsp/lane"
	"github.com/cwbudde/algo-synth/internal/testutil"
)

func TestCutoffAndResonanceScales(t *testing.T) {
	t.Parallel()

	testutil.RequireNearlyEqual(t, CutoffToHz(0), 20, 1e-12)
	testutil.RequireNearlyEqual(t, CutoffToHz(0.5), 640, 1e-9)
	testutil.RequireNearlyEqual(t, CutoffToHz(1), 20480, 1e-9)
	testutil.RequireNearlyEqual(t, CutoffToHz(2), 20480, 1e-9)
	testutil.RequireNearlyEqual(t, ResonanceToQ(0), math.Sqrt2/2, 1e-12)
	testutil.RequireNearlyEqual(t, ResonanceToQ(1), 12, 1e-12)
}

func TestFilterDCResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode FilterMode
		want float64
	}{
		{Lowpass, 1},
		{Highpass, 0},
		{Bandpass, 0},
		{Notch, 1},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			t.Parallel()

			r := newTestRouter(48000)
			dc := NewConstant(graph.AudioRate, 1)
			cutoff := NewValue(0.5)
			f := NewFilter(tt.mode)

			r.Add(dc)
			r.Add(cutoff)
			r.Add(f)
			r.Connect(f, FilterAudio, dc.Output(0))
			r.Connect(f, FilterCutoff, cutoff.Output(0))

			for range 400 {
				r.Process(8)
			}

			testutil.RequireSliceNearlyEqual(t, lane0(f.Output(0), 8), testutil.DC(tt.want, 8), 1e-6)

			if f.Mode() != tt.mode {
				t.Fatalf("Mode = %v", f.Mode())
			}
		})
	}
}

func TestFilterResetClearsTriggeredLanes(t *testing.T) {
	t.Parallel()

	r := newTestRouter(48000)
	dc := NewConstant(graph.AudioRate, 1)
	f := NewFilter(Lowpass)
	trig := newTrigger()

	r.Add(dc)
	r.Add(trig)
	r.Add(f)
	r.Connect(f, FilterAudio, dc.Output(0))
	r.Connect(f, FilterReset, trig.Output(0))

	for range 50 {
		r.Process(8)
	}

	settled := f.Output(0).At(7, 1)

	trig.fire(lane.Mask(1), 1, 0)
	r.Process(8)

	// cutoff 0 is 20 Hz: a cleared lane restarts from silence
	if got := f.Output(0).At(0, 0); got >= settled || got > 1e-3 {
		t.Fatalf("reset lane = %v, settled %v", got, settled)
	}

	if got := f.Output(0).At(0, 1); got < settled {
		t.Fatalf("untouched lane = %v, want >= %v", got, settled)
	}
}

func TestFilterClonesKeepOwnState(t *testing.T) {
	t.Parallel()

	r := newTestRouter(48000)
	dc := NewConstant(graph.AudioRate, 1)
	f := NewFilter(Lowpass)
	r.Add(dc)
	r.Add(f)
	r.Connect(f, FilterAudio, dc.Output(0))

	for range 20 {
		r.Process(8)
	}

	c := r.CloneRouter()
	c.Process(8)

	clone := graph.BaseOf(c.Local(f)).Output(0)
	if clone.At(0, 0) >= f.Output(0).At(0, 0) {
		t.Fatalf("clone %v did not start from fresh state (original %v)", clone.At(0, 0), f.Output(0).At(0, 0))
	}
}

func TestFilterRecoversFromNonFiniteInput(t *testing.T) {
	t.Parallel()

	r := newTestRouter(48000)
	src := NewValue(math.NaN())
	f := NewFilter(Lowpass)
	r.Add(src)
	r.Add(f)
	r.Connect(f, FilterAudio, src.Output(0))

	r.Process(8)

	src.Set(0)
	r.Process(8)

	testutil.RequireSliceNearlyEqual(t, lane0(f.Output(0), 8), testutil.DC(0, 8), 0)
}
