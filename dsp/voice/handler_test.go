package voice

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/cwbudde/algo-synth/dsp/graph"
	"github.com/cwbudde/algo-synth/dsp/processors"
	"github.com/cwbudde/algo-synth/internal/testutil"
)

const block = 16

var (
	monoFormat = graph.Format{Lanes: 2, MaxBlock: block}
	wideFormat = graph.Format{Lanes: 4, MaxBlock: block}
)

// recorder records the trigger events of its input. Clones share the log.
type recorder struct {
	graph.Base

	log *[]triggerEvent
}

type triggerEvent struct {
	lane   int
	value  float64
	offset int
}

func newRecorder() *recorder {
	p := &recorder{log: new([]triggerEvent)}
	p.Init(p, 1, 1, graph.ControlRate)

	return p
}

func (p *recorder) Process(int) {
	src := p.Input(0).Source()

	for ln := 0; ln < p.Lanes(); ln++ {
		if src.TriggerMask.Has(ln) {
			*p.log = append(*p.log, triggerEvent{lane: ln, value: src.TriggerValue[ln], offset: src.TriggerOffset[ln]})
		}
	}
}

func (p *recorder) Clone() graph.Processor {
	c := *p
	c.CloneBase(&c)

	return &c
}

func voiceFor(h *Handler, note int) *Voice {
	for _, v := range h.Voices() {
		if v.Active() && v.Note() == note {
			return v
		}
	}

	return nil
}

func soundingNotes(h *Handler) map[int]bool {
	notes := make(map[int]bool)

	for _, v := range h.Voices() {
		if v.Sounding() {
			notes[v.Note()] = true
		}
	}

	return notes
}

func requireConserved(t *testing.T, h *Handler) {
	t.Helper()

	if got := h.free.Len() + h.active.Len(); got != h.Polyphony() {
		t.Fatalf("free %d + active %d != polyphony %d", h.free.Len(), h.active.Len(), h.Polyphony())
	}

	for _, v := range h.Voices() {
		inFree, inActive := h.free.Contains(v), h.active.Contains(v)
		if inFree && inActive {
			t.Fatalf("voice %d is both free and active", v.ID())
		}

		if inFree && v.Active() {
			t.Fatalf("free voice %d is %v", v.ID(), v.State())
		}

		if inActive && !v.Active() {
			t.Fatalf("active voice %d is dead", v.ID())
		}
	}

	sounding := 0

	for _, v := range h.Voices() {
		if v.Sounding() {
			sounding++
		}
	}

	if sounding > h.Polyphony() {
		t.Fatalf("%d sounding voices exceed polyphony %d", sounding, h.Polyphony())
	}
}

func TestNoteOnTriggersVoice(t *testing.T) {
	t.Parallel()

	h := NewHandler(monoFormat, 4)
	p := newRecorder()
	h.Add(p)
	h.Connect(p, 0, h.Output(OutVoiceEvent))

	h.NoteOn(60, 0.8, 3, 0)

	v := voiceFor(h, 60)
	if v == nil || v.State() != Triggering {
		t.Fatalf("voice after NoteOn = %+v", v)
	}

	h.Process(block)

	if v.State() != Held {
		t.Fatalf("state after processing = %v, want held", v.State())
	}

	log := *p.log
	if len(log) != 2 {
		t.Fatalf("events = %+v, want one per lane", log)
	}

	for _, e := range log {
		if e.value != graph.EventOn || e.offset != 3 {
			t.Fatalf("event = %+v, want on at 3", e)
		}
	}
}

func TestDeferredEventCarriesOver(t *testing.T) {
	t.Parallel()

	h := NewHandler(monoFormat, 2)
	p := newRecorder()
	h.Add(p)
	h.Connect(p, 0, h.Output(OutVoiceEvent))

	h.NoteOn(60, 1, block+4, 0)
	h.Process(block)

	v := voiceFor(h, 60)
	if len(*p.log) != 0 {
		t.Fatalf("event fired early: %+v", *p.log)
	}

	if ev, off := v.Event(); ev != EventOn || off != 4 {
		t.Fatalf("pending event = %v at %d, want on at 4", ev, off)
	}

	h.Process(block)

	if len(*p.log) == 0 || (*p.log)[0].offset != 4 {
		t.Fatalf("events = %+v, want on at 4", *p.log)
	}

	if v.State() != Held {
		t.Fatalf("state = %v, want held", v.State())
	}
}

func TestKillOverrideReassignsOnRelease(t *testing.T) {
	t.Parallel()

	h := NewHandler(monoFormat, 1)
	h.SetVoiceOverride(Kill)

	h.NoteOn(60, 1, 0, 0)
	h.Process(block)
	h.NoteOn(64, 1, 0, 0)

	if h.NumActiveVoices() != 1 {
		t.Fatalf("active voices = %d, want 1", h.NumActiveVoices())
	}

	v := voiceFor(h, 64)
	if v == nil || !v.reset || !v.retrigger {
		t.Fatalf("stolen voice = %+v, want reset and retrigger", v)
	}

	h.Process(block)
	h.NoteOff(64, 0, 5, 0)

	if v.Note() != 60 || v.State() != Triggering {
		t.Fatalf("voice after release = note %d %v, want 60 triggering", v.Note(), v.State())
	}

	if ev, off := v.Event(); ev != EventOn || off != 5 {
		t.Fatalf("event = %v at %d, want on at 5", ev, off)
	}

	if v.reset || !v.retrigger {
		t.Fatal("reassigned voice must retrigger without reset")
	}
}

func TestStealPrefersReleasedVoices(t *testing.T) {
	t.Parallel()

	h := NewHandler(monoFormat, 2)
	h.SetVoiceOverride(Steal)

	h.NoteOn(60, 1, 0, 0)
	h.NoteOn(62, 1, 0, 0)
	h.NoteOff(60, 0, 0, 0)
	h.NoteOn(64, 1, 0, 0)

	got := soundingNotes(h)
	if !got[62] || !got[64] || len(got) != 2 {
		t.Fatalf("sounding = %v, want 62 and 64", got)
	}

	if v := voiceFor(h, 64); v.reset {
		t.Fatal("stolen voice was reset")
	}
}

func TestPriorityDecidesStolenVoice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		priority Priority
		want     []int
	}{
		{Newest, []int{64, 62}},
		{RoundRobin, []int{64, 62}},
		{Oldest, []int{60, 62}},
		{Highest, []int{64, 62}},
		{Lowest, []int{60, 62}},
	}

	for _, tt := range tests {
		t.Run(tt.priority.String(), func(t *testing.T) {
			t.Parallel()

			h := NewHandler(monoFormat, 2)
			h.SetVoiceOverride(Steal)
			h.SetVoicePriority(tt.priority)

			h.NoteOn(60, 1, 0, 0)
			h.NoteOn(64, 1, 0, 0)
			h.NoteOn(62, 1, 0, 0)

			got := soundingNotes(h)
			for _, n := range tt.want {
				if !got[n] {
					t.Fatalf("sounding = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestParsePriorityAndOverride(t *testing.T) {
	t.Parallel()

	for _, p := range []Priority{Newest, Oldest, Highest, Lowest, RoundRobin} {
		got, err := ParsePriority(p.String())
		if err != nil || got != p {
			t.Fatalf("ParsePriority(%q) = %v, %v", p.String(), got, err)
		}
	}

	if _, err := ParsePriority("loudest"); err == nil {
		t.Fatal("unknown priority parsed")
	}

	if o, err := ParseOverride("steal"); err != nil || o != Steal {
		t.Fatalf("ParseOverride(steal) = %v, %v", o, err)
	}

	if _, err := ParseOverride("drop"); err == nil {
		t.Fatal("unknown override parsed")
	}
}

func TestLegatoSkipsRetrigger(t *testing.T) {
	t.Parallel()

	h := NewHandler(monoFormat, 1)
	h.SetLegato(true)

	h.NoteOn(60, 1, 0, 0)
	h.Process(block)
	h.NoteOn(62, 1, 0, 0)

	v := voiceFor(h, 62)
	if v.retrigger || v.reset {
		t.Fatalf("legato voice retrigger=%v reset=%v", v.retrigger, v.reset)
	}

	if v.lastNote != 60 {
		t.Fatalf("last note = %v, want 60", v.lastNote)
	}
}

func TestLegatoKeepsEnvelopeLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		legato bool
		rises  bool
	}{
		{name: "legato", legato: true, rises: false},
		{name: "retrigger", legato: false, rises: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewHandler(monoFormat, 1)
			h.SetSampleRate(1000)
			h.SetLegato(tt.legato)

			env := processors.NewEnvelope()
			stage := processors.NewConstant(graph.ControlRate, 0.01)
			sustain := processors.NewConstant(graph.ControlRate, 0.5)

			h.Add(env)
			h.Add(stage)
			h.Add(sustain)
			h.Connect(env, processors.EnvelopeTrigger, h.Output(OutVoiceEvent))
			h.Connect(env, processors.EnvelopeRetrigger, h.Output(OutRetrigger))
			h.Connect(env, processors.EnvelopeAttack, stage.Output(0))
			h.Connect(env, processors.EnvelopeDecay, stage.Output(0))
			h.Connect(env, processors.EnvelopeSustain, sustain.Output(0))
			out := h.RegisterOutput(env.Output(0))

			h.NoteOn(60, 1, 0, 0)
			for range 4 {
				h.Process(block)
			}

			testutil.RequireNearlyEqual(t, out.At(block-1, 0), 0.5, 1e-12)

			h.NoteOn(62, 1, 0, 0)
			h.Process(block)

			peak := 0.0
			for f := range block {
				peak = max(peak, out.At(f, 0))
			}

			if rose := peak > 0.5+1e-9; rose != tt.rises {
				t.Fatalf("peak after second note = %v, rises = %v, want %v", peak, rose, tt.rises)
			}
		})
	}
}

func TestFreedVoiceTakesHeldKeyVelocity(t *testing.T) {
	t.Parallel()

	h := NewHandler(monoFormat, 1)
	h.NoteOn(60, 0.3, 0, 0)
	h.NoteOn(64, 0.9, 0, 1)
	h.Process(block)

	if got := h.PressedNotes(); len(got) != 2 || got[0] != (Key{60, 0}) || got[1] != (Key{64, 1}) {
		t.Fatalf("pressed = %v", got)
	}

	h.NoteOff(64, 0, 0, 1)

	v := voiceFor(h, 60)
	if v == nil || v.Velocity() != 0.3 {
		t.Fatalf("voice for held key = %+v, want velocity 0.3", v)
	}

	if got := h.PressedNotes(); len(got) != 1 || got[0] != (Key{60, 0}) {
		t.Fatalf("pressed after release = %v", got)
	}
}

func TestSustainPedal(t *testing.T) {
	t.Parallel()

	h := NewHandler(monoFormat, 4)
	h.NoteOn(60, 1, 0, 0)
	h.Process(block)

	h.SustainOn(0)
	h.NoteOff(60, 0.5, 0, 0)

	v := voiceFor(h, 60)
	if v.State() != Sustained {
		t.Fatalf("state = %v, want sustained", v.State())
	}

	h.Process(block)

	if h.NumActiveVoices() != 1 {
		t.Fatal("sustained voice was freed")
	}

	h.SustainOff(0, 2)

	if v.State() != Released {
		t.Fatalf("state = %v, want released", v.State())
	}

	h.Process(block)

	if h.NumActiveVoices() != 0 {
		t.Fatalf("active voices = %d after release", h.NumActiveVoices())
	}
}

func TestSostenutoHoldsOnlyLatchedVoices(t *testing.T) {
	t.Parallel()

	h := NewHandler(monoFormat, 4)
	h.NoteOn(60, 1, 0, 0)
	h.Process(block)

	h.SostenutoOn(0)
	h.NoteOn(64, 1, 0, 0)
	h.Process(block)

	h.NoteOff(60, 0, 0, 0)
	h.NoteOff(64, 0, 0, 0)

	if s := voiceFor(h, 60).State(); s != Sustained {
		t.Fatalf("latched voice = %v, want sustained", s)
	}

	if s := voiceFor(h, 64).State(); s != Released {
		t.Fatalf("unlatched voice = %v, want released", s)
	}

	latched := voiceFor(h, 60)
	h.SostenutoOff(0, 0)

	if latched.State() != Released {
		t.Fatalf("after pedal up = %v, want released", latched.State())
	}
}

func TestVoiceKillerKeepsReleasedVoices(t *testing.T) {
	t.Parallel()

	h := NewHandler(monoFormat, 2)
	h.SetSampleRate(1000)

	env := processors.NewEnvelope()
	sustain := processors.NewConstant(graph.ControlRate, 1)
	release := processors.NewConstant(graph.ControlRate, 0.04)

	h.Add(env)
	h.Add(sustain)
	h.Add(release)
	h.Connect(env, processors.EnvelopeTrigger, h.Output(OutVoiceEvent))
	h.Connect(env, processors.EnvelopeSustain, sustain.Output(0))
	h.Connect(env, processors.EnvelopeRelease, release.Output(0))
	h.SetVoiceKiller(env.Output(0))

	h.NoteOn(60, 1, 0, 0)
	h.Process(block)
	h.NoteOff(60, 0, 0, 0)

	// 40 samples of release reach zero inside the third block.
	for i := range 3 {
		h.Process(block)

		if h.NumActiveVoices() != 1 {
			t.Fatalf("block %d: voice freed while the envelope still sounds", i)
		}
	}

	h.Process(block)

	if h.NumActiveVoices() != 0 {
		t.Fatal("silent voice was not freed")
	}

	requireConserved(t, h)
}

func TestNonFiniteKillerFreesReleasedVoices(t *testing.T) {
	t.Parallel()

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		h := NewHandler(monoFormat, 2)
		killer := processors.NewConstant(graph.AudioRate, v)
		h.Add(killer)
		h.SetVoiceKiller(killer.Output(0))

		h.NoteOn(60, 1, 0, 0)
		h.Process(block)

		if h.NumActiveVoices() != 1 {
			t.Fatalf("killer %v: held voice was freed", v)
		}

		h.NoteOff(60, 0, 0, 0)
		h.Process(block)
		h.Process(block)

		if n := h.NumActiveVoices(); n != 0 {
			t.Fatalf("killer %v: %d voices still active", v, n)
		}

		requireConserved(t, h)
	}
}

func TestContinuousValuesLandInOffsetBlock(t *testing.T) {
	t.Parallel()

	h := NewHandler(wideFormat, 2)
	h.NoteOn(60, 1, 0, 3)
	h.NoteOn(62, 1, 0, 4)
	h.Process(block)

	h.SetAftertouch(3, 60, 0.5, block+3)
	h.SetChannelAftertouch(4, 0.25, 0)
	h.SetSlide(3, 0.75, 2*block)
	h.SetModWheel(0.125)

	type reading struct{ aftertouch, slide float64 }

	read := func(note int) reading {
		ln := voiceFor(h, note).index * 2

		return reading{h.Output(OutAftertouch).At(0, ln), h.Output(OutSlide).At(0, ln)}
	}

	want := []struct{ c3, c4 reading }{
		{c3: reading{0, 0}, c4: reading{0.25, 0}},
		{c3: reading{0.5, 0}, c4: reading{0.25, 0}},
		{c3: reading{0.5, 0.75}, c4: reading{0.25, 0}},
	}

	for i, w := range want {
		h.Process(block)

		if got := read(60); got != w.c3 {
			t.Fatalf("block %d: channel 3 voice = %+v, want %+v", i, got, w.c3)
		}

		if got := read(62); got != w.c4 {
			t.Fatalf("block %d: channel 4 voice = %+v, want %+v", i, got, w.c4)
		}
	}

	if got := h.Output(OutModWheel).At(0, 0); got != 0.125 {
		t.Fatalf("mod wheel = %v", got)
	}
}

func TestAccumulatedOutputSumsVoices(t *testing.T) {
	t.Parallel()

	for _, f := range []graph.Format{monoFormat, wideFormat} {
		h := NewHandler(f, 2)
		vel := processors.NewScale(graph.AudioRate, nil)
		h.Add(vel)
		h.Connect(vel, 0, h.Output(OutVelocity))
		out := h.RegisterOutput(vel.Output(0))

		h.NoteOn(60, 0.25, 0, 0)
		h.NoteOn(64, 0.5, 0, 0)
		h.Process(block)

		testutil.RequireSliceNearlyEqual(t, out.Buffer[:block*f.Lanes], testutil.DC(0.75, block*f.Lanes), 1e-12)

		h.AllSoundsOff()
		h.Process(block)

		testutil.RequireSliceNearlyEqual(t, out.Buffer[:block*f.Lanes], testutil.DC(0, block*f.Lanes), 0)
	}
}

func TestControlOutputFollowsLastPlayed(t *testing.T) {
	t.Parallel()

	h := NewHandler(wideFormat, 4)
	note := processors.NewScale(graph.ControlRate, nil)
	h.Add(note)
	h.Connect(note, 0, h.Output(OutNote))
	out := h.RegisterOutput(note.Output(0))

	if out.Rate() != graph.ControlRate {
		t.Fatalf("registered rate = %v, want control", out.Rate())
	}

	h.NoteOn(60, 1, 0, 0)
	h.NoteOn(67, 1, 0, 0)
	h.NoteOn(63, 1, 0, 0)
	h.Process(block)

	testutil.RequireSliceNearlyEqual(t, out.Buffer[:4], testutil.DC(63, 4), 0)
}

func TestTuningAndNoteValues(t *testing.T) {
	t.Parallel()

	h := NewHandler(monoFormat, 1)
	h.SetTuning(func(note int) float64 { return float64(note) + 0.5 })
	h.NoteOn(61, 0.3, 0, 2)
	h.Process(block)

	checks := map[int]float64{
		OutNote:         61.5,
		OutVelocity:     0.3,
		OutChannel:      2,
		OutNoteInOctave: 1.0 / 12,
		OutActiveLanes:  1,
		OutPolyphony:    1,
	}

	for idx, want := range checks {
		if got := h.Output(idx).At(0, 1); got != want {
			t.Fatalf("output %d = %v, want %v", idx, got, want)
		}
	}
}

func TestPitchWheelBendsChannelVoices(t *testing.T) {
	t.Parallel()

	h := NewHandler(monoFormat, 2)
	h.NoteOn(60, 1, 0, 3)
	h.SetPitchWheel(-0.5, 3)
	h.SetPitchWheel(0.25, 4)

	if got := voiceFor(h, 60).bend; got != -0.5 {
		t.Fatalf("bend = %v, want -0.5", got)
	}

	h.NoteOn(62, 1, 0, 4)

	if got := voiceFor(h, 62).bend; got != 0.25 {
		t.Fatalf("new voice bend = %v, want 0.25", got)
	}
}

func TestParallelVoicePreferred(t *testing.T) {
	t.Parallel()

	h := NewHandler(wideFormat, 4)
	for _, n := range []int{60, 61, 62, 63} {
		h.NoteOn(n, 1, 0, 0)
	}

	ids := map[int]int{}
	for _, n := range []int{60, 61, 62, 63} {
		ids[n] = voiceFor(h, n).ID()
	}

	// Free voices 2 and 0, then empty the second aggregate.
	for _, n := range []int{62, 60, 63} {
		h.NoteOff(n, 0, 0, 0)
		h.Process(block)
	}

	if ids[61] != 1 {
		t.Fatalf("voice ids = %v, want sequential assignment", ids)
	}

	h.NoteOn(70, 1, 0, 0)

	if v := voiceFor(h, 70); v.Aggregate() != voiceFor(h, 61).Aggregate() {
		t.Fatal("new note not packed next to the running voice")
	}
}

func TestSetPolyphonyKillsExcess(t *testing.T) {
	t.Parallel()

	h := NewHandler(monoFormat, 4)
	for _, n := range []int{60, 62, 64, 65} {
		h.NoteOn(n, 1, 0, 0)
	}

	h.Process(block)
	h.SetPolyphony(2)

	killed := 0

	for _, v := range h.Voices() {
		if ev, _ := v.Event(); ev == EventKill {
			killed++
		}
	}

	if killed != 2 {
		t.Fatalf("killed %d voices, want 2", killed)
	}

	h.Process(block)
	requireConserved(t, h)

	if h.NumActiveVoices() != 2 {
		t.Fatalf("active voices = %d, want 2", h.NumActiveVoices())
	}

	for _, n := range []int{0, MaxPolyphony + 1} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("SetPolyphony(%d) did not panic", n)
				}
			}()

			h.SetPolyphony(n)
		}()
	}
}

func TestAllNotesAndSoundsOff(t *testing.T) {
	t.Parallel()

	h := NewHandler(monoFormat, 3)
	h.NoteOn(60, 1, 0, 0)
	h.NoteOn(62, 1, 0, 0)
	h.SustainOn(0)

	h.AllNotesOff(1)

	for _, v := range h.Voices() {
		if v.Active() && v.State() != Released {
			t.Fatalf("voice %d = %v after all notes off", v.ID(), v.State())
		}
	}

	if len(h.PressedNotes()) != 0 {
		t.Fatal("pressed notes survived all notes off")
	}

	h.NoteOn(65, 1, 0, 0)
	h.AllSoundsOff()

	if h.NumActiveVoices() != 0 || h.Sustained(0) {
		t.Fatal("all sounds off left voices or pedals")
	}

	requireConserved(t, h)
}

func TestGlobalProcessorsRunOncePerBlock(t *testing.T) {
	t.Parallel()

	h := NewHandler(monoFormat, 2)
	p := newRecorder()
	h.AddGlobal(p)
	h.Connect(p, 0, h.Output(OutVoiceEvent))

	if graph.BaseOf(p).Parent() != h.Global() {
		t.Fatal("global processor not owned by the global router")
	}

	h.NoteOn(60, 1, 0, 0)
	h.Process(block)

	// Global processors run before the voices and see no per-voice events.
	if len(*p.log) != 0 {
		t.Fatalf("global recorder saw %+v", *p.log)
	}
}

func TestHandlerPanics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func()
	}{
		{"clone", func() { NewHandler(monoFormat, 1).Clone() }},
		{"invalid format", func() { NewHandler(graph.Format{}, 1) }},
		{"register foreign output", func() {
			h := NewHandler(monoFormat, 1)
			h.RegisterOutput(processors.NewScale(graph.AudioRate, nil).Output(0))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()

			tt.fn()
		})
	}
}

func TestRandomNoteSequencesConserveVoices(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(42, 0))

	for _, pr := range []Priority{Newest, Oldest, Highest, Lowest, RoundRobin} {
		for _, ov := range []Override{Kill, Steal} {
			h := NewHandler(wideFormat, 5)
			h.SetVoicePriority(pr)
			h.SetVoiceOverride(ov)

			for range 600 {
				note := 48 + rng.IntN(12)

				switch op := rng.IntN(10); {
				case op < 4:
					h.NoteOn(note, rng.Float64(), rng.IntN(2*block), rng.IntN(2))
				case op < 7:
					h.NoteOff(note, 0, rng.IntN(block), rng.IntN(2))
				case op == 7:
					if rng.IntN(2) == 0 {
						h.SustainOn(0)
					} else {
						h.SustainOff(0, 0)
					}
				default:
					h.Process(block)
				}

				requireConserved(t, h)
			}
		}
	}
}

func TestProcessDoesNotAllocate(t *testing.T) {
	h := NewHandler(wideFormat, 4)
	vel := processors.NewScale(graph.AudioRate, nil)
	h.Add(vel)
	h.Connect(vel, 0, h.Output(OutVelocity))
	h.RegisterOutput(vel.Output(0))

	h.NoteOn(60, 0.5, 0, 0)
	h.NoteOn(64, 0.5, 3, 0)
	h.Process(block)

	if allocs := testing.AllocsPerRun(100, func() { h.Process(block) }); allocs != 0 {
		t.Fatalf("Process allocs per run = %v, want 0", allocs)
	}

	allocs := testing.AllocsPerRun(100, func() {
		h.NoteOn(67, 0.75, 2, 0)
		h.Process(block)
		h.NoteOff(67, 0, 5, 0)
		h.Process(block)
	})
	if allocs != 0 {
		t.Fatalf("note cycle allocs per run = %v, want 0", allocs)
	}

	// Every run strikes a key the handler has not seen before.
	n := 0
	allocs = testing.AllocsPerRun(200, func() {
		note, channel := n%128, (n/128)%Channels
		h.NoteOn(note, 0.25, 0, channel)
		h.NoteOff(note, 0, 0, channel)
		n++
	})
	if allocs != 0 {
		t.Fatalf("fresh key allocs per run = %v, want 0", allocs)
	}
}

func BenchmarkHandlerProcess(b *testing.B) {
	f := graph.Format{Lanes: 8, MaxBlock: 128}
	h := NewHandler(f, 16)
	vel := processors.NewScale(graph.AudioRate, nil)
	h.Add(vel)
	h.Connect(vel, 0, h.Output(OutVelocity))
	h.RegisterOutput(vel.Output(0))

	for n := range 16 {
		h.NoteOn(48+n, 0.5, 0, 0)
	}

	b.ReportAllocs()

	for b.Loop() {
		h.Process(128)
	}
}
