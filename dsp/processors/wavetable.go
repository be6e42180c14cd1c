package processors

import (
	"fmt"
	"math"
	"sync"

	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/cwbudde/algo-synth/dsp/graph"
	"github.com/cwbudde/algo-synth/dsp/interp"
)

// Wavetable input indices. Notes and bends are in semitones.
const (
	WavetableNote  = 0
	WavetableBend  = 1
	WavetableReset = 2
)

const (
	tableSize   = 2048
	tableLevels = 10
)

// mipTables holds one band-limited cycle per octave of harmonic content,
// level k carrying harmonics 1..2^k. Each table is padded with one sample
// before and two after the cycle for 4-point interpolation.
type mipTables [tableLevels][]float64

var sawTables = sync.OnceValues(buildSawTables)

// buildSawTables synthesizes sawtooth cycles from their harmonic spectra with
// an inverse FFT.
func buildSawTables() (*mipTables, error) {
	plan, err := algofft.NewPlan64(tableSize)
	if err != nil {
		return nil, fmt.Errorf("processors: wavetable FFT plan: %w", err)
	}

	spectrum := make([]complex128, tableSize)
	cycle := make([]complex128, tableSize)

	var tables mipTables

	for level := range tableLevels {
		clear(spectrum)

		harmonics := 1 << level
		for h := 1; h <= harmonics && h < tableSize/2; h++ {
			amp := 1 / float64(h)
			spectrum[h] = complex(0, -amp)
			spectrum[tableSize-h] = complex(0, amp)
		}

		if err := plan.Inverse(cycle, spectrum); err != nil {
			return nil, fmt.Errorf("processors: wavetable inverse FFT: %w", err)
		}

		peak := 0.0
		for _, v := range cycle {
			peak = math.Max(peak, math.Abs(real(v)))
		}

		table := make([]float64, tableSize+3)
		for i, v := range cycle {
			table[i+1] = real(v) / peak
		}

		table[0] = table[tableSize]
		table[tableSize+1] = table[1]
		table[tableSize+2] = table[2]
		tables[level] = table
	}

	return &tables, nil
}

// pick returns the richest table whose top harmonic stays below Nyquist.
func (t *mipTables) pick(freq, sampleRate float64) []float64 {
	limit := sampleRate / 2
	level := 0

	for level+1 < tableLevels && float64(int(1)<<(level+1))*freq < limit {
		level++
	}

	return t[level]
}

// lookup reads the table at phase in cycles with 4-point Hermite
// interpolation.
func lookup(table []float64, phase float64) float64 {
	pos := phase * tableSize
	i := int(pos)
	frac := pos - float64(i)

	return interp.Hermite4(frac, table[i], table[i+1], table[i+2], table[i+3])
}

// NoteToFrequency converts a MIDI note number to Hz in 12-tone equal
// temperament with A4 = 440 Hz.
func NoteToFrequency(note float64) float64 {
	return 440 * math.Exp2((note-69)/12)
}

// Wavetable is a band-limited sawtooth oscillator. Each lane plays the note
// on its WavetableNote input plus the WavetableBend offset; a trigger on
// WavetableReset restarts the triggered lanes at phase zero.
type Wavetable struct {
	graph.Base

	tables *mipTables
	phase  []float64
}

// NewWavetable returns a sawtooth oscillator. It fails only if the FFT plan
// for the tables cannot be built.
func NewWavetable() (*Wavetable, error) {
	tables, err := sawTables()
	if err != nil {
		return nil, err
	}

	p := &Wavetable{tables: tables}
	p.Init(p, 3, 1, graph.AudioRate)

	return p, nil
}

// Prepare implements graph.Preparer.
func (p *Wavetable) Prepare(f graph.Format) {
	p.phase = make([]float64, f.Lanes)
}

// Process implements graph.Processor.
func (p *Wavetable) Process(numSamples int) {
	note := p.Input(WavetableNote).Source()
	bend := p.Input(WavetableBend).Source()
	reset := p.Input(WavetableReset).Source()
	out := p.Output(0)
	lanes := p.Lanes()
	sampleRate := p.SampleRate()

	for ln := range lanes {
		freq := NoteToFrequency(note.At(0, ln) + bend.At(0, ln))
		table := p.tables.pick(freq, sampleRate)
		inc := freq / sampleRate

		resetAt := -1
		if reset.TriggerMask.Has(ln) {
			resetAt = min(reset.TriggerOffset[ln], numSamples-1)
		}

		phase := p.phase[ln]
		for f := range numSamples {
			if f == resetAt {
				phase = 0
			}

			out.Buffer[f*lanes+ln] = lookup(table, phase)

			phase += inc
			phase -= math.Floor(phase)
		}

		p.phase[ln] = phase
	}
}

// Clone implements graph.Processor.
func (p *Wavetable) Clone() graph.Processor {
	c := *p
	c.CloneBase(&c)

	return &c
}
