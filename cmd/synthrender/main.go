// Command synthrender renders a note sequence through the reference patch
// and writes it to a WAV file.
//
// Usage:
//
//	synthrender [flags]
//
// Examples:
//
//	synthrender -out arp.wav -notes 60,64,67,72
//	synthrender -config patch.yaml -chord -notes 48,55,60,64 -note-length 2
//	synthrender -oversample 4 -format pcm16 -out hi.wav
package main

import (
	"bufio"
	"cmp"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/cwbudde/algo-synth/internal/wavfile"
	"github.com/cwbudde/algo-synth/synth/engine"
)

type settings struct {
	notes      []int
	velocity   float64
	noteLength float64
	gap        float64
	tail       float64
	chord      bool
}

func main() {
	var (
		configPath = flag.String("config", "", "YAML engine config")
		outPath    = flag.String("out", "out.wav", "output WAV path")
		format     = flag.String("format", "float32", "sample format: float32|pcm16")
		sampleRate = flag.Float64("rate", engine.DefaultSampleRate, "sample rate in Hz")
		blockSize  = flag.Int("block", engine.DefaultBlockSize, "block size in frames")
		polyphony  = flag.Int("poly", engine.DefaultPolyphony, "voices")
		oversample = flag.Int("oversample", 1, "oversampling factor")
		notesRaw   = flag.String("notes", "60,64,67", "comma-separated MIDI notes")
		noteLength = flag.Float64("note-length", 0.5, "seconds each note is held")
		gap        = flag.Float64("gap", 0.05, "seconds between notes")
		velocity   = flag.Int("velocity", 100, "MIDI velocity")
		chord      = flag.Bool("chord", false, "play all notes at once")
		tail       = flag.Float64("tail", 1, "seconds rendered after the last release")
		debug      = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	wavFormat, err := wavfile.ParseFormat(*format)
	if err != nil {
		die("%v", err)
	}

	if *velocity < 1 || *velocity > 127 {
		die("velocity must be in [1,127]")
	}

	if *noteLength <= 0 || *gap < 0 || *tail < 0 {
		die("note-length must be > 0, gap and tail >= 0")
	}

	notes, err := parseNotes(*notesRaw)
	if err != nil {
		die("notes: %v", err)
	}

	cfg := engine.DefaultConfig()
	if *configPath != "" {
		cfg, err = engine.LoadConfig(*configPath)
		if err != nil {
			die("%v", err)
		}
	}

	// flags given on the command line override the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "rate":
			cfg.SampleRate = *sampleRate
		case "block":
			cfg.BlockSize = *blockSize
		case "poly":
			cfg.Polyphony = *polyphony
		case "oversample":
			cfg.Oversample = *oversample
		}
	})

	cfg.Logger = logger

	eng, err := engine.NewFromConfig(cfg)
	if err != nil {
		die("%v", err)
	}

	s := settings{
		notes:      notes,
		velocity:   float64(*velocity) / 127,
		noteLength: *noteLength,
		gap:        *gap,
		tail:       *tail,
		chord:      *chord,
	}

	samples := render(eng, s)

	f, err := os.Create(*outPath)
	if err != nil {
		die("%v", err)
	}

	w := bufio.NewWriter(f)
	if err := wavfile.Write(w, samples, int(eng.Config().SampleRate), 2, wavFormat); err != nil {
		die("%v", err)
	}

	if err := w.Flush(); err != nil {
		die("%v", err)
	}

	if err := f.Close(); err != nil {
		die("%v", err)
	}

	logger.Info("rendered",
		"out", *outPath,
		"frames", len(samples)/2,
		"seconds", float64(len(samples)/2)/eng.Config().SampleRate,
		"format", wavFormat,
		"dropped_events", eng.Dropped(),
	)
}

type noteEvent struct {
	frame int
	note  int
	on    bool
}

func schedule(s settings, rate float64) ([]noteEvent, int) {
	hold := int(s.noteLength * rate)
	step := hold + int(s.gap*rate)

	events := make([]noteEvent, 0, 2*len(s.notes))
	end := 0

	for i, n := range s.notes {
		start := i * step
		if s.chord {
			start = 0
		}

		events = append(events, noteEvent{frame: start, note: n, on: true})
		events = append(events, noteEvent{frame: start + hold, note: n})
		end = max(end, start+hold)
	}

	slices.SortStableFunc(events, func(a, b noteEvent) int { return cmp.Compare(a.frame, b.frame) })

	return events, end + int(s.tail*rate)
}

func render(eng *engine.Engine, s settings) []float32 {
	cfg := eng.Config()
	events, total := schedule(s, cfg.SampleRate)
	out := make([]float32, 2*total)

	next := 0
	for start := 0; start < total; start += cfg.BlockSize {
		n := min(cfg.BlockSize, total-start)

		for next < len(events) && events[next].frame < start+n {
			ev := events[next]
			offset := max(0, ev.frame-start)

			if ev.on {
				eng.NoteOn(ev.note, s.velocity, offset, 0)
			} else {
				eng.NoteOff(ev.note, 0, offset, 0)
			}

			next++
		}

		eng.Render(out[2*start : 2*(start+n)])
	}

	return out
}

func parseNotes(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	notes := make([]int, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}

		if n < 0 || n > 127 {
			return nil, fmt.Errorf("note %d out of range", n)
		}

		notes = append(notes, n)
	}

	if len(notes) == 0 {
		return nil, fmt.Errorf("no notes in %q", raw)
	}

	return notes, nil
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "synthrender: "+format+"\n", args...)
	os.Exit(1)
}
