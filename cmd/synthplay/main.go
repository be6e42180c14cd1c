// Command synthplay plays an arpeggio through the reference patch on the
// default audio device.
//
// Usage:
//
//	synthplay [flags]
//
// Examples:
//
//	synthplay -notes 57,60,64,69 -bpm 140
//	synthplay -config patch.yaml -duration 30s
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/cwbudde/algo-synth/synth/engine"
	"github.com/ebitengine/oto/v3"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML engine config")
		notesRaw   = flag.String("notes", "60,64,67,72", "comma-separated MIDI notes")
		bpm        = flag.Float64("bpm", 120, "sixteenth notes at this tempo")
		gate       = flag.Float64("gate", 0.5, "fraction of a step each note is held")
		velocity   = flag.Int("velocity", 100, "MIDI velocity")
		duration   = flag.Duration("duration", 10*time.Second, "play time, 0 plays until interrupted")
		buffer     = flag.Duration("buffer", 40*time.Millisecond, "device buffer")
		debug      = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	notes, err := parseNotes(*notesRaw)
	if err != nil {
		die("notes: %v", err)
	}

	if *bpm <= 0 || *gate <= 0 || *gate > 1 {
		die("bpm must be > 0 and gate in (0,1]")
	}

	cfg := engine.DefaultConfig()
	if *configPath != "" {
		cfg, err = engine.LoadConfig(*configPath)
		if err != nil {
			die("%v", err)
		}
	}

	cfg.Logger = logger

	eng, err := engine.NewFromConfig(cfg)
	if err != nil {
		die("%v", err)
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(cfg.SampleRate),
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   *buffer,
	})
	if err != nil {
		die("audio: %v", err)
	}

	<-ready

	player := otoCtx.NewPlayer(newStream(eng))
	player.Play()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *duration > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	logger.Info("playing", "notes", notes, "bpm", *bpm, "rate", cfg.SampleRate)

	arpeggiate(ctx, eng, notes, float64(*velocity)/127, *bpm, *gate)

	eng.AllNotesOff(0)
	time.Sleep(200 * time.Millisecond)

	if err := player.Close(); err != nil {
		logger.Warn("closing player", "err", err)
	}

	logger.Info("stopped", "samples", eng.Samples(), "dropped_events", eng.Dropped())
}

// arpeggiate cycles through notes, one per sixteenth, until ctx is done.
func arpeggiate(ctx context.Context, eng *engine.Engine, notes []int, velocity, bpm, gate float64) {
	step := time.Duration(float64(time.Minute) / bpm / 4)
	hold := time.Duration(float64(step) * gate)

	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for i := 0; ; i++ {
		n := notes[i%len(notes)]
		eng.NoteOn(n, velocity, 0, 0)

		select {
		case <-ctx.Done():
			eng.NoteOff(n, 0, 0, 0)
			return
		case <-time.After(hold):
		}

		eng.NoteOff(n, 0, 0, 0)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func parseNotes(raw string) ([]int, error) {
	var notes []int

	for _, p := range strings.Split(raw, ",") {
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
	fmt.Fprintf(os.Stderr, "synthplay: "+format+"\n", args...)
	os.Exit(1)
}
