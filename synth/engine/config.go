package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cwbudde/algo-synth/dsp/lane"
	"github.com/cwbudde/algo-synth/dsp/voice"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned for configurations the engine cannot run.
var ErrInvalidConfig = errors.New("invalid engine config")

// Config holds the engine settings. The zero value of every field selects
// its default.
type Config struct {
	SampleRate     float64            `yaml:"sample_rate"`
	BlockSize      int                `yaml:"block_size"`
	Oversample     int                `yaml:"oversample"`
	Polyphony      int                `yaml:"polyphony"`
	VoicePriority  string             `yaml:"voice_priority"`
	VoiceOverride  string             `yaml:"voice_override"`
	Legato         bool               `yaml:"legato"`
	Lanes          int                `yaml:"lanes,omitempty"`
	MaxConnections int                `yaml:"max_connections"`
	EventQueue     int                `yaml:"event_queue,omitempty"`
	Parameters     map[string]float64 `yaml:"parameters,omitempty"`
	Modulations    []Modulation       `yaml:"modulations,omitempty"`

	Logger *slog.Logger `yaml:"-"`
}

// Modulation is a modulation routing applied when the engine is built.
type Modulation struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	// Amount defaults to 1 when omitted.
	Amount  *float64 `yaml:"amount,omitempty"`
	Bipolar bool     `yaml:"bipolar,omitempty"`
	Stereo  bool     `yaml:"stereo,omitempty"`
	Bypass  bool     `yaml:"bypass,omitempty"`
	Curve   float64  `yaml:"curve,omitempty"`
}

func (m Modulation) amount() float64 {
	if m.Amount == nil {
		return 1
	}

	return *m.Amount
}

// Defaults.
const (
	DefaultSampleRate     = 48000
	DefaultBlockSize      = 128
	DefaultPolyphony      = 8
	DefaultMaxConnections = 64
	DefaultEventQueue     = 1024
	MaxOversample         = 8
)

// DefaultConfig returns sensible defaults for offline and realtime use.
func DefaultConfig() Config {
	return Config{
		SampleRate:     DefaultSampleRate,
		BlockSize:      DefaultBlockSize,
		Oversample:     1,
		Polyphony:      DefaultPolyphony,
		VoicePriority:  voice.Newest.String(),
		VoiceOverride:  voice.Kill.String(),
		MaxConnections: DefaultMaxConnections,
		EventQueue:     DefaultEventQueue,
	}
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("engine: open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Config{}, fmt.Errorf("engine: read config %q: %w", path, err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w (%s)", err, path)
	}

	return cfg, nil
}

// Marshal encodes the config as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()

	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}

	if c.BlockSize == 0 {
		c.BlockSize = d.BlockSize
	}

	if c.Oversample == 0 {
		c.Oversample = d.Oversample
	}

	if c.Polyphony == 0 {
		c.Polyphony = d.Polyphony
	}

	if c.VoicePriority == "" {
		c.VoicePriority = d.VoicePriority
	}

	if c.VoiceOverride == "" {
		c.VoiceOverride = d.VoiceOverride
	}

	if c.MaxConnections == 0 {
		c.MaxConnections = d.MaxConnections
	}

	if c.EventQueue == 0 {
		c.EventQueue = d.EventQueue
	}
}

// Validate reports the first setting the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("engine: sample rate %v: %w", c.SampleRate, ErrInvalidConfig)
	case c.BlockSize <= 0:
		return fmt.Errorf("engine: block size %d: %w", c.BlockSize, ErrInvalidConfig)
	case c.Oversample < 1 || c.Oversample > MaxOversample:
		return fmt.Errorf("engine: oversample %d: %w", c.Oversample, ErrInvalidConfig)
	case c.Polyphony < 1 || c.Polyphony > voice.MaxPolyphony:
		return fmt.Errorf("engine: polyphony %d: %w", c.Polyphony, ErrInvalidConfig)
	case c.Lanes != 0 && !lane.Valid(c.Lanes):
		return fmt.Errorf("engine: lanes %d: %w", c.Lanes, ErrInvalidConfig)
	case c.MaxConnections < 0:
		return fmt.Errorf("engine: max connections %d: %w", c.MaxConnections, ErrInvalidConfig)
	case c.EventQueue < 0:
		return fmt.Errorf("engine: event queue %d: %w", c.EventQueue, ErrInvalidConfig)
	}

	if _, err := voice.ParsePriority(c.VoicePriority); err != nil {
		return fmt.Errorf("engine: %w: %w", ErrInvalidConfig, err)
	}

	if _, err := voice.ParseOverride(c.VoiceOverride); err != nil {
		return fmt.Errorf("engine: %w: %w", ErrInvalidConfig, err)
	}

	for i, m := range c.Modulations {
		if m.Source == "" || m.Destination == "" {
			return fmt.Errorf("engine: modulation %d needs source and destination: %w", i, ErrInvalidConfig)
		}
	}

	return nil
}

// Option mutates a Config.
type Option func(*Config)

// WithSampleRate sets the output sample rate.
func WithSampleRate(sampleRate float64) Option {
	return func(c *Config) {
		if sampleRate > 0 {
			c.SampleRate = sampleRate
		}
	}
}

// WithBlockSize sets the largest block rendered in one pass.
func WithBlockSize(blockSize int) Option {
	return func(c *Config) {
		if blockSize > 0 {
			c.BlockSize = blockSize
		}
	}
}

// WithOversample sets the oversampling amount.
func WithOversample(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Oversample = n
		}
	}
}

// WithPolyphony sets the number of voices.
func WithPolyphony(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Polyphony = n
		}
	}
}

// WithLanes forces the lane width instead of detecting it.
func WithLanes(n int) Option {
	return func(c *Config) { c.Lanes = n }
}

// WithVoicePriority selects the voice stealing priority.
func WithVoicePriority(p voice.Priority) Option {
	return func(c *Config) { c.VoicePriority = p.String() }
}

// WithVoiceOverride selects how a voice is taken over when none is free.
func WithVoiceOverride(o voice.Override) Option {
	return func(c *Config) { c.VoiceOverride = o.String() }
}

// WithLegato enables legato playing.
func WithLegato(on bool) Option {
	return func(c *Config) { c.Legato = on }
}

// WithMaxConnections sets the size of the modulation bank.
func WithMaxConnections(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxConnections = n
		}
	}
}

// WithParameter sets the initial value of a parameter.
func WithParameter(name string, v float64) Option {
	return func(c *Config) {
		if c.Parameters == nil {
			c.Parameters = make(map[string]float64)
		}

		c.Parameters[name] = v
	}
}

// WithModulation adds a modulation routing.
func WithModulation(m Modulation) Option {
	return func(c *Config) { c.Modulations = append(c.Modulations, m) }
}

// WithLogger sets the logger for structural events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// ApplyOptions applies zero or more options to the default config.
func ApplyOptions(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return cfg
}
