package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidRealtimeProviders lists known realtime provider names.
// Used by [Validate] to warn about unrecognised names.
var ValidRealtimeProviders = []string{"openai"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.Device == "" {
		cfg.Audio.Device = "stdio"
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 24000
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.FrameSamples == 0 {
		cfg.Audio.FrameSamples = 480
	}
	if cfg.Audio.QueueCapacity == 0 {
		cfg.Audio.QueueCapacity = 64
	}
	if cfg.Audio.EnqueueTimeoutMs == 0 {
		cfg.Audio.EnqueueTimeoutMs = 5
	}
	if cfg.Call.Channel == "" {
		cfg.Call.Channel = ChannelTelephony
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Realtime provider
	if cfg.Realtime.Name == "" {
		errs = append(errs, errors.New("realtime.name is required"))
	} else if !slices.Contains(ValidRealtimeProviders, cfg.Realtime.Name) {
		slog.Warn("unknown realtime provider name — may be a typo",
			"name", cfg.Realtime.Name,
			"known", ValidRealtimeProviders,
		)
	}
	if cfg.Realtime.APIKey == "" {
		errs = append(errs, errors.New("realtime.api_key is required"))
	}

	// Audio
	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 48000]", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 1 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameSamples < 1 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d must be positive", cfg.Audio.FrameSamples))
	}
	if cfg.Audio.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("audio.queue_capacity %d must be positive", cfg.Audio.QueueCapacity))
	}
	if cfg.Audio.EnqueueTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("audio.enqueue_timeout_ms %d must be non-negative", cfg.Audio.EnqueueTimeoutMs))
	}

	// Agents
	if cfg.Agents.File == "" {
		errs = append(errs, errors.New("agents.file is required"))
	}
	if cfg.Agents.Entry == "" {
		errs = append(errs, errors.New("agents.entry is required"))
	}

	// Call
	if cfg.Call.Channel != "" && !cfg.Call.Channel.IsValid() {
		errs = append(errs, fmt.Errorf("call.channel %q is invalid; valid values: telephony, browser", cfg.Call.Channel))
	}
	if cfg.Call.GraceMs < 0 {
		errs = append(errs, fmt.Errorf("call.grace_ms %d must be non-negative", cfg.Call.GraceMs))
	}

	return errors.Join(errs...)
}
