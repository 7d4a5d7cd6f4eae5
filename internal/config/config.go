// Package config provides the configuration schema, loader, and validation
// for the voicelane call bridge.
package config

// LogLevel controls log verbosity for the voicelane process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Channel names the transport the caller is connected over. It selects the
// grace period applied before a deferred session teardown.
type Channel string

const (
	// ChannelTelephony is a PSTN/SIP leg; carrier audio buffers are deep, so
	// teardown waits longer for queued audio to reach the caller.
	ChannelTelephony Channel = "telephony"

	// ChannelBrowser is a WebRTC/browser leg with shallow buffers.
	ChannelBrowser Channel = "browser"
)

// IsValid reports whether c is a recognised channel kind.
func (c Channel) IsValid() bool {
	return c == ChannelTelephony || c == ChannelBrowser
}

// Config is the root configuration structure for voicelane.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Realtime ProviderEntry `yaml:"realtime"`
	Audio    AudioConfig   `yaml:"audio"`
	Agents   AgentsConfig  `yaml:"agents"`
	Call     CallConfig    `yaml:"call"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the Prometheus /metrics endpoint listens
	// on (e.g., ":9100"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProviderEntry configures the speech-model backend.
type ProviderEntry struct {
	// Name selects the realtime provider implementation (e.g., "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default WebSocket endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`
}

// AudioConfig holds local audio bridging parameters.
type AudioConfig struct {
	// Device selects the local audio backend (e.g., "stdio").
	Device string `yaml:"device"`

	// SampleRate is the PCM sample rate in Hz. Defaults to 24000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the channel count. Defaults to 1.
	Channels int `yaml:"channels"`

	// FrameSamples is the number of samples read per capture frame.
	// Defaults to 480 (20 ms at 24 kHz).
	FrameSamples int `yaml:"frame_samples"`

	// QueueCapacity bounds the capture and playback frame queues.
	// Defaults to 64.
	QueueCapacity int `yaml:"queue_capacity"`

	// EnqueueTimeoutMs bounds how long a producer waits on a full playback
	// queue before dropping the frame. Defaults to 5.
	EnqueueTimeoutMs int `yaml:"enqueue_timeout_ms"`
}

// AgentsConfig locates the agent descriptor registry.
type AgentsConfig struct {
	// File is the path to the YAML agent registry.
	File string `yaml:"file"`

	// Entry names the agent that handles the start of every call.
	Entry string `yaml:"entry"`
}

// CallConfig holds per-call behaviour settings.
type CallConfig struct {
	// Channel selects the caller transport kind. Defaults to telephony.
	Channel Channel `yaml:"channel"`

	// GraceMs overrides the channel's default teardown grace period in
	// milliseconds. Zero keeps the channel default.
	GraceMs int `yaml:"grace_ms"`
}
