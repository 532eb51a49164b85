// Package config provides the configuration schema, loader, watcher and
// provider registry for the voxdesk voice service.
package config

import "time"

// LogLevel controls log verbosity for the server.
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

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader],
// which apply [Config.ApplyDefaults] before validation.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Assistant AssistantConfig `yaml:"assistant"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// WSPath is the websocket endpoint. Default: "/ws/stream".
	WSPath string `yaml:"ws_path"`

	// AllowedOrigins lists host patterns accepted for cross-origin websocket
	// upgrades. Same-origin requests are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ReadLimit caps the size of one inbound websocket message in bytes.
	ReadLimit int64 `yaml:"read_limit"`

	// MaxUploadBytes caps a recording posted to /api/dialogue.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// PipelineConfig tunes ingestion, endpointing and turn dispatch.
type PipelineConfig struct {
	// ChunkThresholdBytes is the encoded byte count that triggers a decode.
	ChunkThresholdBytes int `yaml:"chunk_threshold_bytes"`

	// FrameMS is the classifier frame length: 10, 20 or 30.
	FrameMS int `yaml:"frame_ms"`

	// VADSensitivity is 0 (most permissive) to 3. Nil means 3.
	VADSensitivity *int `yaml:"vad_sensitivity"`

	// Hangover keeps short pauses inside an utterance.
	Hangover time.Duration `yaml:"hangover"`

	// Silence since the last voiced frame that ends an utterance.
	Silence time.Duration `yaml:"silence"`

	// MinUtteranceBytes is the PCM size an utterance must exceed.
	MinUtteranceBytes int `yaml:"min_utterance_bytes"`

	// NoiseGate silences 10 ms blocks below this RMS level (0 to 32768)
	// before classification. Zero disables the gate.
	NoiseGate float64 `yaml:"noise_gate"`

	// ConfidenceThreshold gates generation. Nil means 0.6.
	ConfidenceThreshold *float64 `yaml:"confidence_threshold"`

	// MaxInFlight bounds concurrently processed utterances per session.
	MaxInFlight int `yaml:"max_in_flight"`

	// OverflowPolicy is "queue" or "drop".
	OverflowPolicy string `yaml:"overflow_policy"`

	// QueueTimeout bounds how long a queued utterance waits for a slot.
	QueueTimeout time.Duration `yaml:"queue_timeout"`

	Timeouts TimeoutsConfig `yaml:"timeouts"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// TimeoutsConfig bounds each turn stage.
type TimeoutsConfig struct {
	Transcribe time.Duration `yaml:"transcribe"`
	Generate   time.Duration `yaml:"generate"`
	Synthesize time.Duration `yaml:"synthesize"`
	Avatar     time.Duration `yaml:"avatar"`

	// Attempt bounds a single backend call inside a fallback chain. Zero
	// leaves attempts bounded by the stage timeout only.
	Attempt time.Duration `yaml:"attempt"`
}

// BreakerConfig is the circuit breaker template for every backend.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// AssistantConfig is the administrator-facing part of the configuration.
// Language, ExtraPrompt, AvatarEnabled and ClarifyText are hot-reloadable.
type AssistantConfig struct {
	// Language of prompts and replies: "kk", "ru" or "en".
	Language string `yaml:"language"`

	// ExtraPrompt is appended to the system prompt.
	ExtraPrompt string `yaml:"extra_prompt"`

	// ClarifyText is spoken when the transcript confidence is too low.
	ClarifyText string `yaml:"clarify_text"`

	// ApologyText is spoken when no language model answers.
	ApologyText string `yaml:"apology_text"`

	AvatarEnabled bool `yaml:"avatar_enabled"`

	// PortraitPath is the image animated by the avatar renderer.
	PortraitPath string `yaml:"portrait_path"`

	// MediaDir holds synthesized audio and rendered videos.
	MediaDir string `yaml:"media_dir"`

	// VideoURLPrefix is prepended to video file names sent to clients.
	VideoURLPrefix string `yaml:"video_url_prefix"`
}

// ProvidersConfig declares the backends for every stage. Lists are in
// precedence order: the first entry is tried first.
type ProvidersConfig struct {
	Decoder ProviderEntry   `yaml:"decoder"`
	VAD     ProviderEntry   `yaml:"vad"`
	STT     []ProviderEntry `yaml:"stt"`
	LLM     LLMConfig       `yaml:"llm"`
	TTS     []ProviderEntry `yaml:"tts"`
	Avatar  ProviderEntry   `yaml:"avatar"`
}

// LLMConfig separates the structured reply model from the plain-text chain.
type LLMConfig struct {
	// Structured must support tool calling. Leave Name empty to skip the
	// structured path.
	Structured ProviderEntry `yaml:"structured"`

	// Fallback answers in plain text when the structured path fails.
	Fallback []ProviderEntry `yaml:"fallback"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// Label returns the name used in logs and metrics: Name, or "Name/Model"
// when a model is set.
func (e ProviderEntry) Label() string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

// OptString returns the string option key, or def when absent or not a string.
func (e ProviderEntry) OptString(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// OptInt returns the integer option key, or def.
func (e ProviderEntry) OptInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// OptFloat returns the numeric option key, or def.
func (e ProviderEntry) OptFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return def
}

// OptBool returns the boolean option key, or def.
func (e ProviderEntry) OptBool(key string, def bool) bool {
	if v, ok := e.Options[key].(bool); ok {
		return v
	}
	return def
}

// OptStrings returns the string list option key, or nil.
func (e ProviderEntry) OptStrings(key string) []string {
	raw, ok := e.Options[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
