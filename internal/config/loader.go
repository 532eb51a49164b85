package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"decoder": {"auto", "ffmpeg", "opus"},
	"vad":     {"energy"},
	"stt":     {"whisper", "whisper-native", "openai", "deepgram"},
	"llm":     {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":     {"openai", "coqui", "piper", "elevenlabs"},
	"avatar":  {"sadtalker"},
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr          = ":8000"
	DefaultWSPath              = "/ws/stream"
	DefaultReadLimit           = 1 << 20
	DefaultMaxUploadBytes      = 25 << 20
	DefaultShutdownTimeout     = 15 * time.Second
	DefaultChunkThresholdBytes = 50000
	DefaultFrameMS             = 30
	DefaultVADSensitivity      = 3
	DefaultHangover            = 500 * time.Millisecond
	DefaultSilence             = 300 * time.Millisecond
	DefaultMinUtteranceBytes   = 6000
	DefaultConfidenceThreshold = 0.6
	DefaultMaxInFlight         = 2
	DefaultOverflowPolicy      = "queue"
	DefaultQueueTimeout        = 30 * time.Second
	DefaultStageTimeout        = 60 * time.Second
	DefaultAvatarTimeout       = 5 * time.Minute
	DefaultLanguage            = "kk"
	DefaultMediaDir            = "media"
	DefaultPortraitFile        = "avatar_photo.jpg"
	DefaultVideoURLPrefix      = "/media/videos"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	s := &c.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.WSPath == "" {
		s.WSPath = DefaultWSPath
	}
	if s.ReadLimit == 0 {
		s.ReadLimit = DefaultReadLimit
	}
	if s.MaxUploadBytes == 0 {
		s.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	p := &c.Pipeline
	if p.ChunkThresholdBytes == 0 {
		p.ChunkThresholdBytes = DefaultChunkThresholdBytes
	}
	if p.FrameMS == 0 {
		p.FrameMS = DefaultFrameMS
	}
	if p.VADSensitivity == nil {
		v := DefaultVADSensitivity
		p.VADSensitivity = &v
	}
	if p.Hangover == 0 {
		p.Hangover = DefaultHangover
	}
	if p.Silence == 0 {
		p.Silence = DefaultSilence
	}
	if p.MinUtteranceBytes == 0 {
		p.MinUtteranceBytes = DefaultMinUtteranceBytes
	}
	if p.ConfidenceThreshold == nil {
		v := DefaultConfidenceThreshold
		p.ConfidenceThreshold = &v
	}
	if p.MaxInFlight == 0 {
		p.MaxInFlight = DefaultMaxInFlight
	}
	if p.OverflowPolicy == "" {
		p.OverflowPolicy = DefaultOverflowPolicy
	}
	if p.QueueTimeout == 0 {
		p.QueueTimeout = DefaultQueueTimeout
	}
	for _, d := range []*time.Duration{&p.Timeouts.Transcribe, &p.Timeouts.Generate, &p.Timeouts.Synthesize} {
		if *d == 0 {
			*d = DefaultStageTimeout
		}
	}
	if p.Timeouts.Avatar == 0 {
		p.Timeouts.Avatar = DefaultAvatarTimeout
	}

	a := &c.Assistant
	if a.Language == "" {
		a.Language = DefaultLanguage
	}
	if a.MediaDir == "" {
		a.MediaDir = DefaultMediaDir
	}
	if a.PortraitPath == "" {
		a.PortraitPath = filepath.Join(a.MediaDir, DefaultPortraitFile)
	}
	if a.VideoURLPrefix == "" {
		a.VideoURLPrefix = DefaultVideoURLPrefix
	}

	if c.Providers.Decoder.Name == "" {
		c.Providers.Decoder.Name = "auto"
	}
	if c.Providers.VAD.Name == "" {
		c.Providers.VAD.Name = "energy"
	}

	// API keys may reference the environment, e.g. "${OPENAI_API_KEY}".
	for _, e := range c.Providers.all() {
		e.APIKey = os.ExpandEnv(e.APIKey)
	}
}

// all returns pointers to every provider entry.
func (p *ProvidersConfig) all() []*ProviderEntry {
	out := []*ProviderEntry{&p.Decoder, &p.VAD, &p.LLM.Structured, &p.Avatar}
	for _, list := range [][]ProviderEntry{p.STT, p.LLM.Fallback, p.TTS} {
		for i := range list {
			out = append(out, &list[i])
		}
	}
	return out
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.WSPath != "" && !strings.HasPrefix(cfg.Server.WSPath, "/") {
		errs = append(errs, fmt.Errorf("server.ws_path %q must start with /", cfg.Server.WSPath))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if cfg.Server.ReadLimit < 0 {
		errs = append(errs, fmt.Errorf("server.read_limit %d must not be negative", cfg.Server.ReadLimit))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Pipeline
	p := cfg.Pipeline
	if p.ChunkThresholdBytes < 0 {
		errs = append(errs, fmt.Errorf("pipeline.chunk_threshold_bytes %d must be positive", p.ChunkThresholdBytes))
	}
	switch p.FrameMS {
	case 0, 10, 20, 30:
	default:
		errs = append(errs, fmt.Errorf("pipeline.frame_ms %d is invalid; valid values: 10, 20, 30", p.FrameMS))
	}
	if s := p.VADSensitivity; s != nil && (*s < 0 || *s > 3) {
		errs = append(errs, fmt.Errorf("pipeline.vad_sensitivity %d is out of range [0, 3]", *s))
	}
	if c := p.ConfidenceThreshold; c != nil && (*c < 0 || *c > 1) {
		errs = append(errs, fmt.Errorf("pipeline.confidence_threshold %.2f is out of range [0, 1]", *c))
	}
	if p.NoiseGate < 0 || p.NoiseGate > 32768 {
		errs = append(errs, fmt.Errorf("pipeline.noise_gate %v must be between 0 and 32768", p.NoiseGate))
	}
	if p.MinUtteranceBytes < 0 {
		errs = append(errs, fmt.Errorf("pipeline.min_utterance_bytes %d must not be negative", p.MinUtteranceBytes))
	}
	if p.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_in_flight %d must not be negative", p.MaxInFlight))
	}
	if p.OverflowPolicy != "" && p.OverflowPolicy != "queue" && p.OverflowPolicy != "drop" {
		errs = append(errs, fmt.Errorf("pipeline.overflow_policy %q is invalid; valid values: queue, drop", p.OverflowPolicy))
	}
	for name, d := range map[string]time.Duration{
		"pipeline.hangover":            p.Hangover,
		"pipeline.silence":             p.Silence,
		"pipeline.queue_timeout":       p.QueueTimeout,
		"pipeline.timeouts.transcribe": p.Timeouts.Transcribe,
		"pipeline.timeouts.generate":   p.Timeouts.Generate,
		"pipeline.timeouts.synthesize": p.Timeouts.Synthesize,
		"pipeline.timeouts.avatar":     p.Timeouts.Avatar,
		"pipeline.timeouts.attempt":    p.Timeouts.Attempt,
		"pipeline.breaker.reset":       p.Breaker.ResetTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", name, d))
		}
	}

	// Assistant
	a := cfg.Assistant
	switch a.Language {
	case "", "kk", "ru", "en":
	default:
		errs = append(errs, fmt.Errorf("assistant.language %q is invalid; valid values: kk, ru, en", a.Language))
	}
	if a.AvatarEnabled {
		if cfg.Providers.Avatar.Name == "" {
			errs = append(errs, errors.New("assistant.avatar_enabled requires providers.avatar"))
		}
		if a.PortraitPath == "" {
			errs = append(errs, errors.New("assistant.avatar_enabled requires assistant.portrait_path"))
		}
	}

	// Providers
	pr := cfg.Providers
	validateProviderName("decoder", pr.Decoder.Name)
	validateProviderName("vad", pr.VAD.Name)
	validateProviderName("avatar", pr.Avatar.Name)
	validateProviderName("llm", pr.LLM.Structured.Name)

	if len(pr.STT) == 0 {
		errs = append(errs, errors.New("providers.stt needs at least one entry"))
	}
	errs = append(errs, validateEntries("stt", pr.STT)...)

	if len(pr.TTS) == 0 {
		errs = append(errs, errors.New("providers.tts needs at least one entry"))
	}
	errs = append(errs, validateEntries("tts", pr.TTS)...)

	if pr.LLM.Structured.Name == "" && len(pr.LLM.Fallback) == 0 {
		slog.Warn("no language model configured; every reply will be the apology text")
	}
	errs = append(errs, validateEntries("llm", pr.LLM.Fallback)...)

	return errors.Join(errs...)
}

// validateEntries checks a provider chain for missing and duplicate labels.
func validateEntries(kind string, entries []ProviderEntry) []error {
	var errs []error
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		prefix := fmt.Sprintf("providers.%s[%d]", kind, i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(kind, e.Name)
		if prev, ok := seen[e.Label()]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of providers.%s[%d]", prefix, e.Label(), kind, prev))
		}
		seen[e.Label()] = i
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
