// Package app wires all voxdesk subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the turn pipeline and
// the HTTP server from the config and the providers created by main, Run
// serves until the context is cancelled, and Shutdown releases providers
// that hold resources.
//
// For testing, inject doubles through [Providers] and functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/voxdesk/internal/config"
	"github.com/MrWong99/voxdesk/internal/engine"
	"github.com/MrWong99/voxdesk/internal/engine/cascade"
	"github.com/MrWong99/voxdesk/internal/health"
	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/internal/resilience"
	"github.com/MrWong99/voxdesk/internal/server"
	"github.com/MrWong99/voxdesk/internal/session"
	"github.com/MrWong99/voxdesk/internal/transcript"
	"github.com/MrWong99/voxdesk/pkg/audio/decode"
	"github.com/MrWong99/voxdesk/pkg/provider/avatar"
	"github.com/MrWong99/voxdesk/pkg/provider/llm"
	"github.com/MrWong99/voxdesk/pkg/provider/stt"
	"github.com/MrWong99/voxdesk/pkg/provider/tts"
	"github.com/MrWong99/voxdesk/pkg/provider/vad"
)

// Named pairs a backend with the name used in logs and metrics.
type Named[T any] struct {
	Name  string
	Value T
}

// Providers holds the backends for every stage, populated by main via the
// config registry. Lists are in precedence order.
type Providers struct {
	Decoder    decode.Factory
	VAD        vad.Classifier
	STT        []Named[stt.Provider]
	Structured llm.Provider // nil disables the structured path
	Plain      []Named[llm.Provider]
	TTS        []Named[tts.Provider]
	Avatar     avatar.Renderer // nil disables avatar rendering
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar
	checkers  []health.Checker

	generator *engine.Generator
	runner    *cascade.Runner
	sessions  *SessionManager
	health    *health.Handler
	server    *server.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.ApplyConfig] change the log level at runtime.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithHealthCheckers adds readiness checks to the built-in ones.
func WithHealthCheckers(c ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c...) }
}

// New creates an App by wiring all subsystems together.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := providers.validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := os.MkdirAll(filepath.Join(cfg.Assistant.MediaDir, "videos"), 0o755); err != nil {
		return nil, fmt.Errorf("app: create media dir: %w", err)
	}

	a.runner = a.buildRunner()
	a.sessions = NewSessionManager(SessionManagerConfig{
		Decoder:    providers.Decoder,
		Classifier: providers.VAD,
		Runner:     a.runner,
		Session:    sessionConfig(cfg, a.metrics),
		Metrics:    a.metrics,
	})
	a.health = health.New(append(a.builtinCheckers(), a.checkers...)...)

	var certFile, keyFile string
	if tls := cfg.Server.TLS; tls != nil {
		certFile, keyFile = tls.CertFile, tls.KeyFile
	}
	a.server = server.New(server.Config{
		ListenAddr:      cfg.Server.ListenAddr,
		WSPath:          cfg.Server.WSPath,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		ReadLimit:       cfg.Server.ReadLimit,
		MediaDir:        cfg.Assistant.MediaDir,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CertFile:        certFile,
		KeyFile:         keyFile,
	}, a.sessions,
		server.WithHealth(a.health),
		server.WithMetrics(a.metrics),
		server.WithRoute("POST "+DialoguePath, &dialogueHandler{
			decoders: providers.Decoder,
			runner:   a.runner,
			mediaDir: cfg.Assistant.MediaDir,
			maxBytes: cfg.Server.MaxUploadBytes,
		}),
	)

	a.collectClosers()
	return a, nil
}

func (p *Providers) validate() error {
	var errs []error
	if p.Decoder == nil {
		errs = append(errs, errors.New("no decoder configured"))
	}
	if p.VAD == nil {
		errs = append(errs, errors.New("no voice activity classifier configured"))
	}
	if len(p.STT) == 0 {
		errs = append(errs, errors.New("no transcription backend configured"))
	}
	if len(p.TTS) == 0 {
		errs = append(errs, errors.New("no synthesis backend configured"))
	}
	return errors.Join(errs...)
}

// buildRunner assembles the fallback chains, the generator and the avatar
// around a [cascade.Runner].
func (a *App) buildRunner() *cascade.Runner {
	cfg, p := a.cfg, a.providers
	fallback := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  cfg.Pipeline.Breaker.MaxFailures,
				ResetTimeout: cfg.Pipeline.Breaker.ResetTimeout,
				HalfOpenMax:  cfg.Pipeline.Breaker.HalfOpenMax,
			},
			AttemptTimeout: cfg.Pipeline.Timeouts.Attempt,
			Kind:           kind,
			Metrics:        a.metrics,
		}
	}

	filter := transcript.NewFilter()
	sttChain := resilience.NewSTTChain(p.STT[0].Value, p.STT[0].Name, fallback("stt"),
		resilience.WithTranscriptFilter(filter.Clean))
	for _, n := range p.STT[1:] {
		sttChain.AddFallback(n.Name, n.Value)
	}

	var plain llm.Provider
	if len(p.Plain) > 0 {
		chain := resilience.NewLLMChain(p.Plain[0].Value, p.Plain[0].Name, fallback("llm"))
		for _, n := range p.Plain[1:] {
			chain.AddFallback(n.Name, n.Value)
		}
		plain = chain
	}
	genOpts := []engine.GeneratorOption{engine.WithPersona(persona(cfg))}
	if cfg.Assistant.ApologyText != "" {
		genOpts = append(genOpts, engine.WithApologyText(cfg.Assistant.ApologyText))
	}
	a.generator = engine.NewGenerator(p.Structured, plain, genOpts...)

	ttsChain := resilience.NewTTSChain(p.TTS[0].Value, p.TTS[0].Name, fallback("tts"))
	for _, n := range p.TTS[1:] {
		ttsChain.AddFallback(n.Name, n.Value)
	}

	threshold := engine.DefaultConfidenceThreshold
	if c := cfg.Pipeline.ConfidenceThreshold; c != nil {
		threshold = *c
	}
	opts := []cascade.Option{
		cascade.WithMetrics(a.metrics),
		cascade.WithGate(engine.Gate{Threshold: threshold}),
		cascade.WithTimeouts(cascade.Timeouts{
			Transcribe: cfg.Pipeline.Timeouts.Transcribe,
			Generate:   cfg.Pipeline.Timeouts.Generate,
			Synthesize: cfg.Pipeline.Timeouts.Synthesize,
		}),
		cascade.WithSettings(settings(cfg)),
	}
	if p.Avatar != nil {
		opts = append(opts, cascade.WithAvatar(cascade.NewAvatar(p.Avatar, cascade.AvatarConfig{
			Portrait:  cfg.Assistant.PortraitPath,
			AudioDir:  cfg.Assistant.MediaDir,
			URLPrefix: cfg.Assistant.VideoURLPrefix,
			Timeout:   cfg.Pipeline.Timeouts.Avatar,
		}, a.metrics)))
	}

	slog.Info("turn pipeline ready",
		"stt", sttChain.Names(),
		"llm_structured", p.Structured != nil,
		"llm_plain", len(p.Plain),
		"tts", ttsChain.Names(),
		"avatar", p.Avatar != nil,
	)
	return cascade.New(sttChain, a.generator, ttsChain, opts...)
}

func sessionConfig(cfg *config.Config, m *observe.Metrics) session.Config {
	p := cfg.Pipeline
	return session.Config{
		ChunkThreshold: p.ChunkThresholdBytes,
		FrameDuration:  time.Duration(p.FrameMS) * time.Millisecond,
		NoiseGate:      p.NoiseGate,
		Endpoint: session.EndpointConfig{
			Hangover: p.Hangover,
			Silence:  p.Silence,
			MinBytes: p.MinUtteranceBytes,
		},
		Dispatch: session.DispatcherConfig{
			MaxInFlight:  p.MaxInFlight,
			Policy:       session.OverflowPolicy(p.OverflowPolicy),
			QueueTimeout: p.QueueTimeout,
			Metrics:      m,
		},
	}
}

func persona(cfg *config.Config) engine.Persona {
	return engine.Persona{Language: cfg.Assistant.Language, ExtraPrompt: cfg.Assistant.ExtraPrompt}
}

func settings(cfg *config.Config) cascade.Settings {
	return cascade.Settings{
		Language:      cfg.Assistant.Language,
		ClarifyText:   cfg.Assistant.ClarifyText,
		AvatarEnabled: cfg.Assistant.AvatarEnabled,
	}
}

// builtinCheckers verifies the media directory and, when the decoder may
// shell out, the ffmpeg binary.
func (a *App) builtinCheckers() []health.Checker {
	mediaDir := a.cfg.Assistant.MediaDir
	checkers := []health.Checker{{
		Name: "media_dir",
		Check: func(context.Context) error {
			info, err := os.Stat(mediaDir)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", mediaDir)
			}
			return nil
		},
	}}

	dec := a.cfg.Providers.Decoder
	if dec.Name == "auto" || dec.Name == "ffmpeg" {
		bin := dec.OptString("binary", "ffmpeg")
		checkers = append(checkers, health.Checker{
			Name: "ffmpeg",
			Check: func(context.Context) error {
				_, err := exec.LookPath(bin)
				return err
			},
		})
	}
	return checkers
}

// collectClosers registers every provider that holds resources.
func (a *App) collectClosers() {
	var all []any
	for _, n := range a.providers.STT {
		all = append(all, n.Value)
	}
	for _, n := range a.providers.Plain {
		all = append(all, n.Value)
	}
	for _, n := range a.providers.TTS {
		all = append(all, n.Value)
	}
	all = append(all, a.providers.Structured, a.providers.VAD, a.providers.Avatar)
	for _, v := range all {
		if c, ok := v.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Handler returns the HTTP handler, for tests that serve it themselves.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Run serves until ctx is cancelled, then drains sessions and waits for
// background renders. It returns nil after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr, "ws_path", a.cfg.Server.WSPath)
	err := a.server.Run(ctx)
	a.runner.Wait()
	return err
}

// ApplyConfig applies the hot-reloadable part of a new config: the
// assistant persona, the clarification text, the avatar toggle and the log
// level. Changes that need a restart are logged.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LanguageChanged || d.ExtraPromptChanged {
		a.generator.SetPersona(persona(new))
	}
	if d.LanguageChanged || d.ClarifyTextChanged || d.AvatarToggled {
		a.runner.SetSettings(settings(new))
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(ParseLevel(d.NewLogLevel))
	}
	if d.Changed() {
		slog.Info("config applied",
			"language", new.Assistant.Language,
			"extra_prompt_changed", d.ExtraPromptChanged,
			"avatar_enabled", new.Assistant.AvatarEnabled,
			"log_level", new.Server.LogLevel,
		)
	}
	if d.RestartRequired {
		slog.Warn("config changes need a restart to take effect", "fields", d.RestartFields)
	}
}

// ParseLevel maps a config log level to a slog level. Unknown values map to
// info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Shutdown closes providers that hold resources. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		var errs []error
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				shutdownErr = errors.Join(errs...)
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		shutdownErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
