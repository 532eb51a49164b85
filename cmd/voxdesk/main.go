// Command voxdesk is the entry point for the voxdesk voice assistant server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/voxdesk/internal/app"
	"github.com/MrWong99/voxdesk/internal/config"
	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/pkg/audio"
	"github.com/MrWong99/voxdesk/pkg/audio/decode"
	"github.com/MrWong99/voxdesk/pkg/provider/avatar"
	"github.com/MrWong99/voxdesk/pkg/provider/avatar/sadtalker"
	"github.com/MrWong99/voxdesk/pkg/provider/llm"
	"github.com/MrWong99/voxdesk/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/voxdesk/pkg/provider/llm/openai"
	"github.com/MrWong99/voxdesk/pkg/provider/stt"
	"github.com/MrWong99/voxdesk/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/voxdesk/pkg/provider/stt/openai"
	"github.com/MrWong99/voxdesk/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxdesk/pkg/provider/tts"
	"github.com/MrWong99/voxdesk/pkg/provider/tts/coqui"
	"github.com/MrWong99/voxdesk/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/voxdesk/pkg/provider/tts/openai"
	"github.com/MrWong99/voxdesk/pkg/provider/tts/piper"
	"github.com/MrWong99/voxdesk/pkg/provider/vad"
	"github.com/MrWong99/voxdesk/pkg/provider/vad/energy"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the assistant section when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxdesk: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxdesk: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voxdesk starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers, app.WithLogLevel(&level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// instrumentedClient returns an HTTP client whose requests are traced.
func instrumentedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Provider-specific settings come from each entry's options map; pipeline
// and assistant settings are taken from cfg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	stageTimeout := cfg.Pipeline.Timeouts.Transcribe
	language := cfg.Assistant.Language
	mediaDir := cfg.Assistant.MediaDir

	// ── Decoder ───────────────────────────────────────────────────────────────
	for _, name := range []string{"auto", "ffmpeg", "opus"} {
		reg.RegisterDecoder(name, func(entry config.ProviderEntry) (decode.Factory, error) {
			return decode.NewFactory(name, entry.OptString("binary", ""))
		})
	}

	// ── VAD ───────────────────────────────────────────────────────────────────
	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Classifier, error) {
		sensitivity := config.DefaultVADSensitivity
		if s := cfg.Pipeline.VADSensitivity; s != nil {
			sensitivity = *s
		}
		var opts []energy.Option
		if rms := entry.OptFloat("threshold", 0); rms > 0 {
			opts = append(opts, energy.WithThreshold(rms))
		}
		return energy.New(vad.Config{
			SampleRate:  audio.Pipeline.SampleRate,
			Sensitivity: vad.Sensitivity(sensitivity),
		}, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{whisper.WithHTTPClient(instrumentedClient(stageTimeout))}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path", "")
		}
		opts := []whisper.NativeOption{
			whisper.WithTokenConfidence(entry.OptBool("token_confidence", true)),
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := entry.OptInt("threads", 0); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []oastt.Option{oastt.WithTimeout(stageTimeout)}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if prompt := entry.OptString("prompt", ""); prompt != "" {
			opts = append(opts, oastt.WithPrompt(prompt))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// The native OpenAI client supports forced tool choice, which the
	// structured reply path relies on.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []oallm.Option{oallm.WithHTTPClient(instrumentedClient(cfg.Pipeline.Timeouts.Generate))}
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization", ""); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyllm.Backends {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []oatts.Option{
			oatts.WithMediaDir(mediaDir),
			oatts.WithTimeout(cfg.Pipeline.Timeouts.Synthesize),
		}
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if voice := entry.OptString("voice", ""); voice != "" {
			opts = append(opts, oatts.WithVoice(voice))
		}
		if speed := entry.OptFloat("speed", 0); speed > 0 {
			opts = append(opts, oatts.WithSpeed(speed))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{
			coqui.WithHTTPClient(instrumentedClient(cfg.Pipeline.Timeouts.Synthesize)),
			coqui.WithLanguage(entry.OptString("language", language)),
		}
		if speaker := entry.OptString("speaker", ""); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		if mode := entry.OptString("api_mode", ""); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("piper", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []piper.Option{piper.WithMediaDir(mediaDir)}
		if bin := entry.OptString("binary", ""); bin != "" {
			opts = append(opts, piper.WithBinary(bin, entry.OptStrings("args")...))
		}
		if id := entry.OptInt("speaker", -1); id >= 0 {
			opts = append(opts, piper.WithSpeaker(id))
		}
		if ls := entry.OptFloat("length_scale", 0); ls > 0 {
			opts = append(opts, piper.WithLengthScale(ls))
		}
		return piper.New(entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptString("output_format", ""); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, entry.OptString("voice_id", ""), opts...)
	})

	// ── Avatar ────────────────────────────────────────────────────────────────
	reg.RegisterAvatar("sadtalker", func(entry config.ProviderEntry) (avatar.Renderer, error) {
		var opts []sadtalker.Option
		if dir := entry.OptString("work_dir", ""); dir != "" {
			opts = append(opts, sadtalker.WithWorkDir(dir))
		}
		if args := entry.OptStrings("args"); len(args) > 0 {
			opts = append(opts, sadtalker.WithArgs(args...))
		}
		return sadtalker.New(
			entry.OptString("python", "python3"),
			entry.OptString("script", "inference.py"),
			entry.OptString("video_dir", filepath.Join(mediaDir, "videos")),
			opts...,
		)
	})

	for _, kind := range []string{"decoder", "vad", "stt", "llm", "tts", "avatar"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Registered(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// Entries naming an unregistered provider are skipped with a warning.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	var errs []error

	if entry := cfg.Providers.Decoder; entry.Name != "" {
		if f, ok := create("decoder", entry, reg.CreateDecoder, &errs); ok {
			ps.Decoder = f
		}
	}
	if entry := cfg.Providers.VAD; entry.Name != "" {
		if c, ok := create("vad", entry, reg.CreateVAD, &errs); ok {
			ps.VAD = c
		}
	}
	for _, entry := range cfg.Providers.STT {
		if p, ok := create("stt", entry, reg.CreateSTT, &errs); ok {
			ps.STT = append(ps.STT, app.Named[stt.Provider]{Name: entry.Label(), Value: p})
		}
	}
	if entry := cfg.Providers.LLM.Structured; entry.Name != "" {
		if p, ok := create("llm", entry, reg.CreateLLM, &errs); ok {
			ps.Structured = p
		}
	}
	for _, entry := range cfg.Providers.LLM.Fallback {
		if p, ok := create("llm", entry, reg.CreateLLM, &errs); ok {
			ps.Plain = append(ps.Plain, app.Named[llm.Provider]{Name: entry.Label(), Value: p})
		}
	}
	for _, entry := range cfg.Providers.TTS {
		if p, ok := create("tts", entry, reg.CreateTTS, &errs); ok {
			ps.TTS = append(ps.TTS, app.Named[tts.Provider]{Name: entry.Label(), Value: p})
		}
	}
	if entry := cfg.Providers.Avatar; entry.Name != "" {
		if r, ok := create("avatar", entry, reg.CreateAvatar, &errs); ok {
			ps.Avatar = r
		}
	}
	return ps, errors.Join(errs...)
}

// create builds one provider. Unregistered names are logged and skipped;
// factory errors are collected into errs.
func create[T any](kind string, entry config.ProviderEntry, fn func(config.ProviderEntry) (T, error), errs *[]error) (T, bool) {
	v, err := fn(entry)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Warn("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return v, false
	case err != nil:
		*errs = append(*errs, err)
		return v, false
	}
	slog.Info("provider created", "kind", kind, "name", entry.Label())
	return v, true
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxdesk startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Decoder", cfg.Providers.Decoder.Label())
	printRow("VAD", cfg.Providers.VAD.Label())
	printRow("STT", labels(cfg.Providers.STT))
	printRow("LLM", cfg.Providers.LLM.Structured.Label())
	printRow("LLM fallback", labels(cfg.Providers.LLM.Fallback))
	printRow("TTS", labels(cfg.Providers.TTS))
	avatarRow := "(disabled)"
	if cfg.Assistant.AvatarEnabled {
		avatarRow = cfg.Providers.Avatar.Label()
	}
	printRow("Avatar", avatarRow)
	printRow("Language", cfg.Assistant.Language)
	printRow("Listen addr", cfg.Server.ListenAddr+cfg.Server.WSPath)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func labels(entries []config.ProviderEntry) string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return strings.Join(names, " > ")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
