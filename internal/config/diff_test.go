package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/voxdesk/internal/config"
)

func loadMinimal(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := loadMinimal(t)
	d := config.Diff(cfg, loadMinimal(t))
	if d.Changed() {
		t.Errorf("expected no hot-reloadable change, got %+v", d)
	}
	if d.RestartRequired {
		t.Errorf("expected no restart, got fields %v", d.RestartFields)
	}
}

func TestDiff_Assistant(t *testing.T) {
	t.Parallel()
	old := loadMinimal(t)
	new := loadMinimal(t)
	new.Assistant.Language = "en"
	new.Assistant.ExtraPrompt = "Reception is on floor 2."
	new.Assistant.AvatarEnabled = true
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.Changed() {
		t.Fatal("expected Changed")
	}
	if !d.LanguageChanged || !d.ExtraPromptChanged || !d.AvatarToggled {
		t.Errorf("assistant flags: %+v", d)
	}
	if d.ClarifyTextChanged {
		t.Error("clarify text did not change")
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level: changed=%v new=%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Errorf("assistant edits must not require a restart, got %v", d.RestartFields)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, "server.listen_addr"},
		{"origins", func(c *config.Config) { c.Server.AllowedOrigins = []string{"x"} }, "server.allowed_origins"},
		{"hangover", func(c *config.Config) { c.Pipeline.Hangover *= 2 }, "pipeline"},
		{"confidence", func(c *config.Config) {
			v := 0.9
			c.Pipeline.ConfidenceThreshold = &v
		}, "pipeline"},
		{"stt chain", func(c *config.Config) {
			c.Providers.STT = append(c.Providers.STT, config.ProviderEntry{Name: "openai"})
		}, "providers"},
		{"tts model", func(c *config.Config) { c.Providers.TTS[0].Model = "xtts" }, "providers"},
		{"media dir", func(c *config.Config) { c.Assistant.MediaDir = "/tmp" }, "assistant.media_dir"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old := loadMinimal(t)
			new := loadMinimal(t)
			tc.mutate(new)
			d := config.Diff(old, new)
			if !d.RestartRequired {
				t.Fatal("expected RestartRequired")
			}
			if !slices.Contains(d.RestartFields, tc.field) {
				t.Errorf("RestartFields %v should contain %q", d.RestartFields, tc.field)
			}
			if d.Changed() {
				t.Errorf("no hot-reloadable field changed, got %+v", d)
			}
		})
	}
}
