package config

import "slices"

// ConfigDiff describes what changed between two configs. Only settings that
// are applied without a restart are tracked; a change anywhere else sets
// RestartRequired.
type ConfigDiff struct {
	LanguageChanged    bool
	ExtraPromptChanged bool
	ClarifyTextChanged bool
	AvatarToggled      bool
	LogLevelChanged    bool
	NewLogLevel        LogLevel
	RestartRequired    bool
	RestartFields      []string
}

// Changed reports whether any hot-reloadable setting differs.
func (d ConfigDiff) Changed() bool {
	return d.LanguageChanged || d.ExtraPromptChanged || d.ClarifyTextChanged ||
		d.AvatarToggled || d.LogLevelChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oa, na := old.Assistant, new.Assistant
	d.LanguageChanged = oa.Language != na.Language
	d.ExtraPromptChanged = oa.ExtraPrompt != na.ExtraPrompt
	d.ClarifyTextChanged = oa.ClarifyText != na.ClarifyText
	d.AvatarToggled = oa.AvatarEnabled != na.AvatarEnabled

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = true
			d.RestartFields = append(d.RestartFields, field)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.ws_path", old.Server.WSPath != new.Server.WSPath)
	restart("server.allowed_origins", !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	restart("server.read_limit", old.Server.ReadLimit != new.Server.ReadLimit)
	restart("server.max_upload_bytes", old.Server.MaxUploadBytes != new.Server.MaxUploadBytes)
	restart("pipeline", !pipelineEqual(old.Pipeline, new.Pipeline))
	restart("assistant.apology_text", oa.ApologyText != na.ApologyText)
	restart("assistant.portrait_path", oa.PortraitPath != na.PortraitPath)
	restart("assistant.media_dir", oa.MediaDir != na.MediaDir)
	restart("assistant.video_url_prefix", oa.VideoURLPrefix != na.VideoURLPrefix)
	restart("providers", !providersEqual(old.Providers, new.Providers))

	return d
}

func pipelineEqual(a, b PipelineConfig) bool {
	derefInt := func(p *int) int {
		if p == nil {
			return -1
		}
		return *p
	}
	derefFloat := func(p *float64) float64 {
		if p == nil {
			return -1
		}
		return *p
	}
	if derefInt(a.VADSensitivity) != derefInt(b.VADSensitivity) ||
		derefFloat(a.ConfidenceThreshold) != derefFloat(b.ConfidenceThreshold) {
		return false
	}
	a.VADSensitivity, b.VADSensitivity = nil, nil
	a.ConfidenceThreshold, b.ConfidenceThreshold = nil, nil
	return a == b
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.Decoder, b.Decoder) &&
		entryEqual(a.VAD, b.VAD) &&
		entryEqual(a.Avatar, b.Avatar) &&
		entryEqual(a.LLM.Structured, b.LLM.Structured) &&
		slices.EqualFunc(a.STT, b.STT, entryEqual) &&
		slices.EqualFunc(a.TTS, b.TTS, entryEqual) &&
		slices.EqualFunc(a.LLM.Fallback, b.LLM.Fallback, entryEqual)
}

// entryEqual ignores Options, which may hold values that are not comparable.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
