package resilience

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MrWong99/voxdesk/pkg/provider/tts"
)

// TTSChain is the synthesis adapter: an ordered list of TTS backends where
// every candidate receives the identical text and the first one to return
// audio wins.
type TTSChain struct {
	group *FallbackGroup[tts.Provider]
}

// NewTTSChain creates a [TTSChain] with primary as the preferred backend.
func NewTTSChain(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSChain {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSChain{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a lower-precedence backend.
func (c *TTSChain) AddFallback(name string, p tts.Provider) {
	c.group.AddFallback(name, p)
}

// Names returns the backend names in precedence order.
func (c *TTSChain) Names() []string { return c.group.Names() }

// Synthesize returns audio for text from the first backend that produces
// any, or nil when text is blank or every backend failed. Failures are
// logged; the reply is still delivered as text.
func (c *TTSChain) Synthesize(ctx context.Context, text string) *tts.Audio {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	a, err := ExecuteWithResult(ctx, c.group, func(ctx context.Context, p tts.Provider) (*tts.Audio, error) {
		a, err := p.Synthesize(ctx, text)
		if err != nil {
			return nil, err
		}
		if a == nil || len(a.PCM) == 0 {
			return nil, ErrEmptyResult
		}
		return a, nil
	})
	if err != nil {
		slog.Warn("speech synthesis unavailable", "backends", c.group.Names(), "err", err)
		return nil
	}
	return a
}
