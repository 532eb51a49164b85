package resilience

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/MrWong99/voxdesk/pkg/provider/stt"
)

// STTChain is the transcription adapter: an ordered list of STT backends
// where the first non-empty transcript wins.
//
// A backend is passed over when it errors, times out, has an open breaker or
// returns text that is empty after trimming and filtering. When no backend
// produces text the chain reports "no speech": an empty [stt.Transcript] and
// a nil error. Only cancellation of the caller's context is returned as an
// error.
type STTChain struct {
	group  *FallbackGroup[stt.Provider]
	filter func(string) string
}

var _ stt.Provider = (*STTChain)(nil)

// STTOption configures an [STTChain].
type STTOption func(*STTChain)

// WithTranscriptFilter installs a cleanup applied to every backend's text.
// The filter returns "" to reject a transcript, e.g. a known hallucination.
func WithTranscriptFilter(f func(text string) string) STTOption {
	return func(c *STTChain) { c.filter = f }
}

// NewSTTChain creates an [STTChain] with primary as the preferred backend.
func NewSTTChain(primary stt.Provider, primaryName string, cfg FallbackConfig, opts ...STTOption) *STTChain {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	c := &STTChain{group: NewFallbackGroup(primary, primaryName, cfg)}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AddFallback appends a lower-precedence backend.
func (c *STTChain) AddFallback(name string, p stt.Provider) {
	c.group.AddFallback(name, p)
}

// Names returns the backend names in precedence order.
func (c *STTChain) Names() []string { return c.group.Names() }

// Transcribe implements [stt.Provider].
func (c *STTChain) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	tr, err := ExecuteWithResult(ctx, c.group, func(ctx context.Context, p stt.Provider) (stt.Transcript, error) {
		tr, err := p.Transcribe(ctx, req)
		if err != nil {
			return stt.Transcript{}, err
		}
		text := strings.TrimSpace(tr.Text)
		if c.filter != nil && text != "" {
			text = c.filter(text)
		}
		if text == "" {
			return stt.Transcript{}, ErrEmptyResult
		}
		tr.Text = text
		return tr, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return stt.Transcript{}, err
		}
		slog.Debug("no speech recognised", "backends", c.group.Names(), "err", err)
		return stt.Transcript{}, nil
	}
	return tr, nil
}
