// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio to consumers and to verify which text
// reached the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Result: &tts.Audio{PCM: pcm, SampleRate: 22050, Channels: 1, SampleWidth: 2},
//	}
//	a, _ := p.Synthesize(ctx, "Здравствуйте")
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/voxdesk/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Synthesize when SynthesizeFunc is nil. A nil
	// Result with a nil Err makes Synthesize fail, mirroring the contract that
	// providers never return (nil, nil).
	Result *tts.Audio

	// Err, if non-nil, is returned by Synthesize when SynthesizeFunc is nil.
	Err error

	// SynthesizeFunc, if set, overrides Result and Err.
	SynthesizeFunc func(ctx context.Context, text string) (*tts.Audio, error)

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// errNoResult is returned when neither Result nor Err is configured.
var errNoResult = errors.New("mock tts: no result configured")

// Synthesize records the call and returns the configured response.
func (p *Provider) Synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Text: text})
	fn, result, err := p.SynthesizeFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errNoResult
	}
	cp := *result
	return &cp, nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Texts returns the text of every recorded call. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
