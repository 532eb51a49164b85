// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/voxdesk/pkg/audio"
	"github.com/MrWong99/voxdesk/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using the whisper.cpp Go bindings,
// eliminating the HTTP hop entirely. The model is loaded once at startup and
// shared; every Transcribe call gets its own whisper context.
type NativeProvider struct {
	model           whisperlib.Model
	language        string
	threads         uint
	tokenConfidence bool
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language code. Defaults to "ru".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets the number of inference threads per call. Zero keeps
// the library default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// WithTokenConfidence makes Transcribe report the mean token probability as
// the transcript confidence. Off by default: token probabilities from
// whisper.cpp are poorly calibrated, so without this option transcripts carry
// no confidence and always pass the confidence gate.
func WithTokenConfidence(on bool) NativeOption {
	return func(p *NativeProvider) { p.tokenConfidence = on }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// modelPath. The caller must call Close when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference over req.PCM. Audio that is not
// already 16 kHz mono is converted first.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}
	if len(req.PCM) == 0 {
		return stt.Transcript{Provider: "whisper-native"}, nil
	}
	pcm := audio.Convert(req.PCM, req.AudioFormat(), audio.Pipeline)

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	// Inference itself is not cancellable; it runs in its own goroutine so the
	// caller's deadline still bounds how long Transcribe blocks.
	type result struct {
		t   stt.Transcript
		err error
	}
	done := make(chan result, 1)
	go func() {
		text, conf, err := p.infer(audio.PCM16ToFloat32(pcm), lang)
		t := stt.Transcript{Text: text, Provider: "whisper-native"}
		if p.tokenConfidence && conf >= 0 {
			t.Confidence = stt.Confidence(conf)
		}
		done <- result{t: t, err: err}
	}()

	select {
	case r := <-done:
		return r.t, r.err
	case <-ctx.Done():
		return stt.Transcript{}, fmt.Errorf("whisper: %w", ctx.Err())
	}
}

// infer runs whisper.cpp with a fresh context and returns the concatenated
// segment text plus the mean token probability (-1 when there are no tokens).
func (p *NativeProvider) infer(samples []float32, lang string) (string, float64, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", -1, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", -1, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts  []string
		sumP   float64
		tokens int
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", -1, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			// Special tokens ([_BEG_], [_TT_...]) carry no speech.
			if strings.HasPrefix(tok.Text, "[_") {
				continue
			}
			sumP += float64(tok.P)
			tokens++
		}
	}

	conf := -1.0
	if tokens > 0 {
		conf = sumP / float64(tokens)
	}
	return strings.Join(parts, " "), conf, nil
}
