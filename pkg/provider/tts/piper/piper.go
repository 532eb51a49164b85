// Package piper provides a TTS provider that runs the Piper command-line
// synthesiser. Text is written to the process's stdin and the WAV it writes
// is read back; Piper voices usually produce 22 050 Hz mono audio.
package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/voxdesk/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider by invoking the piper binary once per
// reply. It is safe for concurrent use.
type Provider struct {
	bin         string
	args        []string
	model       string
	speaker     int
	lengthScale float64
	mediaDir    string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBinary sets the executable. Defaults to "piper" on PATH.
func WithBinary(bin string, args ...string) Option {
	return func(p *Provider) {
		p.bin = bin
		p.args = args
	}
}

// WithSpeaker selects a speaker id for multi-speaker voices.
func WithSpeaker(id int) Option {
	return func(p *Provider) { p.speaker = id }
}

// WithLengthScale sets the phoneme length scale; values above 1 slow speech.
func WithLengthScale(v float64) Option {
	return func(p *Provider) { p.lengthScale = v }
}

// WithMediaDir keeps each reply as a WAV file in dir instead of a temporary
// file that is removed after reading.
func WithMediaDir(dir string) Option {
	return func(p *Provider) { p.mediaDir = dir }
}

// New creates a Provider for the given .onnx voice model.
func New(model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("piper: model must not be empty")
	}
	p := &Provider{bin: "piper", model: model, speaker: -1}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, tts.ErrEmptyText
	}

	out, keep, err := p.outputPath()
	if err != nil {
		return nil, err
	}
	if !keep {
		defer os.Remove(out)
	}

	args := append(append([]string(nil), p.args...), "--model", p.model, "--output_file", out)
	if p.speaker >= 0 {
		args = append(args, "--speaker", strconv.Itoa(p.speaker))
	}
	if p.lengthScale > 0 {
		args = append(args, "--length_scale", strconv.FormatFloat(p.lengthScale, 'f', -1, 64))
	}

	cmd := exec.CommandContext(ctx, p.bin, args...)
	cmd.Stdin = strings.NewReader(text + "\n")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("piper: run: %w: %s", err, lastLine(msg))
		}
		return nil, fmt.Errorf("piper: run: %w", err)
	}

	wav, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("piper: read output: %w", err)
	}
	a, err := tts.FromWAV(wav, "piper")
	if err != nil {
		return nil, err
	}
	if keep {
		a.Path = out
	}
	return a, nil
}

// outputPath picks where piper writes its WAV. keep reports whether the file
// outlives the call.
func (p *Provider) outputPath() (path string, keep bool, err error) {
	if p.mediaDir != "" {
		return filepath.Join(p.mediaDir, "piper_reply_"+uuid.NewString()+".wav"), true, nil
	}
	f, err := os.CreateTemp("", "piper-*.wav")
	if err != nil {
		return "", false, fmt.Errorf("piper: create temp file: %w", err)
	}
	name := f.Name()
	f.Close()
	return name, false, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
