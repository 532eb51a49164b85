// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (OpenAI, a local Coqui
// server, the Piper CLI, ElevenLabs, ...) and turns one complete reply text
// into one block of PCM audio. Backends keep their native sample rate; the
// Audio value describes the format so the streamer can announce it to clients.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxdesk/pkg/audio"
)

// ErrEmptyText is returned when Synthesize is called with blank text.
var ErrEmptyText = errors.New("tts: empty text")

// Audio is the output of one synthesis call.
type Audio struct {
	// PCM is signed little-endian audio described by the fields below. Always
	// populated on success.
	PCM []byte

	SampleRate  int
	Channels    int
	SampleWidth int

	// Path is the file the backend wrote, if any. It is handed to the avatar
	// renderer, which needs audio on disk.
	Path string

	// Provider names the backend that produced the audio.
	Provider string
}

// Format returns the audio.Format of a.PCM.
func (a *Audio) Format() audio.Format {
	return audio.Format{SampleRate: a.SampleRate, Channels: a.Channels, SampleWidth: a.SampleWidth}
}

// Duration returns the playback length of a.PCM.
func (a *Audio) Duration() time.Duration {
	return a.Format().Duration(len(a.PCM))
}

// FromWAV builds an Audio from a complete WAV file.
func FromWAV(wav []byte, provider string) (*Audio, error) {
	f, pcm, err := audio.ParseWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("tts: %s: %w", provider, err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("tts: %s: no audio samples", provider)
	}
	return &Audio{
		PCM:         pcm,
		SampleRate:  f.SampleRate,
		Channels:    f.Channels,
		SampleWidth: f.SampleWidth,
		Provider:    provider,
	}, nil
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to speech. It returns ErrEmptyText for blank
	// text and an error for any backend failure; it never returns a nil Audio
	// with a nil error.
	Synthesize(ctx context.Context, text string) (*Audio, error)
}
