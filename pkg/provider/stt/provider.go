// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider receives one complete utterance of PCM audio and returns a single
// Transcript. Streaming partials are not modelled: utterance boundaries are
// decided upstream by the endpoint detector, so every backend works in batch
// mode, including those whose native API is a stream.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/voxdesk/pkg/audio"
)

// Request is one utterance to transcribe.
type Request struct {
	// PCM is signed 16-bit little-endian audio described by Format.
	PCM []byte

	// Format describes PCM. A zero Format means audio.Pipeline.
	Format audio.Format

	// Language is an ISO-639-1 hint ("ru", "kk", "en"). Empty lets the backend
	// auto-detect, if it can.
	Language string
}

// AudioFormat returns r.Format, or audio.Pipeline when r.Format is zero.
func (r Request) AudioFormat() audio.Format {
	if r.Format == (audio.Format{}) {
		return audio.Pipeline
	}
	return r.Format
}

// Transcript is the result of transcribing one utterance.
type Transcript struct {
	// Text is the recognised speech, trimmed. Empty means no speech.
	Text string

	// Confidence is the backend's score in [0, 1]. Nil means the backend does
	// not report one, and the transcript is trusted unconditionally.
	Confidence *float64

	// Provider names the backend that produced Text.
	Provider string
}

// Empty reports whether t carries no text.
func (t Transcript) Empty() bool { return t.Text == "" }

// Confidence returns a pointer to v, for building Transcript values.
func Confidence(v float64) *float64 { return &v }

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts req.PCM to text. An empty Text with a nil error means
	// the backend heard nothing; callers treat that the same as a failure when
	// deciding whether to try another backend.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
