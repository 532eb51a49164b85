// Package vad defines the Classifier interface for Voice Activity Detection
// backends.
//
// A Classifier answers one question per fixed-duration PCM frame: does it
// contain speech? It keeps no state between calls apart from its static
// configuration, so one instance is shared by every concurrent session and
// is passed explicitly to each one.
//
// Classifiers fail closed: a malformed frame yields an error, and callers
// skip that frame rather than aborting their loop.
package vad

import "errors"

// ErrInvalidFrame is returned when a frame's length does not correspond to a
// supported frame duration at the configured sample rate.
var ErrInvalidFrame = errors.New("vad: invalid frame length")

// Classifier labels PCM frames as voiced or unvoiced.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Classifier interface {
	// IsVoiced reports whether frame (16-bit little-endian mono PCM at the
	// configured sample rate) contains speech. A non-nil error means the
	// frame could not be classified and must be skipped.
	IsVoiced(frame []byte) (bool, error)
}
