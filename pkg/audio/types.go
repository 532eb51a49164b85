// Package audio holds the PCM primitives shared by the streaming pipeline:
// stream formats, fixed-duration framing, WAV containers and sample
// conversion helpers.
//
// All PCM in this package is signed little-endian integer audio. Only 16-bit
// samples are converted; other widths pass through untouched.
package audio

import (
	"fmt"
	"time"
)

// Pipeline is the format every decoder produces and every classifier and
// transcription backend consumes: 16 kHz, mono, 16-bit.
var Pipeline = Format{SampleRate: 16000, Channels: 1, SampleWidth: 2}

// Format describes a raw PCM stream.
type Format struct {
	// SampleRate in Hz (e.g. 16000 for ingestion, 22050 for Coqui output).
	SampleRate int

	// Channels is 1 for mono, 2 for interleaved stereo.
	Channels int

	// SampleWidth is the number of bytes per sample (2 for 16-bit PCM).
	SampleWidth int
}

// Valid reports whether every field of f is positive.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && f.SampleWidth > 0
}

// BytesPerSecond returns the byte rate of the stream.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.SampleWidth
}

// BlockAlign returns the size in bytes of one sample across all channels.
func (f Format) BlockAlign() int {
	return f.Channels * f.SampleWidth
}

// Duration returns how long n bytes of audio in format f play for. Partial
// trailing samples are ignored.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// BytesFor returns the number of bytes covering d, rounded down to a whole
// number of sample blocks.
func (f Format) BytesFor(d time.Duration) int {
	if d <= 0 || !f.Valid() {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%f.BlockAlign()
}

// String returns a human-readable description, e.g. "16000Hz mono s16".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s s%d", f.SampleRate, ch, f.SampleWidth*8)
}
