package session

import (
	"time"

	"github.com/MrWong99/voxdesk/pkg/audio"
)

// Endpoint detection defaults.
const (
	DefaultHangover          = 500 * time.Millisecond
	DefaultSilence           = 300 * time.Millisecond
	DefaultMinUtteranceBytes = 6000
)

// EndpointConfig holds the thresholds of an [EndpointDetector]. Zero fields
// take the defaults.
type EndpointConfig struct {
	// Hangover is how long after the last voiced frame unvoiced frames are
	// still kept, to preserve natural pauses.
	Hangover time.Duration

	// Silence is the gap after the last voiced frame that ends an utterance.
	Silence time.Duration

	// MinBytes is the exclusive lower bound on the size of a flushed
	// utterance.
	MinBytes int

	// Format describes the frames. Zero means [audio.Pipeline].
	Format audio.Format
}

func (c EndpointConfig) withDefaults() EndpointConfig {
	if c.Hangover <= 0 {
		c.Hangover = DefaultHangover
	}
	if c.Silence <= 0 {
		c.Silence = DefaultSilence
	}
	if c.MinBytes <= 0 {
		c.MinBytes = DefaultMinUtteranceBytes
	}
	if c.Format == (audio.Format{}) {
		c.Format = audio.Pipeline
	}
	return c
}

// Utterance is one flushed span of speech. It is an immutable snapshot: the
// detector never touches PCM again after handing it out.
type Utterance struct {
	// SessionID names the session the utterance came from.
	SessionID string

	// Seq numbers the utterances of a session, starting at 1.
	Seq uint64

	PCM    []byte
	Format audio.Format

	// Start is the audio-clock offset of the first buffered frame.
	Start time.Duration

	// LastVoice is the audio-clock offset just past the last voiced frame.
	LastVoice time.Duration
}

// Duration returns the playback length of u.PCM.
func (u Utterance) Duration() time.Duration {
	return u.Format.Duration(len(u.PCM))
}

// EndpointDetector decides where utterances end. It is driven by the
// session's audio clock (frame offsets), not wall time, so its decisions do
// not depend on how fast blocks arrive or decode.
//
// An EndpointDetector is owned by one ingestion goroutine and is not safe
// for concurrent use.
type EndpointDetector struct {
	cfg EndpointConfig

	buf       []byte
	start     time.Duration
	lastVoice time.Duration
	voiced    bool
	seq       uint64
}

// NewEndpointDetector returns a detector with cfg applied over the defaults.
func NewEndpointDetector(cfg EndpointConfig) *EndpointDetector {
	return &EndpointDetector{cfg: cfg.withDefaults()}
}

// Push feeds one classified frame. It returns the flushed utterance and true
// when the frame completes one.
//
// Voiced frames are buffered and move the last-voice mark. Unvoiced frames
// are buffered while they end within the hangover of the last voiced frame
// and dropped otherwise. After each frame an utterance is flushed if the
// audio since the last voiced frame exceeds the silence threshold and the
// buffer exceeds the minimum size. Smaller buffers are kept and grow with
// the next speech.
func (d *EndpointDetector) Push(f audio.Frame, isVoiced bool) (Utterance, bool) {
	now := f.End()
	switch {
	case isVoiced:
		d.add(f)
		d.lastVoice = now
		d.voiced = true
	case d.voiced && now-d.lastVoice <= d.cfg.Hangover:
		d.add(f)
	}

	if !d.voiced || now-d.lastVoice <= d.cfg.Silence || len(d.buf) <= d.cfg.MinBytes {
		return Utterance{}, false
	}
	return d.snapshot(), true
}

// Flush ends the pending utterance without waiting for the silence gap, as
// at end of stream. It returns false when nothing voiced is buffered or the
// buffer does not exceed the minimum size; the buffer is discarded either
// way.
func (d *EndpointDetector) Flush() (Utterance, bool) {
	if !d.voiced || len(d.buf) <= d.cfg.MinBytes {
		d.Reset()
		return Utterance{}, false
	}
	return d.snapshot(), true
}

func (d *EndpointDetector) snapshot() Utterance {
	d.seq++
	u := Utterance{
		Seq:       d.seq,
		PCM:       d.buf,
		Format:    d.cfg.Format,
		Start:     d.start,
		LastVoice: d.lastVoice,
	}
	d.Reset()
	return u
}

// Buffered returns the number of PCM bytes waiting for an endpoint.
func (d *EndpointDetector) Buffered() int { return len(d.buf) }

// Reset discards buffered audio and the last-voice mark.
func (d *EndpointDetector) Reset() {
	d.buf = nil
	d.voiced = false
	d.lastVoice = 0
}

func (d *EndpointDetector) add(f audio.Frame) {
	if len(d.buf) == 0 {
		d.start = f.Offset
	}
	d.buf = append(d.buf, f.Data...)
}
