package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxdesk/pkg/audio"
	"github.com/MrWong99/voxdesk/pkg/provider/tts"
)

// DefaultChunkDuration is the playback length of one outbound PCM frame.
const DefaultChunkDuration = 200 * time.Millisecond

const audioEndTimeout = 5 * time.Second

// Meta is the optional expression metadata announced in audio_start.
type Meta struct {
	Emotion string
	Gesture string
}

// Streamer is the single ordered output path of a session. Every message of a
// session goes through one Streamer so that an audio_start .. audio_end
// sequence is never interleaved with output of a concurrent turn.
type Streamer struct {
	conn  Conn
	chunk time.Duration

	mu sync.Mutex
}

// StreamerOption configures a [Streamer].
type StreamerOption func(*Streamer)

// WithChunkDuration sets the playback length of one binary frame.
func WithChunkDuration(d time.Duration) StreamerOption {
	return func(s *Streamer) {
		if d > 0 {
			s.chunk = d
		}
	}
}

// NewStreamer creates a Streamer writing to conn.
func NewStreamer(conn Conn, opts ...StreamerOption) *Streamer {
	s := &Streamer{conn: conn, chunk: DefaultChunkDuration}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Closed reports whether the underlying connection is gone.
func (s *Streamer) Closed() bool { return s.conn.Closed() }

// Send writes one JSON message. It returns [ErrClosed] without writing when
// the connection is gone.
func (s *Streamer) Send(ctx context.Context, msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendJSON(ctx, msg)
}

// Stream writes a: audio_start, the PCM in chunk-sized binary frames (the
// last may be shorter), then audio_end. The output lock is held for the
// whole sequence.
//
// A failed frame aborts the remaining frames; audio_end is still attempted
// when the connection is open so the client can reset its player. Nil or
// empty audio writes nothing.
func (s *Streamer) Stream(ctx context.Context, a *tts.Audio, meta Meta) error {
	if a == nil || len(a.PCM) == 0 {
		return nil
	}
	f := a.Format()
	size := f.BytesFor(s.chunk)
	if size <= 0 {
		return fmt.Errorf("protocol: invalid audio format %s", f)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sendJSON(ctx, AudioStart(f, meta.Emotion, meta.Gesture)); err != nil {
		return err
	}

	var frameErr error
	for off := 0; off < len(a.PCM); off += size {
		end := min(off+size, len(a.PCM))
		if err := s.sendBinary(ctx, a.PCM[off:end]); err != nil {
			frameErr = err
			break
		}
	}
	if frameErr != nil && !errors.Is(frameErr, ErrClosed) {
		slog.Warn("audio stream aborted", "err", frameErr, "format", f.String())
	}

	if s.conn.Closed() {
		return errors.Join(frameErr, ErrClosed)
	}
	// The turn context may be the reason the frames failed; audio_end still
	// has to reach the client.
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), audioEndTimeout)
	defer cancel()
	endErr := s.sendJSON(endCtx, AudioEnd())
	return errors.Join(frameErr, endErr)
}

// Frames returns the number of binary frames [Streamer.Stream] writes for
// n bytes in format f.
func (s *Streamer) Frames(n int, f audio.Format) int {
	size := f.BytesFor(s.chunk)
	if size <= 0 || n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

func (s *Streamer) sendJSON(ctx context.Context, msg any) error {
	if s.conn.Closed() {
		return ErrClosed
	}
	return s.conn.SendJSON(ctx, msg)
}

func (s *Streamer) sendBinary(ctx context.Context, p []byte) error {
	if s.conn.Closed() {
		return ErrClosed
	}
	return s.conn.SendBinary(ctx, p)
}
