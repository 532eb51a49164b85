// Package session owns the ingestion side of one streaming connection:
// compressed chunks are accumulated and decoded, split into frames,
// classified for voice activity and cut into utterances, which are handed
// to concurrent units through a [Dispatcher].
//
// Only the goroutine running [Session.Run] touches the accumulator, the
// endpoint detector and the audio clock. Units receive immutable
// [Utterance] snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/internal/protocol"
	"github.com/MrWong99/voxdesk/pkg/audio"
	"github.com/MrWong99/voxdesk/pkg/audio/decode"
	"github.com/MrWong99/voxdesk/pkg/provider/vad"
)

// Source yields the compressed audio chunks of a connection. Receive returns
// [io.EOF] when the client finished sending but can still be written to, and
// any other error when the connection is gone.
type Source interface {
	Receive(ctx context.Context) ([]byte, error)
}

// Config holds the ingestion parameters of a session.
type Config struct {
	// ChunkThreshold is passed to [NewAccumulator].
	ChunkThreshold int

	// FrameDuration is the classification frame length. Zero means
	// [audio.DefaultFrameDuration].
	FrameDuration time.Duration

	// NoiseGate silences 10 ms blocks of decoded audio below this RMS level
	// before they are classified. Zero disables it.
	NoiseGate float64

	Endpoint EndpointConfig
	Dispatch DispatcherConfig
}

const noiseGateBlock = 10 * time.Millisecond

// Session is the state of one streaming connection.
type Session struct {
	// ID identifies the session in logs.
	ID string

	cfg        Config
	acc        *Accumulator
	det        *EndpointDetector
	classifier vad.Classifier
	out        *protocol.Streamer
	disp       *Dispatcher
	metrics    *observe.Metrics
	format     audio.Format

	// clock is the audio-clock offset of the next decoded sample.
	clock time.Duration
}

// Option configures a [Session].
type Option func(*Session)

// WithID overrides the generated session ID.
func WithID(id string) Option {
	return func(s *Session) { s.ID = id }
}

// WithMetrics records flushes, decode failures and active sessions to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// New creates a session that decodes with dec, classifies with classifier,
// reports errors through out and hands every utterance to h.
//
// The classifier is shared between sessions; dec must belong to this
// session alone.
func New(dec decode.Decoder, classifier vad.Classifier, out *protocol.Streamer, h Handler, cfg Config, opts ...Option) *Session {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = audio.DefaultFrameDuration
	}
	s := &Session{
		ID:         uuid.NewString(),
		cfg:        cfg,
		acc:        NewAccumulator(dec, cfg.ChunkThreshold),
		det:        NewEndpointDetector(cfg.Endpoint),
		classifier: classifier,
		out:        out,
		format:     cfg.Endpoint.withDefaults().Format,
	}
	for _, o := range opts {
		o(s)
	}
	if cfg.Dispatch.Metrics == nil {
		cfg.Dispatch.Metrics = s.metrics
	}
	s.disp = NewDispatcher(h, cfg.Dispatch)
	return s
}

// Dispatcher returns the dispatcher running this session's units.
func (s *Session) Dispatcher() *Dispatcher { return s.disp }

// Run reads src until the connection ends and returns once every unit it
// started has finished.
//
// When src reports [io.EOF] the remaining audio is decoded and endpointed,
// pending speech is flushed regardless of the silence gap and running units are allowed to complete. Any other receive error, or
// cancellation of ctx, cancels the units before waiting for them. A
// decode failure is reported to the client and ingestion continues.
func (s *Session) Run(ctx context.Context, src Source) error {
	log := slog.With("session_id", s.ID)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, 1)
		defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}

	unitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info("session started")
	start := time.Now()

	var runErr error
	for {
		chunk, err := src.Receive(ctx)
		if errors.Is(err, io.EOF) {
			pcm, ferr := s.acc.Flush(ctx)
			if ferr != nil {
				s.reportDecodeFailure(ctx, log, ferr)
			}
			s.ingest(unitCtx, pcm)
			if u, ok := s.det.Flush(); ok {
				s.dispatch(unitCtx, u)
			}
			break
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, protocol.ErrClosed) {
				runErr = fmt.Errorf("session: receive: %w", err)
			}
			cancel()
			break
		}
		if len(chunk) == 0 {
			continue
		}

		pcm, err := s.acc.Accumulate(ctx, chunk)
		if err != nil {
			if s.reportDecodeFailure(ctx, log, err) {
				cancel()
				break
			}
			continue
		}
		s.ingest(unitCtx, pcm)
	}

	s.disp.Wait()
	log.Info("session ended",
		"duration", time.Since(start).Round(time.Millisecond),
		"dropped", s.disp.Dropped(),
	)
	return runErr
}

// ingest frames pcm on the audio clock, classifies every frame and
// dispatches completed utterances.
func (s *Session) ingest(ctx context.Context, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	if s.cfg.NoiseGate > 0 {
		pcm = audio.NoiseGate16(pcm, s.cfg.NoiseGate, s.format.BytesFor(noiseGateBlock))
	}
	frames := audio.SplitFrames(pcm, s.format, s.cfg.FrameDuration, s.clock)
	s.clock += s.format.Duration(len(pcm))

	for _, fr := range frames {
		voiced, err := s.classifier.IsVoiced(fr.Data)
		if err != nil {
			slog.Debug("session: frame skipped", "session_id", s.ID, "offset", fr.Offset, "err", err)
			continue
		}
		if u, ok := s.det.Push(fr, voiced); ok {
			s.dispatch(ctx, u)
		}
	}
}

func (s *Session) dispatch(ctx context.Context, u Utterance) {
	u.SessionID = s.ID
	if s.metrics != nil {
		s.metrics.UtteranceFlushes.Add(ctx, 1)
	}
	slog.Debug("session: utterance flushed",
		"session_id", s.ID,
		"seq", u.Seq,
		"bytes", len(u.PCM),
		"start", u.Start,
		"duration", u.Duration(),
	)
	s.disp.Dispatch(ctx, u)
}

// reportDecodeFailure sends the conversion_failed message. It reports true
// when the connection is gone.
func (s *Session) reportDecodeFailure(ctx context.Context, log *slog.Logger, err error) bool {
	log.Warn("session: decode failed", "err", err)
	if s.metrics != nil {
		s.metrics.DecodeFailures.Add(ctx, 1)
	}
	if serr := s.out.Send(ctx, protocol.Error(protocol.ErrorConversionFailed)); serr != nil {
		return errors.Is(serr, protocol.ErrClosed)
	}
	return false
}
