// Package cascade runs one conversational turn per utterance: transcribe,
// gate on confidence, generate a reply, synthesize it and stream it back,
// with an optional avatar render on the side.
//
// Every stage degrades instead of failing the turn. A transcription that
// yields nothing ends the turn quietly, a generator failure becomes the
// apology text, a synthesis failure omits audio, and an avatar failure omits
// the video. Only cancellation of the turn context stops a turn early.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxdesk/internal/engine"
	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/internal/protocol"
	"github.com/MrWong99/voxdesk/internal/session"
	"github.com/MrWong99/voxdesk/pkg/provider/stt"
	"github.com/MrWong99/voxdesk/pkg/provider/tts"
)

// DefaultClarifyText is sent and spoken when a transcript is not trusted.
const DefaultClarifyText = "Извините, не расслышал. Повторите, пожалуйста."

// Default per-stage timeouts.
const (
	DefaultTranscribeTimeout = 60 * time.Second
	DefaultGenerateTimeout   = 60 * time.Second
	DefaultSynthesizeTimeout = 60 * time.Second
)

// Synthesizer turns reply text into audio. It returns nil when no audio
// could be produced; the reply is then delivered as text only.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) *tts.Audio
}

// Settings are the turn parameters that may change while the service runs.
type Settings struct {
	// Language is passed to the transcription backends as a hint.
	Language string

	// ClarifyText answers a transcript below the confidence threshold.
	ClarifyText string

	// AvatarEnabled turns avatar rendering on when a renderer is configured.
	AvatarEnabled bool
}

// Timeouts bound the external calls of one turn. Zero fields take the
// defaults.
type Timeouts struct {
	Transcribe time.Duration
	Generate   time.Duration
	Synthesize time.Duration
}

// Runner executes turns. One Runner serves every session.
//
// All methods are safe for concurrent use.
type Runner struct {
	stt       stt.Provider
	responder engine.Responder
	synth     Synthesizer
	gate      engine.Gate
	timeouts  Timeouts
	avatar    *Avatar
	metrics   *observe.Metrics

	settings atomic.Pointer[Settings]
}

// Option configures a [Runner].
type Option func(*Runner)

// WithAvatar enables best-effort avatar rendering through a.
func WithAvatar(a *Avatar) Option {
	return func(r *Runner) { r.avatar = a }
}

// WithMetrics records stage latencies and clarifications to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithGate sets the confidence gate. The default threshold is
// [engine.DefaultConfidenceThreshold].
func WithGate(g engine.Gate) Option {
	return func(r *Runner) { r.gate = g }
}

// WithTimeouts sets the per-stage timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(r *Runner) { r.timeouts = t }
}

// WithSettings sets the initial [Settings].
func WithSettings(s Settings) Option {
	return func(r *Runner) { r.SetSettings(s) }
}

// New creates a Runner.
func New(transcriber stt.Provider, responder engine.Responder, synth Synthesizer, opts ...Option) *Runner {
	r := &Runner{
		stt:       transcriber,
		responder: responder,
		synth:     synth,
		gate:      engine.Gate{Threshold: engine.DefaultConfidenceThreshold},
	}
	r.SetSettings(Settings{})
	for _, o := range opts {
		o(r)
	}
	if r.timeouts.Transcribe <= 0 {
		r.timeouts.Transcribe = DefaultTranscribeTimeout
	}
	if r.timeouts.Generate <= 0 {
		r.timeouts.Generate = DefaultGenerateTimeout
	}
	if r.timeouts.Synthesize <= 0 {
		r.timeouts.Synthesize = DefaultSynthesizeTimeout
	}
	return r
}

// SetSettings replaces the live settings. Turns already running keep the
// settings they started with.
func (r *Runner) SetSettings(s Settings) {
	if s.ClarifyText == "" {
		s.ClarifyText = DefaultClarifyText
	}
	r.settings.Store(&s)
}

// Settings returns the live settings.
func (r *Runner) Settings() Settings { return *r.settings.Load() }

// Handler binds the runner to one session's output.
func (r *Runner) Handler(out *protocol.Streamer) session.Handler {
	return func(ctx context.Context, u session.Utterance) {
		r.Run(ctx, u, out)
	}
}

// Conversation binds the runner to one connection. Avatar renders started
// by its turns run under the connection context instead of the turn
// context, so a client that half-closes still receives its video_url.
type Conversation struct {
	r       *Runner
	ctx     context.Context
	out     *protocol.Streamer
	renders sync.WaitGroup
}

// Conversation returns a Conversation whose renders stop when ctx is done.
func (r *Runner) Conversation(ctx context.Context, out *protocol.Streamer) *Conversation {
	return &Conversation{r: r, ctx: ctx, out: out}
}

// Handle implements [session.Handler].
func (c *Conversation) Handle(ctx context.Context, u session.Utterance) {
	c.r.run(ctx, u, c.out, c)
}

// Wait blocks until the renders started by this conversation have finished.
func (c *Conversation) Wait() { c.renders.Wait() }

// Wait blocks until background avatar renders have finished.
func (r *Runner) Wait() {
	if r.avatar != nil {
		r.avatar.Wait()
	}
}

// Run executes one turn for u and writes its output to out.
//
// Output order within a turn is user_text, then clarify or answer, then the
// audio stream. A video_url may follow at any later point. Output for a
// closed connection is discarded.
func (r *Runner) Run(ctx context.Context, u session.Utterance, out *protocol.Streamer) {
	r.run(ctx, u, out, nil)
}

func (r *Runner) run(ctx context.Context, u session.Utterance, out *protocol.Streamer, conv *Conversation) {
	settings := r.Settings()
	ctx, finish := observe.StartStage(ctx, r.metrics, observe.StageTurn)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("session.id", u.SessionID),
		attribute.Int64("utterance.seq", int64(u.Seq)),
		attribute.Int("utterance.bytes", len(u.PCM)),
	)
	log := observe.Logger(ctx).With("session_id", u.SessionID, "seq", u.Seq)

	err := r.turn(ctx, log, u, out, settings, conv)
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrClosed):
		log.Debug("turn output discarded, connection closed")
		err = nil
	case ctx.Err() != nil:
		log.Debug("turn cancelled", "err", err)
	default:
		log.Warn("turn failed", "err", err)
	}
	finish(err)
}

func (r *Runner) turn(ctx context.Context, log *slog.Logger, u session.Utterance, out *protocol.Streamer, s Settings, conv *Conversation) error {
	transcript, err := r.transcribe(ctx, u, s.Language)
	if err != nil {
		return err
	}
	if transcript.Empty() {
		log.Debug("no speech recognised", "duration", u.Duration())
		return nil
	}
	log.Info("transcribed", "provider", transcript.Provider, "text", transcript.Text)

	if out.Closed() {
		return protocol.ErrClosed
	}
	if err := out.Send(ctx, protocol.UserText(transcript.Text)); err != nil {
		return fmt.Errorf("cascade: send user_text: %w", err)
	}

	var reply engine.Reply
	if r.gate.Allow(transcript) {
		if reply, err = r.generate(ctx, transcript.Text); err != nil {
			return err
		}
		if err := out.Send(ctx, protocol.Answer(reply.Text, string(reply.Emotion), string(reply.Gesture))); err != nil {
			return fmt.Errorf("cascade: send answer: %w", err)
		}
	} else {
		log.Info("transcript below confidence threshold", "confidence", *transcript.Confidence, "threshold", r.gate.Threshold)
		if r.metrics != nil {
			r.metrics.Clarifications.Add(ctx, 1)
		}
		reply = engine.Reply{Text: s.ClarifyText, Emotion: engine.EmotionNeutral, Gesture: engine.GestureNone}
		if err := out.Send(ctx, protocol.Clarify(reply.Text)); err != nil {
			return fmt.Errorf("cascade: send clarify: %w", err)
		}
	}

	if out.Closed() {
		return protocol.ErrClosed
	}
	speech := r.synthesize(ctx, reply.Text)
	if speech == nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("reply delivered without audio")
		return nil
	}

	if r.avatar != nil && s.AvatarEnabled {
		name := fmt.Sprintf("%s_%d", u.SessionID, u.Seq)
		if conv != nil {
			r.avatar.start(conv.ctx, name, speech, out, &conv.renders)
		} else {
			r.avatar.Trigger(ctx, name, speech, out)
		}
	}

	meta := protocol.Meta{Emotion: string(reply.Emotion), Gesture: string(reply.Gesture)}
	if err := out.Stream(ctx, speech, meta); err != nil {
		return fmt.Errorf("cascade: stream audio: %w", err)
	}
	log.Debug("turn complete", "provider", speech.Provider, "audio", speech.Duration())
	return nil
}

func (r *Runner) transcribe(ctx context.Context, u session.Utterance, lang string) (stt.Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Transcribe)
	defer cancel()
	ctx, finish := observe.StartStage(ctx, r.metrics, observe.StageTranscribe)
	t, err := r.stt.Transcribe(ctx, stt.Request{PCM: u.PCM, Format: u.Format, Language: lang})
	finish(err)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("cascade: transcribe: %w", err)
	}
	return t, nil
}

func (r *Runner) generate(ctx context.Context, text string) (engine.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Generate)
	defer cancel()
	ctx, finish := observe.StartStage(ctx, r.metrics, observe.StageGenerate)
	reply, err := r.responder.Generate(ctx, text)
	finish(err)
	if err != nil {
		return engine.Reply{}, fmt.Errorf("cascade: generate: %w", err)
	}
	return reply, nil
}

func (r *Runner) synthesize(ctx context.Context, text string) *tts.Audio {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Synthesize)
	defer cancel()
	ctx, finish := observe.StartStage(ctx, r.metrics, observe.StageSynthesize)
	a := r.synth.Synthesize(ctx, text)
	var err error
	if a == nil {
		err = errNoAudio
	}
	finish(err)
	return a
}

var errNoAudio = errors.New("cascade: no synthesizer produced audio")
