package cascade

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrWong99/voxdesk/internal/engine"
	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/internal/session"
	"github.com/MrWong99/voxdesk/pkg/audio"
	"github.com/MrWong99/voxdesk/pkg/provider/tts"
)

// RoutedResponder is a [engine.Responder] that can ask for a routing block.
// [engine.Generator] implements it.
type RoutedResponder interface {
	GenerateRouted(ctx context.Context, text string) (engine.Reply, engine.Routing, bool, error)
}

// DialogueRequest is one complete recording to answer.
type DialogueRequest struct {
	// Name is the base name of the files written for the reply.
	Name string

	PCM    []byte
	Format audio.Format

	// AudioDir receives the reply as Name.wav. Empty skips writing it.
	AudioDir string
}

// DialogueResult is the outcome of [Runner.Dialogue]. Zero fields mean the
// stage produced nothing: no speech recognised, no audio, no video.
type DialogueResult struct {
	UserText string
	Reply    engine.Reply

	// Clarified is set when the transcript was below the confidence
	// threshold and Reply is the clarification.
	Clarified bool

	Routing    engine.Routing
	HasRouting bool

	Speech    *tts.Audio
	AudioPath string
	VideoURL  string
}

// Dialogue answers one complete recording synchronously: transcription,
// confidence gate, generation with routing, synthesis and, when enabled, the
// avatar render. As in a streamed turn, transcription and generation errors
// fail the dialogue while synthesis and render failures only leave the
// corresponding result fields empty.
func (r *Runner) Dialogue(ctx context.Context, req DialogueRequest) (DialogueResult, error) {
	settings := r.Settings()
	ctx, finish := observe.StartStage(ctx, r.metrics, observe.StageTurn)
	log := observe.Logger(ctx).With("dialogue", req.Name)

	res, err := r.dialogue(ctx, req, settings)
	if err != nil {
		log.Debug("dialogue cancelled", "err", err)
	}
	finish(err)
	return res, err
}

func (r *Runner) dialogue(ctx context.Context, req DialogueRequest, s Settings) (DialogueResult, error) {
	var res DialogueResult
	log := observe.Logger(ctx).With("dialogue", req.Name)

	u := session.Utterance{SessionID: req.Name, PCM: req.PCM, Format: req.Format}
	transcript, err := r.transcribe(ctx, u, s.Language)
	if err != nil {
		return res, err
	}
	if transcript.Empty() {
		log.Debug("no speech recognised", "duration", u.Duration())
		return res, nil
	}
	res.UserText = transcript.Text

	if r.gate.Allow(transcript) {
		if res.Reply, res.Routing, res.HasRouting, err = r.generateRouted(ctx, transcript.Text); err != nil {
			return res, err
		}
	} else {
		if r.metrics != nil {
			r.metrics.Clarifications.Add(ctx, 1)
		}
		res.Clarified = true
		res.Reply = engine.Reply{Text: s.ClarifyText, Emotion: engine.EmotionNeutral, Gesture: engine.GestureNone}
	}

	res.Speech = r.synthesize(ctx, res.Reply.Text)
	if res.Speech == nil {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log.Warn("reply delivered without audio")
		return res, nil
	}

	if req.AudioDir != "" {
		if res.AudioPath, err = writeReply(req.AudioDir, req.Name, res.Speech); err != nil {
			log.Warn("reply audio not saved", "err", err)
		} else {
			speech := *res.Speech
			speech.Path = res.AudioPath
			res.Speech = &speech
		}
	}

	if r.avatar != nil && s.AvatarEnabled {
		res.VideoURL = r.avatar.Render(ctx, req.Name, res.Speech)
	}
	return res, ctx.Err()
}

func (r *Runner) generateRouted(ctx context.Context, text string) (engine.Reply, engine.Routing, bool, error) {
	routed, ok := r.responder.(RoutedResponder)
	if !ok {
		reply, err := r.generate(ctx, text)
		return reply, engine.Routing{}, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Generate)
	defer cancel()
	ctx, finish := observe.StartStage(ctx, r.metrics, observe.StageGenerate)
	reply, routing, hasRouting, err := routed.GenerateRouted(ctx, text)
	finish(err)
	if err != nil {
		return engine.Reply{}, engine.Routing{}, false, fmt.Errorf("cascade: generate: %w", err)
	}
	return reply, routing, hasRouting, nil
}

func writeReply(dir, name string, speech *tts.Audio) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cascade: reply audio dir: %w", err)
	}
	p := filepath.Join(dir, name+".wav")
	if err := audio.WriteWAVFile(p, speech.PCM, speech.Format()); err != nil {
		return "", fmt.Errorf("cascade: write reply audio: %w", err)
	}
	return p, nil
}
