package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/internal/protocol"
	"github.com/MrWong99/voxdesk/pkg/audio"
	"github.com/MrWong99/voxdesk/pkg/provider/avatar"
	"github.com/MrWong99/voxdesk/pkg/provider/tts"
)

// Avatar defaults.
const (
	DefaultAvatarTimeout  = 5 * time.Minute
	DefaultVideoURLPrefix = "/media/videos"
)

// AvatarConfig configures an [Avatar].
type AvatarConfig struct {
	// Portrait is the image the renderer animates. Rendering is skipped
	// while the file does not exist.
	Portrait string

	// AudioDir receives WAV files for synthesized audio that has no file of
	// its own.
	AudioDir string

	// URLPrefix is joined with the video file name to build the video_url.
	URLPrefix string

	// Timeout bounds one render.
	Timeout time.Duration
}

// Avatar renders talking-head videos in the background and announces them
// with a video_url message. Failures are logged and otherwise ignored.
type Avatar struct {
	renderer avatar.Renderer
	cfg      AvatarConfig
	metrics  *observe.Metrics
	wg       sync.WaitGroup
}

// NewAvatar returns an Avatar that renders with r. m may be nil.
func NewAvatar(r avatar.Renderer, cfg AvatarConfig, m *observe.Metrics) *Avatar {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAvatarTimeout
	}
	if cfg.URLPrefix == "" {
		cfg.URLPrefix = DefaultVideoURLPrefix
	}
	return &Avatar{renderer: r, cfg: cfg, metrics: m}
}

// Trigger starts a render for speech named name and returns whether one was
// started. It never blocks on the renderer. The render stops when ctx is
// done or the timeout elapses.
func (a *Avatar) Trigger(ctx context.Context, name string, speech *tts.Audio, out *protocol.Streamer) bool {
	return a.start(ctx, name, speech, out, nil)
}

// start is [Avatar.Trigger] that also counts the render in group when it is
// not nil.
func (a *Avatar) start(ctx context.Context, name string, speech *tts.Audio, out *protocol.Streamer, group *sync.WaitGroup) bool {
	log := observe.Logger(ctx).With("avatar", name)
	req, ok := a.request(log, name, speech)
	if !ok {
		return false
	}

	a.wg.Add(1)
	if group != nil {
		group.Add(1)
	}
	go func() {
		defer a.wg.Done()
		if group != nil {
			defer group.Done()
		}
		defer func() {
			if r := recover(); r != nil {
				slog.Error("cascade: avatar render panicked", "avatar", name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			}
		}()
		a.render(ctx, log, req, out)
	}()
	return true
}

// Render renders speech synchronously and returns the video URL, or "" when
// rendering was skipped or failed.
func (a *Avatar) Render(ctx context.Context, name string, speech *tts.Audio) string {
	log := observe.Logger(ctx).With("avatar", name)
	req, ok := a.request(log, name, speech)
	if !ok {
		return ""
	}
	url, _ := a.renderURL(ctx, log, req)
	return url
}

func (a *Avatar) request(log *slog.Logger, name string, speech *tts.Audio) (avatar.Request, bool) {
	if speech == nil || len(speech.PCM) == 0 {
		return avatar.Request{}, false
	}
	if _, err := os.Stat(a.cfg.Portrait); err != nil {
		log.Debug("avatar skipped, portrait unavailable", "portrait", a.cfg.Portrait, "err", err)
		return avatar.Request{}, false
	}
	wav, err := a.audioFile(name, speech)
	if err != nil {
		log.Warn("avatar skipped", "err", err)
		return avatar.Request{}, false
	}
	return avatar.Request{Portrait: a.cfg.Portrait, Audio: wav, Name: name}, true
}

// Wait blocks until every started render has finished.
func (a *Avatar) Wait() { a.wg.Wait() }

func (a *Avatar) render(ctx context.Context, log *slog.Logger, req avatar.Request, out *protocol.Streamer) {
	url, ok := a.renderURL(ctx, log, req)
	if !ok {
		return
	}
	if err := out.Send(context.WithoutCancel(ctx), protocol.VideoURL(url)); err != nil {
		log.Debug("video_url not delivered", "url", url, "err", err)
		return
	}
	log.Info("avatar video ready", "url", url)
}

func (a *Avatar) renderURL(ctx context.Context, log *slog.Logger, req avatar.Request) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	ctx, finish := observe.StartStage(ctx, a.metrics, observe.StageAvatar)

	video, err := a.renderer.Render(ctx, req)
	finish(err)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("avatar render timed out", "timeout", a.cfg.Timeout)
		return "", false
	case errors.Is(err, context.Canceled):
		log.Debug("avatar render cancelled")
		return "", false
	case err != nil:
		log.Warn("avatar render failed", "err", err)
		return "", false
	}
	return strings.TrimSuffix(a.cfg.URLPrefix, "/") + "/" + filepath.Base(video), true
}

// audioFile returns a WAV path for speech, writing one when the synthesizer
// kept the audio in memory.
func (a *Avatar) audioFile(name string, speech *tts.Audio) (string, error) {
	if speech.Path != "" && filepath.Ext(speech.Path) == ".wav" {
		if _, err := os.Stat(speech.Path); err == nil {
			return speech.Path, nil
		}
	}
	if err := os.MkdirAll(a.cfg.AudioDir, 0o755); err != nil {
		return "", fmt.Errorf("cascade: avatar audio dir: %w", err)
	}
	p := filepath.Join(a.cfg.AudioDir, name+".wav")
	if err := audio.WriteWAVFile(p, speech.PCM, speech.Format()); err != nil {
		return "", fmt.Errorf("cascade: write avatar audio: %w", err)
	}
	return p, nil
}
