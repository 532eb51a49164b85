package app

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/voxdesk/internal/engine"
	"github.com/MrWong99/voxdesk/internal/engine/cascade"
	"github.com/MrWong99/voxdesk/internal/protocol"
	"github.com/MrWong99/voxdesk/internal/server"
	"github.com/MrWong99/voxdesk/pkg/audio"
	"github.com/MrWong99/voxdesk/pkg/audio/decode"
)

// DialoguePath is the one-shot endpoint: a complete recording in, the
// answer with links to its audio and video out.
const DialoguePath = "/api/dialogue"

// dialogueResponse is the JSON body answered by [dialogueHandler]. URLs and
// routing are null when the stage produced nothing.
type dialogueResponse struct {
	UserText       string          `json:"user_text"`
	AnswerText     string          `json:"answer_text"`
	Emotion        string          `json:"emotion,omitempty"`
	Gesture        string          `json:"gesture,omitempty"`
	Clarify        bool            `json:"clarify,omitempty"`
	AudioURL       *string         `json:"audio_url"`
	AvatarVideoURL *string         `json:"avatar_video_url"`
	Routing        *engine.Routing `json:"routing"`
}

// dialogueHandler serves POST /api/dialogue. The recording is the multipart
// form field "audio" in any container the decoder understands.
type dialogueHandler struct {
	decoders decode.Factory
	runner   *cascade.Runner
	mediaDir string
	maxBytes int64
}

func (h *dialogueHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slog.With("path", DialoguePath)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	file, _, err := r.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "recording too large")
			return
		}
		writeError(w, http.StatusBadRequest, `multipart field "audio" required`)
		return
	}
	defer file.Close()
	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read recording")
		return
	}

	dec, err := h.decoders()
	if err != nil {
		log.Error("dialogue: create decoder", "err", err)
		writeError(w, http.StatusInternalServerError, "decoder unavailable")
		return
	}
	pcm, err := dec.Decode(ctx, raw)
	if err != nil {
		log.Warn("dialogue: decode failed", "bytes", len(raw), "err", err)
		writeError(w, http.StatusUnprocessableEntity, protocol.ErrorConversionFailed)
		return
	}

	name := "reply_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	res, err := h.runner.Dialogue(ctx, cascade.DialogueRequest{
		Name:     name,
		PCM:      pcm,
		Format:   audio.Pipeline,
		AudioDir: h.mediaDir,
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("dialogue: client gone", "err", err)
			return
		}
		log.Warn("dialogue failed", "name", name, "err", err)
		writeError(w, http.StatusBadGateway, "dialogue failed")
		return
	}

	resp := dialogueResponse{
		UserText:   res.UserText,
		AnswerText: res.Reply.Text,
		Emotion:    string(res.Reply.Emotion),
		Gesture:    string(res.Reply.Gesture),
		Clarify:    res.Clarified,
	}
	if res.AudioPath != "" {
		if rel, err := filepath.Rel(h.mediaDir, res.AudioPath); err == nil && !strings.HasPrefix(rel, "..") {
			u := server.DefaultMediaPrefix + filepath.ToSlash(rel)
			resp.AudioURL = &u
		}
	}
	if res.VideoURL != "" {
		resp.AvatarVideoURL = &res.VideoURL
	}
	if res.HasRouting {
		resp.Routing = &res.Routing
	}
	log.Info("dialogue answered", "name", name, "user_text", res.UserText, "audio", resp.AudioURL != nil, "routing", res.HasRouting)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
