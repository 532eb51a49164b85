package app_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/voxdesk/internal/app"
	"github.com/MrWong99/voxdesk/internal/engine"
	"github.com/MrWong99/voxdesk/pkg/audio/decode"
	decodemock "github.com/MrWong99/voxdesk/pkg/audio/decode/mock"
	"github.com/MrWong99/voxdesk/pkg/provider/llm"
)

type dialogueReply struct {
	UserText       string          `json:"user_text"`
	AnswerText     string          `json:"answer_text"`
	Emotion        string          `json:"emotion"`
	AudioURL       *string         `json:"audio_url"`
	AvatarVideoURL *string         `json:"avatar_video_url"`
	Routing        *engine.Routing `json:"routing"`
}

// postRecording uploads recording as the "audio" form field.
func postRecording(t *testing.T, ts *httptest.Server, field string, recording []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "question.webm")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(recording)
	mw.Close()

	resp, err := http.Post(ts.URL+app.DialoguePath, mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestApp_Dialogue(t *testing.T) {
	t.Parallel()
	f := newFixture()
	a, err := app.New(testConfig(t, ""), f.providers(), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	resp := postRecording(t, ts, "audio", bytes.Repeat([]byte{1}, 32000))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	var got dialogueReply
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.UserText != "Где бухгалтерия?" {
		t.Errorf("user_text: got %q", got.UserText)
	}
	if got.AnswerText != "Бухгалтерия на втором этаже." || got.Emotion != "happy" {
		t.Errorf("answer: got %q (%s)", got.AnswerText, got.Emotion)
	}
	if got.Routing != nil {
		t.Errorf("routing: got %+v, want null", *got.Routing)
	}
	if got.AvatarVideoURL != nil {
		t.Errorf("avatar_video_url: got %q, want null without an avatar", *got.AvatarVideoURL)
	}
	if got.AudioURL == nil || !strings.HasPrefix(*got.AudioURL, "/media/reply_") || !strings.HasSuffix(*got.AudioURL, ".wav") {
		t.Fatalf("audio_url: got %v", got.AudioURL)
	}

	media, err := http.Get(ts.URL + *got.AudioURL)
	if err != nil {
		t.Fatalf("get audio: %v", err)
	}
	defer media.Body.Close()
	wav, _ := io.ReadAll(media.Body)
	if media.StatusCode != http.StatusOK || !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("served audio: status %d, %d bytes", media.StatusCode, len(wav))
	}
	if n := len(wav) - 44; n != 22050 {
		t.Errorf("served pcm bytes: got %d, want 22050", n)
	}
}

func TestApp_DialogueRouting(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.llm.CompleteResponse = &llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{
			ID:        "call_1",
			Name:      engine.ReplyToolName,
			Arguments: `{"text":"Бухгалтерия на втором этаже. {\"department\":\"Бухгалтерия\",\"room\":\"204\",\"floor\":2,\"contact\":null}","emotion":"neutral","gesture":"point"}`,
		}},
	}
	a, err := app.New(testConfig(t, ""), f.providers(), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	resp := postRecording(t, ts, "audio", bytes.Repeat([]byte{1}, 32000))
	var got dialogueReply
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	want := engine.Routing{Department: "Бухгалтерия", Room: "204", Floor: "2"}
	if got.Routing == nil || *got.Routing != want {
		t.Fatalf("routing: got %+v, want %+v", got.Routing, want)
	}
	if got.AnswerText != "Бухгалтерия на втором этаже." {
		t.Errorf("answer_text keeps the routing block: %q", got.AnswerText)
	}
	if texts := f.tts.Texts(); len(texts) != 1 || strings.Contains(texts[0], "department") {
		t.Errorf("synthesized texts: %v", texts)
	}
	calls := f.llm.CompleteCalls
	if len(calls) != 1 || !strings.Contains(calls[0].Req.SystemPrompt, "department") {
		t.Errorf("system prompt lacks routing instructions")
	}
}

func TestApp_DialogueRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		field  string
		decErr error
		want   int
	}{
		{name: "missing field", field: "file", want: http.StatusBadRequest},
		{name: "undecodable", field: "audio", decErr: decode.ErrNoAudio, want: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			p := f.providers()
			p.Decoder = func() (decode.Decoder, error) { return &decodemock.Decoder{Err: tt.decErr}, nil }
			a, err := app.New(testConfig(t, ""), p, app.WithMetrics(testMetrics(t)))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			ts := httptest.NewServer(a.Handler())
			defer ts.Close()

			resp := postRecording(t, ts, tt.field, []byte("not audio"))
			if resp.StatusCode != tt.want {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tt.want)
			}
			if n := f.stt.CallCount(); n != 0 {
				t.Errorf("transcribe calls: got %d, want 0", n)
			}
		})
	}
}

func TestApp_DialogueRejectsGet(t *testing.T) {
	t.Parallel()
	a, err := app.New(testConfig(t, ""), newFixture().providers(), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + app.DialoguePath)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}
