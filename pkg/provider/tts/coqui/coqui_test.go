package coqui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voxdesk/pkg/audio"
	"github.com/MrWong99/voxdesk/pkg/provider/tts"
)

// coquiFormat is the native output format of the Russian VITS model.
var coquiFormat = audio.Format{SampleRate: 22050, Channels: 1, SampleWidth: 2}

func newStandardServer(t *testing.T, pcm []byte, gotQuery chan<- map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		gotQuery <- map[string]string{
			"text":        q.Get("text"),
			"speaker_id":  q.Get("speaker_id"),
			"language_id": q.Get("language_id"),
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.EncodeWAV(pcm, coquiFormat))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestSynthesize_Standard_NativeRate verifies the standard API request and
// that audio keeps the model's 22 050 Hz rate.
func TestSynthesize_Standard_NativeRate(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 22050*2)
	queries := make(chan map[string]string, 1)
	srv := newStandardServer(t, pcm, queries)

	p, err := New(srv.URL, WithSpeaker("p225"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, err := p.Synthesize(context.Background(), "  Добро пожаловать!  ")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if a.SampleRate != 22050 || a.Channels != 1 || a.SampleWidth != 2 {
		t.Errorf("format = %d/%d/%d, want 22050/1/2", a.SampleRate, a.Channels, a.SampleWidth)
	}
	if len(a.PCM) != len(pcm) {
		t.Errorf("PCM length = %d, want %d", len(a.PCM), len(pcm))
	}
	if a.Path != "" {
		t.Errorf("Path = %q, want empty for in-memory synthesis", a.Path)
	}
	if a.Provider != "coqui" {
		t.Errorf("Provider = %q", a.Provider)
	}

	q := <-queries
	if q["text"] != "Добро пожаловать!" || q["speaker_id"] != "p225" || q["language_id"] != "ru" {
		t.Errorf("query = %v", q)
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	t.Parallel()

	var got ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != ttsEndpoint {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write(audio.EncodeWAV(make([]byte, 4410), coquiFormat))
	}))
	t.Cleanup(srv.Close)

	p, _ := New(srv.URL, WithAPIMode(APIModeXTTS), WithLanguage("en"), WithSpeaker("reception.wav"))
	a, err := p.Synthesize(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if a.Duration().Milliseconds() != 100 {
		t.Errorf("duration = %v, want 100ms", a.Duration())
	}
	if got.Text != "Hello" || got.Language != "en" || got.SpeakerWav != "reception.wav" {
		t.Errorf("request = %+v", got)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "boom", http.StatusInternalServerError) }},
		{"not wav", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("<html>")) }},
		{"no samples", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write(audio.EncodeWAV(nil, coquiFormat)) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			t.Cleanup(srv.Close)

			p, _ := New(srv.URL)
			if _, err := p.Synthesize(context.Background(), "текст"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()
	p, _ := New("http://127.0.0.1:1")
	if _, err := p.Synthesize(context.Background(), "   "); !errors.Is(err, tts.ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty server URL")
	}
	if _, err := New("http://localhost:5002", WithAPIMode("bark")); err == nil {
		t.Error("expected error for unknown API mode")
	}
}
