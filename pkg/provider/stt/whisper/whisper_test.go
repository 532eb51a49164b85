package whisper_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxdesk/pkg/audio"
	"github.com/MrWong99/voxdesk/pkg/provider/stt"
	"github.com/MrWong99/voxdesk/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

type inferenceForm struct {
	language string
	model    string
	format   audio.Format
	pcmLen   int
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText and reports the parsed form on forms.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, forms chan<- inferenceForm) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if forms != nil {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer f.Close()
			wav, err := io.ReadAll(f)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			format, pcm, err := audio.ParseWAV(wav)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			forms <- inferenceForm{
				language: r.FormValue("language"),
				model:    r.FormValue("model"),
				format:   format,
				pcmLen:   len(pcm),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	t.Parallel()
	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("small"),
		whisper.WithLanguage("kk"),
		whisper.WithTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

// ---- transcription ----------------------------------------------------------

// TestTranscribe_SendsWAVAndReturnsText verifies that the utterance is posted
// as a WAV file with the language hint and that the response text is trimmed.
func TestTranscribe_SendsWAVAndReturnsText(t *testing.T) {
	t.Parallel()

	forms := make(chan inferenceForm, 1)
	srv := newMockServer(t, "  Привет, как дела?  ", nil, forms)
	p, _ := whisper.New(srv.URL, whisper.WithModel("small"))

	pcm := make([]byte, 16000)
	got, err := p.Transcribe(context.Background(), stt.Request{PCM: pcm, Language: "kk"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "Привет, как дела?" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Confidence != nil {
		t.Errorf("Confidence = %v, want nil", *got.Confidence)
	}
	if got.Provider != "whisper" {
		t.Errorf("Provider = %q, want whisper", got.Provider)
	}

	form := <-forms
	if form.language != "kk" {
		t.Errorf("language = %q, want kk", form.language)
	}
	if form.model != "small" {
		t.Errorf("model = %q, want small", form.model)
	}
	if form.format != audio.Pipeline {
		t.Errorf("format = %v, want %v", form.format, audio.Pipeline)
	}
	if form.pcmLen != len(pcm) {
		t.Errorf("pcm length = %d, want %d", form.pcmLen, len(pcm))
	}
}

func TestTranscribe_DefaultLanguage(t *testing.T) {
	t.Parallel()

	forms := make(chan inferenceForm, 1)
	srv := newMockServer(t, "да", nil, forms)
	p, _ := whisper.New(srv.URL, whisper.WithLanguage("en"))

	if _, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 320)}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if form := <-forms; form.language != "en" {
		t.Errorf("language = %q, want en", form.language)
	}
}

func TestTranscribe_EmptyPCM_SkipsServer(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newMockServer(t, "ignored", &calls, nil)
	p, _ := whisper.New(srv.URL)

	got, err := p.Transcribe(context.Background(), stt.Request{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !got.Empty() {
		t.Errorf("Text = %q, want empty", got.Text)
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times, want 0", calls.Load())
	}
}

func TestTranscribe_ServerErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantSub string
	}{
		{
			name: "http status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "model not loaded", http.StatusInternalServerError)
			},
			wantSub: "HTTP 500",
		},
		{
			name: "error field",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"error":"failed to read WAV"}`))
			},
			wantSub: "failed to read WAV",
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			wantSub: "parse JSON",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			t.Cleanup(srv.Close)

			p, _ := whisper.New(srv.URL)
			_, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 320)})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not contain %q", err, tc.wantSub)
			}
		})
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := p.Transcribe(ctx, stt.Request{PCM: make([]byte, 320)}); err == nil {
		t.Fatal("expected error after context deadline, got nil")
	}
}
