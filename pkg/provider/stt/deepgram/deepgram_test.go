package deepgram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxdesk/pkg/audio"
	"github.com/MrWong99/voxdesk/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.Request{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "ru", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "false", q.Get("interim_results"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_RequestOverrides(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.Request{
		Language: "kk",
		Format:   audio.Format{SampleRate: 48000, Channels: 2, SampleWidth: 2},
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	q, _ := url.Parse(rawURL)

	assertEqual(t, "model", "base", q.Query().Get("model"))
	assertEqual(t, "language", "kk", q.Query().Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Query().Get("sample_rate"))
	assertEqual(t, "channels", "2", q.Query().Get("channels"))
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// ---- parseDeepgramResponse ----

func TestParseDeepgramResponse(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		wantKind messageKind
		wantText string
		wantConf float64
	}{
		{
			name:     "final",
			msg:      `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" привет ","confidence":0.91}]}}`,
			wantKind: messageFinal,
			wantText: "привет",
			wantConf: 0.91,
		},
		{
			name:     "interim",
			msg:      `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"при","confidence":0.4}]}}`,
			wantKind: messageInterim,
			wantText: "при",
			wantConf: 0.4,
		},
		{name: "metadata", msg: `{"type":"Metadata","request_id":"x"}`, wantKind: messageMetadata},
		{name: "no alternatives", msg: `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`, wantKind: messageIgnored},
		{name: "speech started", msg: `{"type":"SpeechStarted"}`, wantKind: messageIgnored},
		{name: "malformed", msg: `{`, wantKind: messageIgnored},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, kind := parseDeepgramResponse([]byte(tc.msg))
			if kind != tc.wantKind {
				t.Fatalf("kind = %d, want %d", kind, tc.wantKind)
			}
			if r.text != tc.wantText {
				t.Errorf("text = %q, want %q", r.text, tc.wantText)
			}
			if r.confidence != tc.wantConf {
				t.Errorf("confidence = %v, want %v", r.confidence, tc.wantConf)
			}
		})
	}
}

// ---- end-to-end against a fake live endpoint ----

// fakeDeepgram accepts one websocket, counts audio bytes until CloseStream and
// then replays results followed by Metadata.
func fakeDeepgram(t *testing.T, results []string, gotAudio chan<- int, gotAuth chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		total := 0
		for {
			typ, msg, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				total += len(msg)
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		gotAudio <- total

		for _, res := range results {
			if err := conn.Write(r.Context(), websocket.MessageText, []byte(res)); err != nil {
				return
			}
		}
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"type":"Metadata"}`))
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func finalResult(text string, conf float64) string {
	return fmt.Sprintf(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":%q,"confidence":%v}]}}`, text, conf)
}

// TestTranscribe_JoinsFinalsAndAveragesConfidence verifies that all audio is
// delivered, interim results are ignored and final segments are joined.
func TestTranscribe_JoinsFinalsAndAveragesConfidence(t *testing.T) {
	gotAudio := make(chan int, 1)
	gotAuth := make(chan string, 1)
	srv := fakeDeepgram(t, []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"добрый","confidence":0.2}]}}`,
		finalResult("добрый день", 0.9),
		finalResult("как дела", 0.7),
		finalResult("", 0),
	}, gotAudio, gotAuth)

	p, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	pcm := make([]byte, 10000)

	got, err := p.Transcribe(context.Background(), stt.Request{PCM: pcm})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "добрый день как дела" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Confidence == nil {
		t.Fatal("Confidence is nil")
	}
	if c := *got.Confidence; c < 0.799 || c > 0.801 {
		t.Errorf("Confidence = %v, want 0.8", c)
	}
	if n := <-gotAudio; n != len(pcm) {
		t.Errorf("server received %d audio bytes, want %d", n, len(pcm))
	}
	if auth := <-gotAuth; auth != "Token secret" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestTranscribe_NoSpeech(t *testing.T) {
	gotAudio := make(chan int, 1)
	gotAuth := make(chan string, 1)
	srv := fakeDeepgram(t, nil, gotAudio, gotAuth)

	p, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	got, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 640)})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !got.Empty() || got.Confidence != nil {
		t.Errorf("got %+v, want empty transcript without confidence", got)
	}
}

func TestTranscribe_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	p, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if _, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 640)}); err == nil {
		t.Fatal("expected dial error")
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
