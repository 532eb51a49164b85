package resilience_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/voxdesk/internal/resilience"
	"github.com/MrWong99/voxdesk/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxdesk/pkg/provider/stt/mock"
)

func sttChain(entries ...*sttmock.Provider) *resilience.STTChain {
	c := resilience.NewSTTChain(entries[0], "p0", resilience.FallbackConfig{})
	for i, e := range entries[1:] {
		c.AddFallback("p"+string(rune('1'+i)), e)
	}
	return c
}

func TestSTTChain_FirstNonEmptyWins(t *testing.T) {
	t.Parallel()

	native := &sttmock.Provider{Result: stt.Transcript{Text: "   "}}
	httpWhisper := &sttmock.Provider{Err: errors.New("connection refused")}
	cloud := &sttmock.Provider{Result: stt.Transcript{Text: " Где переговорная? ", Confidence: stt.Confidence(0.9), Provider: "openai"}}
	never := &sttmock.Provider{Result: stt.Transcript{Text: "unused"}}

	got, err := sttChain(native, httpWhisper, cloud, never).Transcribe(context.Background(), stt.Request{PCM: []byte{1, 2}})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "Где переговорная?" || got.Provider != "openai" || *got.Confidence != 0.9 {
		t.Errorf("transcript = %+v", got)
	}
	if never.CallCount() != 0 {
		t.Error("backend after the winner was called")
	}
	for i, p := range []*sttmock.Provider{native, httpWhisper, cloud} {
		if p.CallCount() != 1 {
			t.Errorf("backend %d called %d times, want 1", i, p.CallCount())
		}
	}
}

func TestSTTChain_NoSpeech(t *testing.T) {
	t.Parallel()

	a := &sttmock.Provider{Err: errors.New("model not loaded")}
	b := &sttmock.Provider{Result: stt.Transcript{}}

	got, err := sttChain(a, b).Transcribe(context.Background(), stt.Request{PCM: []byte{1}})
	if err != nil {
		t.Fatalf("err = %v, want nil for no speech", err)
	}
	if !got.Empty() {
		t.Errorf("transcript = %+v, want empty", got)
	}
}

func TestSTTChain_FilterRejectsHallucination(t *testing.T) {
	t.Parallel()

	a := &sttmock.Provider{Result: stt.Transcript{Text: "Продолжение следует..."}}
	b := &sttmock.Provider{Result: stt.Transcript{Text: "Мне нужен пропуск"}}

	drop := func(text string) string {
		if strings.HasPrefix(text, "Продолжение следует") {
			return ""
		}
		return text
	}
	c := resilience.NewSTTChain(a, "native", resilience.FallbackConfig{}, resilience.WithTranscriptFilter(drop))
	c.AddFallback("http", b)

	got, err := c.Transcribe(context.Background(), stt.Request{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "Мне нужен пропуск" {
		t.Errorf("text = %q, want second backend's text", got.Text)
	}
	if !slices.Equal(c.Names(), []string{"native", "http"}) {
		t.Errorf("Names = %v", c.Names())
	}
}

func TestSTTChain_PassesRequestThrough(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{Result: stt.Transcript{Text: "Сәлеметсіз бе"}}
	req := stt.Request{PCM: []byte{9, 9}, Language: "kk"}
	if _, err := sttChain(p).Transcribe(context.Background(), req); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := p.Calls[0].Req; got.Language != "kk" || len(got.PCM) != 2 {
		t.Errorf("request = %+v, want language kk and the same PCM", got)
	}
}

func TestSTTChain_CallerCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &sttmock.Provider{Result: stt.Transcript{Text: "never"}}

	if _, err := sttChain(p).Transcribe(ctx, stt.Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if p.CallCount() != 0 {
		t.Error("backend called with a cancelled context")
	}
}
