package resilience_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/voxdesk/internal/resilience"
	"github.com/MrWong99/voxdesk/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxdesk/pkg/provider/tts/mock"
)

func pcmAudio(rate int, provider string) *tts.Audio {
	return &tts.Audio{PCM: make([]byte, rate/5*2), SampleRate: rate, Channels: 1, SampleWidth: 2, Provider: provider}
}

func TestTTSChain_SecondaryReceivesIdenticalText(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{Err: errors.New("quota exceeded")}
	secondary := &ttsmock.Provider{Result: pcmAudio(22050, "coqui")}
	c := resilience.NewTTSChain(primary, "openai", resilience.FallbackConfig{})
	c.AddFallback("coqui", secondary)

	const text = "Добро пожаловать! Чем могу помочь?"
	got := c.Synthesize(context.Background(), text)
	if got == nil || got.Provider != "coqui" || got.SampleRate != 22050 {
		t.Fatalf("audio = %+v, want coqui audio at 22050 Hz", got)
	}
	if !slices.Equal(primary.Texts(), []string{text}) || !slices.Equal(secondary.Texts(), []string{text}) {
		t.Errorf("texts = %q / %q, want both %q", primary.Texts(), secondary.Texts(), text)
	}
}

func TestTTSChain_AllFailReturnsNil(t *testing.T) {
	t.Parallel()

	a := &ttsmock.Provider{Err: errors.New("down")}
	b := &ttsmock.Provider{Result: &tts.Audio{SampleRate: 16000}}
	c := resilience.NewTTSChain(a, "a", resilience.FallbackConfig{})
	c.AddFallback("b", b)

	if got := c.Synthesize(context.Background(), "Здравствуйте"); got != nil {
		t.Fatalf("audio = %+v, want nil", got)
	}
	if a.CallCount() != 1 || b.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", a.CallCount(), b.CallCount())
	}
}

func TestTTSChain_BlankTextSkipsBackends(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{Result: pcmAudio(16000, "piper")}
	c := resilience.NewTTSChain(p, "piper", resilience.FallbackConfig{})
	if got := c.Synthesize(context.Background(), "  \n"); got != nil {
		t.Errorf("audio = %+v, want nil", got)
	}
	if p.CallCount() != 0 {
		t.Errorf("backend called %d times for blank text", p.CallCount())
	}
}
