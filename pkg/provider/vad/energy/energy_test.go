package energy_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/voxdesk/pkg/audio"
	"github.com/MrWong99/voxdesk/pkg/provider/vad"
	"github.com/MrWong99/voxdesk/pkg/provider/vad/energy"
)

// constFrame returns n samples alternating between +level and -level.
func constFrame(n int, level int16) []byte {
	s := make([]int16, n)
	for i := range s {
		if i%2 == 0 {
			s[i] = level
		} else {
			s[i] = -level
		}
	}
	return audio.Int16ToPCM16(s)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     vad.Config
		wantErr bool
	}{
		{name: "default", cfg: vad.Config{SampleRate: 16000}},
		{name: "max sensitivity", cfg: vad.Config{SampleRate: 48000, Sensitivity: 3}},
		{name: "bad rate", cfg: vad.Config{SampleRate: 44100}, wantErr: true},
		{name: "bad sensitivity", cfg: vad.Config{SampleRate: 16000, Sensitivity: 4}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := energy.New(tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestIsVoiced(t *testing.T) {
	t.Parallel()
	c, err := energy.New(vad.Config{SampleRate: 16000})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		frame []byte
		want  bool
	}{
		{name: "silence 30ms", frame: constFrame(480, 0), want: false},
		{name: "quiet 30ms", frame: constFrame(480, 100), want: false},
		{name: "loud 30ms", frame: constFrame(480, 5000), want: true},
		{name: "loud 10ms", frame: constFrame(160, 5000), want: true},
		{name: "at threshold 20ms", frame: constFrame(320, 300), want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := c.IsVoiced(tc.frame)
			if err != nil {
				t.Fatalf("IsVoiced: %v", err)
			}
			if got != tc.want {
				t.Errorf("IsVoiced = %v, want %v", got, tc.want)
			}
		})
	}
}

// TestIsVoiced_FailsClosed verifies malformed frames produce ErrInvalidFrame
// rather than a classification.
func TestIsVoiced_FailsClosed(t *testing.T) {
	t.Parallel()
	c, _ := energy.New(vad.Config{SampleRate: 16000})
	for _, n := range []int{0, 9, 959, 961} {
		voiced, err := c.IsVoiced(make([]byte, n))
		if !errors.Is(err, vad.ErrInvalidFrame) {
			t.Errorf("len %d: error = %v, want ErrInvalidFrame", n, err)
		}
		if voiced {
			t.Errorf("len %d: malformed frame classified as voiced", n)
		}
	}
}

func TestSensitivityOrdering(t *testing.T) {
	t.Parallel()
	frame := constFrame(480, 500)
	lenient, _ := energy.New(vad.Config{SampleRate: 16000, Sensitivity: 0})
	strict, _ := energy.New(vad.Config{SampleRate: 16000, Sensitivity: 3})
	if v, _ := lenient.IsVoiced(frame); !v {
		t.Error("sensitivity 0 should accept a 500 RMS frame")
	}
	if v, _ := strict.IsVoiced(frame); v {
		t.Error("sensitivity 3 should reject a 500 RMS frame")
	}
}

func TestWithThreshold(t *testing.T) {
	t.Parallel()
	c, err := energy.New(vad.Config{SampleRate: 16000}, energy.WithThreshold(50))
	if err != nil {
		t.Fatal(err)
	}
	if c.Threshold() != 50 {
		t.Errorf("Threshold = %v, want 50", c.Threshold())
	}
	if _, err := energy.New(vad.Config{SampleRate: 16000}, energy.WithThreshold(0)); err == nil {
		t.Error("expected error for zero threshold")
	}
}

// TestConcurrentUse verifies one classifier can be shared across goroutines.
func TestConcurrentUse(t *testing.T) {
	t.Parallel()
	c, _ := energy.New(vad.Config{SampleRate: 16000})
	loud := constFrame(480, 5000)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if v, err := c.IsVoiced(loud); err != nil || !v {
					t.Errorf("IsVoiced = %v, %v", v, err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
