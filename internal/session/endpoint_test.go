package session

import (
	"bytes"
	"testing"
	"time"

	"github.com/MrWong99/voxdesk/pkg/audio"
)

const frameBytes = 960 // 30 ms at 16 kHz mono s16

// feed pushes n frames of the given kind starting at *clock and returns the
// flushed utterances.
func feed(d *EndpointDetector, clock *time.Duration, n int, voiced bool) []Utterance {
	fill := byte(0)
	if voiced {
		fill = 1
	}
	pcm := bytes.Repeat([]byte{fill}, n*frameBytes)
	var out []Utterance
	for _, f := range audio.SplitFrames(pcm, audio.Pipeline, audio.DefaultFrameDuration, *clock) {
		if u, ok := d.Push(f, voiced); ok {
			out = append(out, u)
		}
	}
	*clock += time.Duration(n) * audio.DefaultFrameDuration
	return out
}

func TestEndpoint_FlushAfterSilence(t *testing.T) {
	t.Parallel()

	d := NewEndpointDetector(EndpointConfig{})
	var clock time.Duration

	if got := feed(d, &clock, 7, true); len(got) != 0 {
		t.Fatal("flushed during speech")
	}
	got := feed(d, &clock, 20, false)
	if len(got) != 1 {
		t.Fatalf("flushes = %d, want 1", len(got))
	}

	u := got[0]
	// 7 voiced frames plus 11 hangover frames; the 11th crosses 300 ms.
	if len(u.PCM) != 18*frameBytes {
		t.Errorf("utterance = %d bytes, want %d", len(u.PCM), 18*frameBytes)
	}
	if u.Seq != 1 || u.Start != 0 || u.LastVoice != 210*time.Millisecond {
		t.Errorf("utterance = seq %d start %v lastVoice %v", u.Seq, u.Start, u.LastVoice)
	}
	if u.Format != audio.Pipeline {
		t.Errorf("format = %v", u.Format)
	}
	if d.Buffered() != 0 {
		t.Errorf("buffer after flush = %d bytes, want 0", d.Buffered())
	}
}

func TestEndpoint_ShortBufferNeverFlushes(t *testing.T) {
	t.Parallel()

	d := NewEndpointDetector(EndpointConfig{MinBytes: 20000})
	var clock time.Duration

	feed(d, &clock, 2, true)
	if got := feed(d, &clock, 1000, false); len(got) != 0 {
		t.Fatalf("short buffer flushed after 30 s of silence: %d", len(got))
	}
	// Two voiced frames and the hangover tail (480 ms) stay buffered.
	if d.Buffered() != 18*frameBytes {
		t.Errorf("buffered = %d, want %d", d.Buffered(), 18*frameBytes)
	}

	// More speech grows the same buffer until it is large enough.
	feed(d, &clock, 10, true)
	got := feed(d, &clock, 20, false)
	if len(got) != 1 {
		t.Fatalf("flushes = %d, want 1", len(got))
	}
	if got[0].Start != 0 {
		t.Errorf("start = %v, want 0", got[0].Start)
	}
}

func TestEndpoint_LeadingSilenceDropped(t *testing.T) {
	t.Parallel()

	d := NewEndpointDetector(EndpointConfig{})
	var clock time.Duration

	feed(d, &clock, 10, false)
	if d.Buffered() != 0 {
		t.Fatalf("silence before speech buffered: %d bytes", d.Buffered())
	}
	feed(d, &clock, 10, true)
	got := feed(d, &clock, 11, false)
	if len(got) != 1 || got[0].Start != 300*time.Millisecond {
		t.Fatalf("got %+v, want one utterance starting at 300ms", got)
	}
}

func TestEndpoint_HangoverDropsLongPauses(t *testing.T) {
	t.Parallel()

	d := NewEndpointDetector(EndpointConfig{Hangover: 90 * time.Millisecond, Silence: 2 * time.Second})
	var clock time.Duration

	feed(d, &clock, 10, true)
	feed(d, &clock, 20, false) // 3 frames kept, 17 dropped
	feed(d, &clock, 10, true)
	if want := 23 * frameBytes; d.Buffered() != want {
		t.Errorf("buffered = %d, want %d", d.Buffered(), want)
	}
}

func TestEndpoint_ConsecutiveUtterances(t *testing.T) {
	t.Parallel()

	d := NewEndpointDetector(EndpointConfig{})
	var clock time.Duration

	feed(d, &clock, 10, true)
	first := feed(d, &clock, 20, false)
	feed(d, &clock, 10, true)
	second := feed(d, &clock, 20, false)

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("flushes = %d + %d, want 1 + 1", len(first), len(second))
	}
	if first[0].Seq != 1 || second[0].Seq != 2 {
		t.Errorf("seq = %d, %d", first[0].Seq, second[0].Seq)
	}
	if second[0].Start != 900*time.Millisecond {
		t.Errorf("second start = %v, want 900ms", second[0].Start)
	}
	// The snapshots must not share backing storage.
	first[0].PCM[0] = 0xFF
	if second[0].PCM[0] == 0xFF {
		t.Error("utterances share a buffer")
	}
}

func TestEndpoint_Reset(t *testing.T) {
	t.Parallel()

	d := NewEndpointDetector(EndpointConfig{})
	var clock time.Duration
	feed(d, &clock, 10, true)
	d.Reset()
	if d.Buffered() != 0 {
		t.Fatal("Reset kept audio")
	}
	if got := feed(d, &clock, 20, false); len(got) != 0 {
		t.Error("flushed after Reset without new speech")
	}
}

func TestEndpoint_FlushPending(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		voiced  int
		silence int
		want    int
	}{
		{"speech with short gap", 33, 3, 36 * frameBytes},
		{"below minimum size", 6, 0, 0},
		{"silence only", 0, 10, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := NewEndpointDetector(EndpointConfig{})
			var clock time.Duration
			feed(d, &clock, tc.voiced, true)
			if got := feed(d, &clock, tc.silence, false); len(got) != 0 {
				t.Fatal("flushed before end of stream")
			}

			u, ok := d.Flush()
			if ok != (tc.want > 0) {
				t.Fatalf("Flush ok = %v, want %v", ok, tc.want > 0)
			}
			if len(u.PCM) != tc.want {
				t.Errorf("utterance = %d bytes, want %d", len(u.PCM), tc.want)
			}
			if d.Buffered() != 0 {
				t.Errorf("buffer after Flush = %d bytes, want 0", d.Buffered())
			}
			if _, again := d.Flush(); again {
				t.Error("second Flush returned an utterance")
			}
		})
	}
}
