package whisper_test

import (
	"context"
	"os"
	"testing"

	"github.com/MrWong99/voxdesk/pkg/provider/stt"
	"github.com/MrWong99/voxdesk/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNativeTranscribe_CancelledContext_ReturnsError(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, stt.Request{PCM: make([]byte, 32000)}); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

func TestNativeTranscribe_SilenceYieldsNoConfidenceByDefault(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t), whisper.WithNativeLanguage("en"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	got, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 32000)})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Confidence != nil {
		t.Errorf("Confidence = %v, want nil without WithTokenConfidence", *got.Confidence)
	}
	if got.Provider != "whisper-native" {
		t.Errorf("Provider = %q", got.Provider)
	}
}

func TestNativeTranscribe_TokenConfidenceInRange(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t), whisper.WithTokenConfidence(true), whisper.WithNativeThreads(2))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	got, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 64000)})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Confidence != nil && (*got.Confidence < 0 || *got.Confidence > 1) {
		t.Errorf("Confidence = %v, want within [0, 1]", *got.Confidence)
	}
}
