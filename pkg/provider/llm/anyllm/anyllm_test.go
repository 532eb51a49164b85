package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxdesk/pkg/provider/llm"
)

// ── buildParams ──────────────────────────────────────────────────────────────

// TestBuildParams_SystemPromptFirst checks that the system prompt precedes the
// conversation and that sampling options are forwarded.
func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "llama3.1"}
	req := llm.UserPrompt("Ты администратор ресепшена.", "Где лифт?")
	req.Temperature = 0.4
	req.MaxTokens = 300

	got := p.buildParams(req)
	if got.Model != "llama3.1" {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(got.Messages))
	}
	if got.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", got.Messages[0].Role)
	}
	if got.Messages[1].ContentString() != "Где лифт?" {
		t.Errorf("user content = %q", got.Messages[1].ContentString())
	}
	if got.Temperature == nil || *got.Temperature != 0.4 {
		t.Errorf("temperature = %v", got.Temperature)
	}
	if got.MaxTokens == nil || *got.MaxTokens != 300 {
		t.Errorf("max tokens = %v", got.MaxTokens)
	}
}

// TestBuildParams_DefaultsLeftUnset checks that zero values stay nil so the
// backend applies its own defaults.
func TestBuildParams_DefaultsLeftUnset(t *testing.T) {
	p := &Provider{model: "m"}
	got := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "x"}}})
	if got.Temperature != nil || got.MaxTokens != nil {
		t.Errorf("expected nil temperature/max tokens, got %v/%v", got.Temperature, got.MaxTokens)
	}
	if len(got.Messages) != 1 {
		t.Errorf("messages = %d, want 1 without system prompt", len(got.Messages))
	}
}

// TestBuildParams_Tools checks tool definition conversion.
func TestBuildParams_Tools(t *testing.T) {
	p := &Provider{model: "m"}
	got := p.buildParams(llm.CompletionRequest{
		Tools: []llm.ToolDefinition{{Name: "extract_response", Description: "d", Parameters: map[string]any{"type": "object"}}},
	})
	if len(got.Tools) != 1 {
		t.Fatalf("tools = %d, want 1", len(got.Tools))
	}
	if got.Tools[0].Type != "function" || got.Tools[0].Function.Name != "extract_response" {
		t.Errorf("tool = %+v", got.Tools[0])
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

// TestNew_EmptyProviderName checks that an empty provider name returns an error.
func TestNew_EmptyProviderName(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

// TestNew_EmptyModel checks that an empty model name returns an error.
func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("openai", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_UnsupportedProvider checks that an unsupported provider returns an error.
func TestNew_UnsupportedProvider(t *testing.T) {
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

// TestNew_Backends checks that the supported backends construct with the
// options a deployment would pass.
func TestNew_Backends(t *testing.T) {
	tests := []struct {
		provider string
		model    string
		opts     []anyllmlib.Option
		wantName string
	}{
		{"openai", "gpt-4o-mini", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}, "anyllm/openai/gpt-4o-mini"},
		{"Anthropic", "claude-3-5-haiku-latest", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}, "anyllm/anthropic/claude-3-5-haiku-latest"},
		{"ollama", "llama3.1", nil, "anyllm/ollama/llama3.1"},
		{"llamacpp", "local", nil, "anyllm/llamacpp/local"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := New(tt.provider, tt.model, tt.opts...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.String() != tt.wantName {
				t.Errorf("String() = %q, want %q", p.String(), tt.wantName)
			}
		})
	}
}

// TestNew_OpenAI_MissingAPIKey checks that OpenAI returns an error when no API key is available.
func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestStripReasoning(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"Лифт справа.", "Лифт справа."},
		{"<think>user asks about the lift</think>\nЛифт справа.", "Лифт справа."},
		{"A <think>x</think>B<think>y</think> C", "A B C"},
		{"Ответ.<think>unterminated", "Ответ."},
		{"<think>only reasoning</think>", ""},
	}
	for _, tc := range tests {
		if got := StripReasoning(tc.in); got != tc.want {
			t.Errorf("StripReasoning(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
