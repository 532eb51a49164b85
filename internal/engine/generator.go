package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/MrWong99/voxdesk/pkg/provider/llm"
)

// ReplyToolName is the function the structured path asks the model to call.
const ReplyToolName = "extract_response"

// Defaults for the generation requests and the canned texts.
const (
	DefaultStructuredTemperature = 0.2
	DefaultStructuredMaxTokens   = 800
	DefaultPlainTemperature      = 0.4
	DefaultApologyText           = "Извините, ошибка обработки."
)

// ReplyTool is the output schema of the structured path.
var ReplyTool = llm.ToolDefinition{
	Name:        ReplyToolName,
	Description: "Возвращает ответ с эмоцией и жестом",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "Текст ответа",
			},
			"emotion": map[string]any{
				"type":        "string",
				"enum":        []string{"happy", "sad", "thinking", "surprised", "neutral"},
				"description": "Эмоция для аватара",
			},
			"gesture": map[string]any{
				"type":        "string",
				"enum":        []string{"wave", "point", "none"},
				"description": "Жест для аватара",
			},
		},
		"required": []string{"text", "emotion", "gesture"},
	},
}

// Persona selects the system prompt: reply language and the administrator's
// extra instructions.
type Persona struct {
	Language    string
	ExtraPrompt string
}

// Generator is the production [Responder].
//
// The structured model is asked to call [ReplyToolName]. When that fails, or
// yields neither a tool call nor usable content, the plain chain is asked for
// a free-text answer and emotion and gesture come from [DetectEmotion] and
// [DetectGesture]. When both paths fail the reply is the apology text.
//
// Generator is safe for concurrent use; [Generator.SetPersona] may be called
// while turns are running.
type Generator struct {
	structured llm.Provider
	plain      llm.Provider
	apology    string

	structuredTemp float64
	maxTokens      int
	plainTemp      float64

	persona atomic.Pointer[Persona]
}

var _ Responder = (*Generator)(nil)

// GeneratorOption configures a [Generator].
type GeneratorOption func(*Generator)

// WithApologyText sets the reply used when no model answers.
func WithApologyText(s string) GeneratorOption {
	return func(g *Generator) { g.apology = s }
}

// WithPersona sets the initial persona. Default: Kazakh, no extra prompt.
func WithPersona(p Persona) GeneratorOption {
	return func(g *Generator) { g.persona.Store(&p) }
}

// WithStructuredSampling overrides temperature and token limit of the
// structured request.
func WithStructuredSampling(temperature float64, maxTokens int) GeneratorOption {
	return func(g *Generator) {
		g.structuredTemp = temperature
		g.maxTokens = maxTokens
	}
}

// WithPlainTemperature overrides the temperature of the plain request.
func WithPlainTemperature(t float64) GeneratorOption {
	return func(g *Generator) { g.plainTemp = t }
}

// NewGenerator creates a Generator. Either provider may be nil to disable
// that path.
func NewGenerator(structured, plain llm.Provider, opts ...GeneratorOption) *Generator {
	g := &Generator{
		structured:     structured,
		plain:          plain,
		apology:        DefaultApologyText,
		structuredTemp: DefaultStructuredTemperature,
		maxTokens:      DefaultStructuredMaxTokens,
		plainTemp:      DefaultPlainTemperature,
	}
	g.persona.Store(&Persona{Language: DefaultLanguage})
	for _, o := range opts {
		o(g)
	}
	return g
}

// SetPersona replaces the persona used by subsequent turns.
func (g *Generator) SetPersona(p Persona) {
	g.persona.Store(&p)
}

// Persona returns the current persona.
func (g *Generator) Persona() Persona {
	return *g.persona.Load()
}

// Generate implements [Responder].
func (g *Generator) Generate(ctx context.Context, text string) (Reply, error) {
	return g.generate(ctx, SystemPrompt, text)
}

// GenerateRouted is [Generator.Generate] with the model asked to append a
// routing block, which is split off the reply text. ok reports whether the
// reply carried one.
func (g *Generator) GenerateRouted(ctx context.Context, text string) (reply Reply, routing Routing, ok bool, err error) {
	reply, err = g.generate(ctx, RoutedSystemPrompt, text)
	if err != nil {
		return Reply{}, Routing{}, false, err
	}
	body, routing, ok := ExtractRouting(reply.Text)
	if ok && body != "" {
		reply.Text = body
	}
	return reply, routing, ok, nil
}

func (g *Generator) generate(ctx context.Context, prompt func(lang, extra string) string, text string) (Reply, error) {
	p := g.Persona()
	system := prompt(p.Language, p.ExtraPrompt)

	if g.structured != nil {
		if r, ok := g.generateStructured(ctx, system, p.Language, text); ok {
			return r, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	if g.plain != nil {
		if r, ok := g.generatePlain(ctx, system, text); ok {
			return r, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	return Reply{Text: g.apology, Emotion: EmotionNeutral, Gesture: GestureNone}, nil
}

func (g *Generator) generateStructured(ctx context.Context, system, lang, text string) (Reply, bool) {
	req := llm.UserPrompt(withStructuredInstructions(system, lang), text)
	req.Tools = []llm.ToolDefinition{ReplyTool}
	req.ToolChoice = ReplyToolName
	req.Temperature = g.structuredTemp
	req.MaxTokens = g.maxTokens

	resp, err := g.structured.Complete(ctx, req)
	if err != nil {
		slog.Warn("structured generation failed", "err", err)
		return Reply{}, false
	}

	if call, ok := resp.ToolCall(ReplyToolName); ok {
		if r, ok := parseReplyArguments(call.Arguments); ok {
			return r, true
		}
		slog.Warn("structured reply unusable", "arguments", call.Arguments)
	}

	body, emotion, emotionOK, gesture, gestureOK := ParseTags(resp.Content)
	if body == "" {
		return Reply{}, false
	}
	if !emotionOK {
		emotion = DetectEmotion(body)
	}
	if !gestureOK {
		gesture = DetectGesture(body)
	}
	return Reply{Text: body, Emotion: emotion, Gesture: gesture}, true
}

func (g *Generator) generatePlain(ctx context.Context, system, text string) (Reply, bool) {
	req := llm.UserPrompt(system, text)
	req.Temperature = g.plainTemp

	resp, err := g.plain.Complete(ctx, req)
	if err != nil {
		slog.Warn("plain generation failed", "err", err)
		return Reply{}, false
	}
	body, _, _, _, _ := ParseTags(resp.Content)
	if body == "" {
		return Reply{}, false
	}
	return Reply{Text: body, Emotion: DetectEmotion(body), Gesture: DetectGesture(body)}, true
}

// parseReplyArguments decodes the tool call arguments. Unknown enum values are
// replaced by the keyword-derived ones.
func parseReplyArguments(args string) (Reply, bool) {
	var raw struct {
		Text    string `json:"text"`
		Emotion string `json:"emotion"`
		Gesture string `json:"gesture"`
	}
	if err := json.Unmarshal([]byte(args), &raw); err != nil {
		return Reply{}, false
	}
	text := strings.TrimSpace(raw.Text)
	if text == "" {
		return Reply{}, false
	}
	r := Reply{Text: text}
	var ok bool
	if r.Emotion, ok = ParseEmotion(raw.Emotion); !ok {
		r.Emotion = DetectEmotion(text)
	}
	if r.Gesture, ok = ParseGesture(raw.Gesture); !ok {
		r.Gesture = DetectGesture(text)
	}
	return r, true
}
