package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/voxdesk/pkg/provider/llm"
)

// LLMChain implements [llm.Provider] over an ordered list of language
// models. A response without text and without tool calls counts as empty
// and the next model is asked.
type LLMChain struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMChain)(nil)

// NewLLMChain creates an [LLMChain] with primary as the preferred model.
func NewLLMChain(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMChain {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLMChain{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a lower-precedence model.
func (c *LLMChain) AddFallback(name string, p llm.Provider) {
	c.group.AddFallback(name, p)
}

// Names returns the model names in precedence order.
func (c *LLMChain) Names() []string { return c.group.Names() }

// Complete implements [llm.Provider].
func (c *LLMChain) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, c.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil || (strings.TrimSpace(resp.Content) == "" && len(resp.ToolCalls) == 0) {
			return nil, ErrEmptyResult
		}
		return resp, nil
	})
}
