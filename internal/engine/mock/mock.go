// Package mock provides a test double for [engine.Responder].
//
// Example:
//
//	r := &mock.Responder{Reply: engine.Reply{Text: "Здравствуйте!", Emotion: engine.EmotionHappy}}
//	reply, _ := r.Generate(ctx, "Привет")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxdesk/internal/engine"
)

var _ engine.Responder = (*Responder)(nil)

// Responder is a mock implementation of [engine.Responder]. It is safe for
// concurrent use.
type Responder struct {
	mu sync.Mutex

	// Reply is returned by Generate when GenerateFunc is nil.
	Reply engine.Reply

	// Err is returned by Generate when GenerateFunc is nil.
	Err error

	// GenerateFunc, if set, overrides Reply and Err.
	GenerateFunc func(ctx context.Context, text string) (engine.Reply, error)

	// Texts records the text of every Generate call in order.
	Texts []string
}

// Generate records the call and returns the configured response.
func (r *Responder) Generate(ctx context.Context, text string) (engine.Reply, error) {
	r.mu.Lock()
	r.Texts = append(r.Texts, text)
	fn, reply, err := r.GenerateFunc, r.Reply, r.Err
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return reply, err
}

// CallCount returns the number of Generate calls.
func (r *Responder) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Texts)
}
