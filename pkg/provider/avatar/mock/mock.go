// Package mock provides a test double for the avatar.Renderer interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxdesk/pkg/provider/avatar"
)

// Renderer is a mock implementation of avatar.Renderer.
type Renderer struct {
	mu sync.Mutex

	// Path is returned by Render when RenderFunc is nil and Err is nil.
	Path string

	// Err, if non-nil, is returned by Render when RenderFunc is nil.
	Err error

	// RenderFunc, if set, overrides Path and Err.
	RenderFunc func(ctx context.Context, req avatar.Request) (string, error)

	// Calls records every request passed to Render.
	Calls []avatar.Request
}

// Ensure Renderer implements avatar.Renderer at compile time.
var _ avatar.Renderer = (*Renderer)(nil)

// Render records the call and returns the configured response.
func (r *Renderer) Render(ctx context.Context, req avatar.Request) (string, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, req)
	fn, path, err := r.RenderFunc, r.Path, r.Err
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return path, err
}

// CallCount returns the number of Render calls. Thread-safe.
func (r *Renderer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}
