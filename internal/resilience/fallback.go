package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxdesk/internal/observe"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// usable result. The returned error also wraps each entry's error.
var ErrAllFailed = errors.New("resilience: all providers failed")

// ErrEmptyResult is returned by an attempt whose backend answered but had
// nothing usable (no speech, blank text, zero audio). The chain advances to
// the next entry and the breaker does not count it as a failure.
var ErrEmptyResult = errors.New("resilience: empty result")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Name is
	// replaced by the entry name.
	CircuitBreaker CircuitBreakerConfig

	// AttemptTimeout bounds each entry's call. A timed-out attempt is a
	// failure and the next entry is tried. Zero means no per-attempt limit.
	AttemptTimeout time.Duration

	// Kind labels metrics ("stt", "llm", "tts").
	Kind string

	// Metrics receives per-attempt request and error counts. Optional.
	Metrics *observe.Metrics
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered precedence list of interchangeable backends,
// each guarded by its own circuit breaker. Entries are registered at
// construction time; calls may run concurrently afterwards.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry with lower precedence than all existing ones.
// It must not be called concurrently with Execute.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in precedence order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Breaker returns the circuit breaker of the named entry, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for i := range fg.entries {
		if fg.entries[i].name == name {
			return fg.entries[i].breaker
		}
	}
	return nil
}

// Execute calls fn for each entry in order until one returns nil.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult calls fn for each entry of fg in precedence order and
// returns the first result produced without error. Entries with an open
// breaker are skipped. An error, a timeout or [ErrEmptyResult] moves on to
// the next entry. If ctx itself is done the chain stops and ctx.Err() is
// returned. When every entry fails the error wraps [ErrAllFailed] and all
// entry errors.
//
// This is a function rather than a method because methods cannot declare
// type parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		entry := &fg.entries[i]

		var result R
		err := entry.breaker.Execute(func() error {
			attemptCtx, cancel := fg.attemptContext(ctx)
			defer cancel()
			var innerErr error
			result, innerErr = fn(attemptCtx, entry.value)
			return innerErr
		})

		switch {
		case err == nil:
			fg.record(ctx, entry.name, "ok")
			return result, nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("skipping provider, circuit open", "kind", fg.cfg.Kind, "provider", entry.name)
		case errors.Is(err, ErrEmptyResult):
			fg.record(ctx, entry.name, "empty")
			slog.Debug("provider returned nothing, trying next", "kind", fg.cfg.Kind, "provider", entry.name)
		default:
			fg.record(ctx, entry.name, "error")
			if fg.cfg.Metrics != nil {
				fg.cfg.Metrics.RecordProviderError(ctx, entry.name, fg.cfg.Kind)
			}
			slog.Warn("provider failed, trying next", "kind", fg.cfg.Kind, "provider", entry.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

func (fg *FallbackGroup[T]) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if fg.cfg.AttemptTimeout > 0 {
		return context.WithTimeout(ctx, fg.cfg.AttemptTimeout)
	}
	return context.WithCancel(ctx)
}

func (fg *FallbackGroup[T]) record(ctx context.Context, provider, status string) {
	if fg.cfg.Metrics != nil {
		fg.cfg.Metrics.RecordProviderRequest(ctx, provider, fg.cfg.Kind, status)
	}
}
