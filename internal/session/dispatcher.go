package session

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/voxdesk/internal/observe"
)

// OverflowPolicy decides what happens to an utterance that arrives while the
// in-flight limit is reached.
type OverflowPolicy string

const (
	// PolicyQueue waits for a free slot up to the queue timeout, then drops.
	PolicyQueue OverflowPolicy = "queue"

	// PolicyDrop drops the utterance immediately.
	PolicyDrop OverflowPolicy = "drop"
)

// Valid reports whether p is a known policy.
func (p OverflowPolicy) Valid() bool {
	return p == PolicyQueue || p == PolicyDrop
}

// Dispatch defaults.
const (
	DefaultMaxInFlight  = 2
	DefaultQueueTimeout = 30 * time.Second
)

// Handler processes one utterance. It runs on its own goroutine and must
// honour ctx cancellation.
type Handler func(ctx context.Context, u Utterance)

// DispatcherConfig configures a [Dispatcher]. Zero fields take the defaults.
type DispatcherConfig struct {
	// MaxInFlight bounds the number of utterances processed at once.
	MaxInFlight int

	// Policy applies when MaxInFlight units are already running.
	Policy OverflowPolicy

	// QueueTimeout bounds how long a queued utterance waits for a slot.
	QueueTimeout time.Duration

	// Metrics receives in-flight and drop counts. Nil disables recording.
	Metrics *observe.Metrics
}

// Dispatcher starts one goroutine per utterance so ingestion never waits for
// a turn to finish. Several units may run at once, which is what lets a user
// talk over an answer that is still being produced.
//
// All methods are safe for concurrent use.
type Dispatcher struct {
	handler Handler
	cfg     DispatcherConfig
	sem     *semaphore.Weighted
	wg      sync.WaitGroup

	inflight atomic.Int64
	dropped  atomic.Int64
}

// NewDispatcher returns a Dispatcher running h under cfg.
func NewDispatcher(h Handler, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if !cfg.Policy.Valid() {
		cfg.Policy = PolicyQueue
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = DefaultQueueTimeout
	}
	return &Dispatcher{
		handler: h,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}
}

// Dispatch hands u to a new unit and returns without waiting for it. Under
// [PolicyDrop] an utterance that finds no free slot is dropped before
// Dispatch returns.
func (d *Dispatcher) Dispatch(ctx context.Context, u Utterance) {
	if d.sem.TryAcquire(1) {
		d.start(ctx, u)
		return
	}
	if d.cfg.Policy == PolicyDrop {
		d.drop(ctx, u, "in-flight limit reached")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		qctx, cancel := context.WithTimeout(ctx, d.cfg.QueueTimeout)
		err := d.sem.Acquire(qctx, 1)
		cancel()
		if err == nil && ctx.Err() != nil {
			d.sem.Release(1)
			err = ctx.Err()
		}
		if err != nil {
			reason := "queue timeout"
			if ctx.Err() != nil {
				reason = "session closed"
			}
			d.drop(ctx, u, reason)
			return
		}
		d.run(ctx, u)
	}()
}

// Wait blocks until every dispatched unit has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// InFlight returns the number of units currently running.
func (d *Dispatcher) InFlight() int { return int(d.inflight.Load()) }

// Dropped returns the number of utterances dropped so far.
func (d *Dispatcher) Dropped() int { return int(d.dropped.Load()) }

func (d *Dispatcher) start(ctx context.Context, u Utterance) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, u)
	}()
}

// run executes the handler in an acquired slot. A panic is contained to the
// unit.
func (d *Dispatcher) run(ctx context.Context, u Utterance) {
	defer d.sem.Release(1)

	d.inflight.Add(1)
	defer d.inflight.Add(-1)
	if m := d.cfg.Metrics; m != nil {
		m.InFlightUnits.Add(ctx, 1)
		defer m.InFlightUnits.Add(context.WithoutCancel(ctx), -1)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("session: unit panicked",
				"session_id", u.SessionID,
				"seq", u.Seq,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	d.handler(ctx, u)
}

func (d *Dispatcher) drop(ctx context.Context, u Utterance, reason string) {
	d.dropped.Add(1)
	if m := d.cfg.Metrics; m != nil {
		m.RecordDrop(context.WithoutCancel(ctx), string(d.cfg.Policy))
	}
	slog.Warn("session: utterance dropped",
		"session_id", u.SessionID,
		"seq", u.Seq,
		"reason", reason,
		"policy", string(d.cfg.Policy),
		"duration", u.Duration(),
	)
}
