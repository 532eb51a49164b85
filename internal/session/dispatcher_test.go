package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxdesk/internal/observe"
)

// gate is a handler that blocks every unit until released and tracks the
// peak number of concurrent units.
type gate struct {
	release chan struct{}
	started chan uint64

	mu      sync.Mutex
	running int
	peak    int
	done    []uint64
}

func newGate() *gate {
	return &gate{release: make(chan struct{}), started: make(chan uint64, 16)}
}

func (g *gate) handle(ctx context.Context, u Utterance) {
	g.mu.Lock()
	g.running++
	g.peak = max(g.peak, g.running)
	g.mu.Unlock()
	g.started <- u.Seq

	select {
	case <-g.release:
	case <-ctx.Done():
	}

	g.mu.Lock()
	g.running--
	g.done = append(g.done, u.Seq)
	g.mu.Unlock()
}

func (g *gate) waitStarted(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-g.started:
		case <-time.After(2 * time.Second):
			t.Fatal("unit did not start")
		}
	}
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counterValue sums every data point of the named int64 sum.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestDispatcher_ReturnsImmediately(t *testing.T) {
	t.Parallel()

	g := newGate()
	d := NewDispatcher(g.handle, DispatcherConfig{})

	done := make(chan struct{})
	go func() {
		d.Dispatch(context.Background(), Utterance{Seq: 1})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a running unit")
	}
	g.waitStarted(t, 1)
	close(g.release)
	d.Wait()
}

func TestDispatcher_QueuePolicy(t *testing.T) {
	t.Parallel()

	g := newGate()
	d := NewDispatcher(g.handle, DispatcherConfig{MaxInFlight: 2, Policy: PolicyQueue})

	for i := range 3 {
		d.Dispatch(context.Background(), Utterance{Seq: uint64(i + 1)})
	}
	g.waitStarted(t, 2)
	if n := d.InFlight(); n != 2 {
		t.Errorf("InFlight = %d, want 2", n)
	}
	select {
	case seq := <-g.started:
		t.Fatalf("unit %d started beyond the limit", seq)
	case <-time.After(50 * time.Millisecond):
	}

	close(g.release)
	g.waitStarted(t, 1)
	d.Wait()

	if g.peak != 2 {
		t.Errorf("peak concurrency = %d, want 2", g.peak)
	}
	if len(g.done) != 3 || d.Dropped() != 0 {
		t.Errorf("done = %v, dropped = %d; want all three handled", g.done, d.Dropped())
	}
}

func TestDispatcher_DropPolicy(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	g := newGate()
	d := NewDispatcher(g.handle, DispatcherConfig{MaxInFlight: 2, Policy: PolicyDrop, Metrics: m})

	d.Dispatch(context.Background(), Utterance{Seq: 1})
	d.Dispatch(context.Background(), Utterance{Seq: 2})
	g.waitStarted(t, 2)
	d.Dispatch(context.Background(), Utterance{Seq: 3})

	if d.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", d.Dropped())
	}
	close(g.release)
	d.Wait()

	if len(g.done) != 2 {
		t.Errorf("handled %v, want units 1 and 2", g.done)
	}
	if got := counterValue(t, reader, "voxdesk.utterance.drops"); got != 1 {
		t.Errorf("drops metric = %d, want 1", got)
	}
	if got := counterValue(t, reader, "voxdesk.inflight_units"); got != 0 {
		t.Errorf("inflight metric = %d after Wait, want 0", got)
	}
}

func TestDispatcher_QueueTimeout(t *testing.T) {
	t.Parallel()

	g := newGate()
	d := NewDispatcher(g.handle, DispatcherConfig{MaxInFlight: 1, QueueTimeout: 20 * time.Millisecond})

	d.Dispatch(context.Background(), Utterance{Seq: 1})
	g.waitStarted(t, 1)
	d.Dispatch(context.Background(), Utterance{Seq: 2})

	deadline := time.Now().Add(2 * time.Second)
	for d.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if d.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1 after queue timeout", d.Dropped())
	}
	close(g.release)
	d.Wait()
}

func TestDispatcher_CancelWhileQueued(t *testing.T) {
	t.Parallel()

	g := newGate()
	d := NewDispatcher(g.handle, DispatcherConfig{MaxInFlight: 1, QueueTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())

	d.Dispatch(ctx, Utterance{Seq: 1})
	g.waitStarted(t, 1)
	d.Dispatch(ctx, Utterance{Seq: 2})
	cancel()
	d.Wait()

	if d.Dropped() != 1 || len(g.done) != 1 {
		t.Errorf("dropped = %d, done = %v; want queued unit dropped", d.Dropped(), g.done)
	}
}

func TestDispatcher_PanicIsContained(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	d := NewDispatcher(func(context.Context, Utterance) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	}, DispatcherConfig{MaxInFlight: 1})

	d.Dispatch(context.Background(), Utterance{Seq: 1})
	d.Wait()
	d.Dispatch(context.Background(), Utterance{Seq: 2})
	d.Wait()

	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (slot must be released after a panic)", calls.Load())
	}
	if d.InFlight() != 0 {
		t.Errorf("InFlight = %d, want 0", d.InFlight())
	}
}

func TestDispatcher_Defaults(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(func(context.Context, Utterance) {}, DispatcherConfig{Policy: "bogus"})
	if d.cfg.MaxInFlight != DefaultMaxInFlight || d.cfg.Policy != PolicyQueue || d.cfg.QueueTimeout != DefaultQueueTimeout {
		t.Errorf("cfg = %+v", d.cfg)
	}
}
