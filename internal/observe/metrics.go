// Package observe holds the observability primitives of voxdesk:
// OpenTelemetry metrics, tracing helpers, trace-aware logging and the HTTP
// middleware that ties them together.
//
// Metrics go through the OpenTelemetry Metrics API and are exposed for
// Prometheus scraping by the exporter installed in [InitProvider]. Production
// code uses [DefaultMetrics]; tests build their own instance with
// [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every voxdesk instrument.
const meterName = "github.com/MrWong99/voxdesk"

// Pipeline stage names used as the "stage" attribute and in span names.
const (
	StageTranscribe = "transcribe"
	StageGenerate   = "generate"
	StageSynthesize = "synthesize"
	StageAvatar     = "avatar"
	StageTurn       = "turn"
)

// Metrics holds every metric instrument of the service. The OTel types are
// safe for concurrent use.
type Metrics struct {
	// StageDuration tracks pipeline stage latency. Attribute "stage" is one
	// of the Stage* constants.
	StageDuration metric.Float64Histogram

	// ProviderRequests counts backend calls with attributes "provider",
	// "kind" (stt, llm, tts, avatar) and "status" (ok, empty, error).
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed backend calls by "provider" and "kind".
	ProviderErrors metric.Int64Counter

	// UtteranceFlushes counts utterances cut by the endpoint detector.
	UtteranceFlushes metric.Int64Counter

	// UtteranceDrops counts utterances discarded by the dispatcher's overflow
	// policy. Attribute "policy".
	UtteranceDrops metric.Int64Counter

	// DecodeFailures counts accumulated chunks that could not be decoded.
	DecodeFailures metric.Int64Counter

	// Clarifications counts turns answered with the clarification text.
	Clarifications metric.Int64Counter

	// ActiveSessions tracks open websocket sessions.
	ActiveSessions metric.Int64UpDownCounter

	// InFlightUnits tracks running per-utterance units across all sessions.
	InFlightUnits metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP handler time by "method" and "path".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Stages range from a
// few milliseconds (VAD) to minutes (avatar rendering).
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180, 300,
}

// NewMetrics creates a [Metrics] whose instruments come from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("voxdesk.stage.duration",
		metric.WithDescription("Latency of a pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("voxdesk.provider.requests",
		metric.WithDescription("Backend calls by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxdesk.provider.errors",
		metric.WithDescription("Failed backend calls by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceFlushes, err = m.Int64Counter("voxdesk.utterance.flushes",
		metric.WithDescription("Utterances cut by endpoint detection."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDrops, err = m.Int64Counter("voxdesk.utterance.drops",
		metric.WithDescription("Utterances dropped because too many were in flight."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("voxdesk.decode.failures",
		metric.WithDescription("Audio blocks that failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.Clarifications, err = m.Int64Counter("voxdesk.turn.clarifications",
		metric.WithDescription("Turns answered with a clarification request."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxdesk.active_sessions",
		metric.WithDescription("Number of open streaming sessions."),
	); err != nil {
		return nil, err
	}
	if met.InFlightUnits, err = m.Int64UpDownCounter("voxdesk.inflight_units",
		metric.WithDescription("Number of utterances currently being processed."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxdesk.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. Call it after [InitProvider] so instruments
// bind to the Prometheus-backed provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the latency of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("stage", stage)))
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordDrop increments the utterance drop counter for the given policy.
func (m *Metrics) RecordDrop(ctx context.Context, policy string) {
	m.UtteranceDrops.Add(ctx, 1, metric.WithAttributes(Attr("policy", policy)))
}
