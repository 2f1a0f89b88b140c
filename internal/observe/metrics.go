// Package observe provides observability primitives for the voxlingo server:
// OpenTelemetry metrics, tracing helpers, and HTTP middleware tying them
// together.
//
// Metrics are recorded through the OTel Metrics API and exported via the
// Prometheus bridge set up in [InitProvider], so the standard /metrics
// endpoint keeps working. A package-level default [Metrics] instance is
// available through [DefaultMetrics]; tests should build their own with
// [NewMetrics] and a private meter provider to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all voxlingo metrics.
const meterName = "github.com/voxlingo/voxlingo"

// Metrics holds all OTel metric instruments for the application. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks the time from a turn's first audio frame to its
	// committed final transcript.
	STTDuration metric.Float64Histogram

	// LLMFirstToken tracks time to the first streamed completion token.
	LLMFirstToken metric.Float64Histogram

	// TTSDuration tracks time from the first synthesized audio chunk to the
	// last one of a turn.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end turn latency, final transcript to
	// end of synthesized audio.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed conversation turns. Attributes:
	//   attribute.String("language", ...), attribute.String("source", "voice"|"text")
	Turns metric.Int64Counter

	// BargeIns counts interruptions of an in-flight response.
	BargeIns metric.Int64Counter

	// GraphRestarts counts automatic pipeline restarts. Attribute:
	//   attribute.String("outcome", "recovered"|"exhausted")
	GraphRestarts metric.Int64Counter

	// ProviderErrors counts provider failures. Attributes:
	//   attribute.String("provider", ...), attribute.String("stage", "stt"|"llm"|"tts"|"embeddings")
	ProviderErrors metric.Int64Counter

	// EnrichmentRuns counts enrichment job completions. Attributes:
	//   attribute.String("job", "flashcards"|"feedback"|"memory"), attribute.String("status", ...)
	EnrichmentRuns metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries (seconds) sized for conversational
// voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates all instruments on the given meter provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("voxlingo.stt.duration",
		metric.WithDescription("Time from first audio frame to committed final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMFirstToken, err = m.Float64Histogram("voxlingo.llm.first_token",
		metric.WithDescription("Time to first streamed completion token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voxlingo.tts.duration",
		metric.WithDescription("Time from first to last synthesized audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("voxlingo.turn.duration",
		metric.WithDescription("End-to-end turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("voxlingo.turns",
		metric.WithDescription("Completed conversation turns by language and source."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voxlingo.barge_ins",
		metric.WithDescription("Interruptions of an in-flight response."),
	); err != nil {
		return nil, err
	}
	if met.GraphRestarts, err = m.Int64Counter("voxlingo.graph.restarts",
		metric.WithDescription("Automatic pipeline restarts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxlingo.provider.errors",
		metric.WithDescription("Provider failures by provider and stage."),
	); err != nil {
		return nil, err
	}
	if met.EnrichmentRuns, err = m.Int64Counter("voxlingo.enrichment.runs",
		metric.WithDescription("Enrichment job completions by job and status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxlingo.active_sessions",
		metric.WithDescription("Live conversation sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxlingo.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first call from the global meter provider. Panics if instrument creation
// fails, which cannot happen with the global provider.
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

// RecordTurn increments the turn counter with the standard attribute set.
func (m *Metrics) RecordTurn(ctx context.Context, language, source string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("language", language),
		attribute.String("source", source),
	))
}

// RecordBargeIn increments the interruption counter.
func (m *Metrics) RecordBargeIn(ctx context.Context, language string) {
	m.BargeIns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("language", language),
	))
}

// RecordGraphRestart increments the restart counter.
func (m *Metrics) RecordGraphRestart(ctx context.Context, outcome string) {
	m.GraphRestarts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, stage string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("stage", stage),
	))
}

// RecordEnrichment increments the enrichment completion counter.
func (m *Metrics) RecordEnrichment(ctx context.Context, job, status string) {
	m.EnrichmentRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("status", status),
	))
}
