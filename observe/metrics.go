// Package observe provides the concierge's observability primitives:
// structured logging setup and OpenTelemetry metrics with a Prometheus
// bridge.
//
// Tests should build their own [Metrics] with [NewMetrics] on a private
// [metric.MeterProvider] instead of using [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/afsheen-enterprise/concierge"

// Metrics holds every metric instrument of the service. All fields are safe
// for concurrent use.
type Metrics struct {
	// ActiveVoiceSessions tracks voice sessions between Start and teardown.
	ActiveVoiceSessions metric.Int64UpDownCounter

	// ActiveConnections tracks open client WebSocket connections.
	ActiveConnections metric.Int64UpDownCounter

	// ChunksSent counts captured audio chunks sent to the Live service.
	ChunksSent metric.Int64Counter

	// ChunksScheduled counts inbound audio chunks scheduled for playback.
	ChunksScheduled metric.Int64Counter

	// Interruptions counts barge-in events.
	Interruptions metric.Int64Counter

	// VoiceErrors counts voice failures. Use with attribute:
	//   attribute.String("kind", ...)
	VoiceErrors metric.Int64Counter

	// AssistantRequests counts text and map requests. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("status", ...)
	AssistantRequests metric.Int64Counter

	// AssistantDuration tracks assistant request latency.
	AssistantDuration metric.Float64Histogram

	// SearchPoints counts places extracted from map search replies.
	SearchPoints metric.Int64Counter
}

var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates a Metrics on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveVoiceSessions, err = m.Int64UpDownCounter("concierge.voice.active_sessions",
		metric.WithDescription("Number of voice sessions currently connecting or active."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("concierge.ws.active_connections",
		metric.WithDescription("Number of open client WebSocket connections."),
	); err != nil {
		return nil, err
	}
	if met.ChunksSent, err = m.Int64Counter("concierge.voice.chunks_sent",
		metric.WithDescription("Captured audio chunks sent to the Live service."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("concierge.voice.chunks_scheduled",
		metric.WithDescription("Inbound audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("concierge.voice.interruptions",
		metric.WithDescription("Playback interruptions caused by barge-in."),
	); err != nil {
		return nil, err
	}
	if met.VoiceErrors, err = m.Int64Counter("concierge.voice.errors",
		metric.WithDescription("Voice session failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.AssistantRequests, err = m.Int64Counter("concierge.assistant.requests",
		metric.WithDescription("Assistant requests by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.AssistantDuration, err = m.Float64Histogram("concierge.assistant.duration",
		metric.WithDescription("Latency of assistant requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SearchPoints, err = m.Int64Counter("concierge.assistant.search_points",
		metric.WithDescription("Places extracted from map search replies."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a Metrics on the global MeterProvider. It panics if
// instrument creation fails, which only happens on programmer error.
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

// RecordVoiceError increments VoiceErrors for kind.
func (m *Metrics) RecordVoiceError(ctx context.Context, kind string) {
	m.VoiceErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordAssistantRequest increments AssistantRequests and records the
// request latency in seconds.
func (m *Metrics) RecordAssistantRequest(ctx context.Context, operation, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.AssistantRequests.Add(ctx, 1, attrs)
	m.AssistantDuration.Record(ctx, seconds, attrs)
}
