// Package observe provides application-wide observability primitives for
// toolgate: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. Construct instruments with
// [NewMetrics]; tests pass a [metric.MeterProvider] backed by a manual reader
// to avoid cross-test pollution.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all toolgate metrics.
const meterName = "github.com/MrWong99/toolgate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SessionEstablishDuration tracks how long establishing a new MCP session
	// takes (credential acquisition plus connect).
	SessionEstablishDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// ToolCallDuration tracks MCP tool execution latency.
	ToolCallDuration metric.Float64Histogram

	// --- Counters ---

	// SessionEstablishes counts session establishment attempts. Use with attribute:
	//   attribute.String("status", ...)
	SessionEstablishes metric.Int64Counter

	// SessionReconnects counts forced session reconnections.
	SessionReconnects metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ChatTurns counts completed chat turns. Use with attribute:
	//   attribute.String("status", ...)
	ChatTurns metric.Int64Counter

	// --- Gauges ---

	// ActiveChats tracks the number of chat requests currently in flight.
	ActiveChats metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. [Middleware]
	// records it with method, route, and status attributes.
	HTTPRequestDuration metric.Float64Histogram

	// meter creates callback-driven instruments after construction, such as
	// the session generation gauge.
	meter metric.Meter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// everything from local tool round-trips to slow LLM completions.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.SessionEstablishDuration, err = m.Float64Histogram("toolgate.mcp.session.establish.duration",
		metric.WithDescription("Latency of MCP session establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("toolgate.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolCallDuration, err = m.Float64Histogram("toolgate.tool_call.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SessionEstablishes, err = m.Int64Counter("toolgate.mcp.session.establishes",
		metric.WithDescription("Total MCP session establishment attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.SessionReconnects, err = m.Int64Counter("toolgate.mcp.session.reconnects",
		metric.WithDescription("Total forced MCP session reconnections."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("toolgate.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ChatTurns, err = m.Int64Counter("toolgate.chat.turns",
		metric.WithDescription("Total completed chat turns by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveChats, err = m.Int64UpDownCounter("toolgate.active_chats",
		metric.WithDescription("Number of chat requests currently in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("toolgate.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordSessionEstablish records a session establishment attempt with the
// given status ("ok", "credential_error", "connect_error").
func (m *Metrics) RecordSessionEstablish(ctx context.Context, status string) {
	m.SessionEstablishes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSessionReconnect records a forced session reconnection.
func (m *Metrics) RecordSessionReconnect(ctx context.Context) {
	m.SessionReconnects.Add(ctx, 1)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// ObserveSessionGeneration registers an observable gauge that reports the
// current MCP session generation, read via fn on every metrics collection.
func (m *Metrics) ObserveSessionGeneration(fn func() int64) error {
	_, err := m.meter.Int64ObservableGauge("toolgate.mcp.session.generation",
		metric.WithDescription("Current MCP session generation."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(fn())
			return nil
		}),
	)
	return err
}

// RecordChatTurn is a convenience method that records a completed chat turn.
func (m *Metrics) RecordChatTurn(ctx context.Context, status string) {
	m.ChatTurns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
