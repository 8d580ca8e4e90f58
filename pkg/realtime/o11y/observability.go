// Package o11y defines the metrics and tracing hooks the realtime client
// and the development server report through. Implementations live
// elsewhere (see package otel); a nil provider disables reporting.
package o11y

import (
	"context"
)

// Metric names reported by the realtime client.
const (
	MetricConnects           = "realtime_connects_total"
	MetricReconnectAttempts  = "realtime_reconnect_attempts_total"
	MetricEventsDispatched   = "realtime_events_dispatched_total"
	MetricSubscriberFailures = "realtime_subscriber_failures_total"
	MetricFramesDropped      = "realtime_frames_dropped_total"
	MetricConnectionState    = "realtime_connection_state"
	MetricDispatchDuration   = "realtime_dispatch_duration_seconds"
)

// Metric names reported by the development server.
const (
	MetricServerConnections = "realtime_server_connections"
	MetricServerBroadcasts  = "realtime_server_broadcasts_total"
	MetricServerAuthResults = "realtime_server_auth_total"
)

// MetricsProvider creates metric instruments by name.
type MetricsProvider interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// TracingProvider starts spans.
type TracingProvider interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Counter is a monotonically increasing metric.
type Counter interface {
	Add(ctx context.Context, value int64, labels ...Label)
}

// Histogram records a distribution of values.
type Histogram interface {
	Record(ctx context.Context, value float64, labels ...Label)
}

// Gauge holds a value that can go up and down.
type Gauge interface {
	Set(ctx context.Context, value float64, labels ...Label)
}

// Span is a unit of work in a trace.
type Span interface {
	SetAttributes(labels ...Label)
	SetStatus(code SpanStatusCode, description string)
	End()
}

// Label is a key-value pair attached to a measurement or span.
type Label struct {
	Key   string
	Value string
}

// SpanStatusCode is the outcome recorded on a span.
type SpanStatusCode int

const (
	SpanStatusUnset SpanStatusCode = iota
	SpanStatusOK
	SpanStatusError
)
