package server

import (
	"context"

	"github.com/tsarna/callsec/pkg/realtime/o11y"
)

// serverMetrics holds the listener's instruments. A nil *serverMetrics
// records nothing.
type serverMetrics struct {
	connections o11y.Gauge
	broadcasts  o11y.Counter
	authResults o11y.Counter
}

func newServerMetrics(provider o11y.MetricsProvider) *serverMetrics {
	if provider == nil {
		return nil
	}

	return &serverMetrics{
		connections: provider.Gauge(o11y.MetricServerConnections),
		broadcasts:  provider.Counter(o11y.MetricServerBroadcasts),
		authResults: provider.Counter(o11y.MetricServerAuthResults),
	}
}

func (m *serverMetrics) recordConnections(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.connections.Set(ctx, float64(count))
}

func (m *serverMetrics) recordBroadcast(ctx context.Context, category string, delivered int) {
	if m == nil {
		return
	}
	m.broadcasts.Add(ctx, int64(delivered), o11y.Label{Key: "category", Value: category})
}

func (m *serverMetrics) recordAuth(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.authResults.Add(ctx, 1, o11y.Label{Key: "result", Value: result})
}
