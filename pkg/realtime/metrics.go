package realtime

import (
	"context"
	"time"

	"github.com/tsarna/callsec/pkg/realtime/o11y"
)

// clientMetrics holds the client's instruments. The zero value reports
// nothing.
type clientMetrics struct {
	connects   o11y.Counter
	reconnects o11y.Counter
	delivered  o11y.Counter
	failures   o11y.Counter
	dropped    o11y.Counter
	state      o11y.Gauge
	duration   o11y.Histogram
}

func newClientMetrics(provider o11y.MetricsProvider) clientMetrics {
	if provider == nil {
		return clientMetrics{}
	}

	return clientMetrics{
		connects:   provider.Counter(o11y.MetricConnects),
		reconnects: provider.Counter(o11y.MetricReconnectAttempts),
		delivered:  provider.Counter(o11y.MetricEventsDispatched),
		failures:   provider.Counter(o11y.MetricSubscriberFailures),
		dropped:    provider.Counter(o11y.MetricFramesDropped),
		state:      provider.Gauge(o11y.MetricConnectionState),
		duration:   provider.Histogram(o11y.MetricDispatchDuration),
	}
}

func (m clientMetrics) connect(ctx context.Context) {
	if m.connects != nil {
		m.connects.Add(ctx, 1)
	}
}

func (m clientMetrics) reconnectAttempt(ctx context.Context) {
	if m.reconnects != nil {
		m.reconnects.Add(ctx, 1)
	}
}

func (m clientMetrics) drop(ctx context.Context, reason string) {
	if m.dropped != nil {
		m.dropped.Add(ctx, 1, o11y.Label{Key: "reason", Value: reason})
	}
}

func (m clientMetrics) setState(ctx context.Context, state ConnectionState) {
	if m.state != nil {
		m.state.Set(ctx, float64(state))
	}
}

func (m clientMetrics) dispatched(ctx context.Context, category Category, result DispatchResult, elapsed time.Duration) {
	label := o11y.Label{Key: "category", Value: string(category)}

	if m.delivered != nil && result.Delivered > 0 {
		m.delivered.Add(ctx, int64(result.Delivered), label)
	}
	if m.failures != nil && result.Failed > 0 {
		m.failures.Add(ctx, int64(result.Failed), label)
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), label)
	}
}
