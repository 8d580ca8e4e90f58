package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tsarna/callsec/pkg/realtime/o11y"
	"go.uber.org/zap"
)

// ErrNoURL is returned by Build when neither a URL nor an API base was set.
var ErrNoURL = errors.New("URL is required")

// DefaultTokenTimeout bounds a single TokenProvider call.
const DefaultTokenTimeout = 10 * time.Second

// ClientBuilder provides a fluent interface for building a Client.
type ClientBuilder struct {
	url             string
	origin          string
	apiBase         string
	logger          *zap.Logger
	dialer          Dialer
	tokens          TokenProvider
	tokenTimeout    time.Duration
	policy          ReconnectPolicy
	metricsProvider o11y.MetricsProvider
	tracingProvider o11y.TracingProvider
	afterFunc       afterFunc
}

// NewClient creates a new Client builder with the default reconnect policy
// and a no-op logger.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		logger:       zap.NewNop(),
		tokenTimeout: DefaultTokenTimeout,
		policy:       DefaultReconnectPolicy(),
	}
}

// WithURL sets the WebSocket URL to connect to.
func (b *ClientBuilder) WithURL(url string) *ClientBuilder {
	b.url = url
	return b
}

// WithOrigin derives the WebSocket URL from the page origin and the API
// base URL, see DeriveTarget. An explicit WithURL takes precedence.
func (b *ClientBuilder) WithOrigin(pageOrigin, apiBase string) *ClientBuilder {
	b.origin = pageOrigin
	b.apiBase = apiBase
	return b
}

// WithLogger sets the logger for the client.
func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialer sets the transport dialer. Without one, Connect reports that
// the transport is unavailable.
func (b *ClientBuilder) WithDialer(dialer Dialer) *ClientBuilder {
	b.dialer = dialer
	return b
}

// WithTokenProvider sets where the client gets its credential from.
func (b *ClientBuilder) WithTokenProvider(tokens TokenProvider) *ClientBuilder {
	b.tokens = tokens
	return b
}

// WithToken is a shorthand for WithTokenProvider(StaticToken(token)).
func (b *ClientBuilder) WithToken(token string) *ClientBuilder {
	b.tokens = StaticToken(token)
	return b
}

// WithTokenTimeout bounds each call to the TokenProvider.
func (b *ClientBuilder) WithTokenTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.tokenTimeout = timeout
	}
	return b
}

// WithReconnectPolicy replaces the default reconnect policy.
func (b *ClientBuilder) WithReconnectPolicy(policy ReconnectPolicy) *ClientBuilder {
	b.policy = policy
	return b
}

// WithMetrics sets the metrics provider for the client.
func (b *ClientBuilder) WithMetrics(provider o11y.MetricsProvider) *ClientBuilder {
	b.metricsProvider = provider
	return b
}

// WithTracing sets the tracing provider for the client.
func (b *ClientBuilder) WithTracing(provider o11y.TracingProvider) *ClientBuilder {
	b.tracingProvider = provider
	return b
}

// IsValid checks that all required configuration is present.
func (b *ClientBuilder) IsValid() error {
	if b.url == "" && b.apiBase == "" {
		return ErrNoURL
	}

	if err := b.policy.Validate(); err != nil {
		return fmt.Errorf("invalid reconnect policy: %w", err)
	}

	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	return nil
}

// Build creates the Client. The client starts in StateDisconnected; call
// Connect to open the connection.
func (b *ClientBuilder) Build() (*Client, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	target := b.url
	if target == "" {
		derived, err := DeriveTarget(b.origin, b.apiBase)
		if err != nil {
			return nil, err
		}
		target = derived
	}

	after := b.afterFunc
	if after == nil {
		after = realAfterFunc
	}

	return &Client{
		target:       target,
		logger:       b.logger,
		dialer:       b.dialer,
		tokens:       b.tokens,
		tokenTimeout: b.tokenTimeout,
		policy:       b.policy,
		registry:     NewRegistry(b.logger),
		afterFunc:    after,
		ctx:          context.Background(),
		metrics:      newClientMetrics(b.metricsProvider),
		tracing:      b.tracingProvider,
		state:        StateDisconnected,
	}, nil
}
