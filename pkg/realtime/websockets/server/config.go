package server

import (
	"fmt"
	"time"

	"github.com/tsarna/callsec/pkg/realtime/o11y"
	"go.uber.org/zap"
)

// Verifier checks an access token and returns the subject it was issued to.
type Verifier interface {
	VerifySubject(token string) (string, error)
}

// ListenerConfig holds the configuration for creating a WebSocket Listener.
// Use NewListenerConfig() to create a new configuration and chain methods
// to set the required parameters before calling Build().
type ListenerConfig struct {
	logger         *zap.Logger
	verifier       Verifier
	authTimeout    time.Duration
	queueSize      int
	pingInterval   time.Duration
	writeTimeout   time.Duration
	readLimit      int64
	originPatterns []string
	metrics        o11y.MetricsProvider
}

const (
	// DefaultAuthTimeout is how long a new connection has to present its
	// auth envelope before it is closed.
	DefaultAuthTimeout = 10 * time.Second

	// DefaultQueueSize is the default size of each connection's outbound
	// queue. Events beyond it are dropped for that connection.
	DefaultQueueSize = 256

	// DefaultPingInterval is the default interval for sending WebSocket ping frames.
	DefaultPingInterval = 30 * time.Second

	// DefaultWriteTimeout is the default timeout for writing messages to clients.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultReadLimit caps the size of a client frame.
	DefaultReadLimit = 32768
)

// NewListenerConfig creates a new ListenerConfig for building a WebSocket Listener.
//
// Example:
//
//	listener, err := server.NewListenerConfig().
//	    WithLogger(logger).
//	    WithVerifier(issuer).
//	    WithAuthTimeout(5 * time.Second).
//	    Build()
func NewListenerConfig() *ListenerConfig {
	return &ListenerConfig{
		authTimeout:  DefaultAuthTimeout,
		queueSize:    DefaultQueueSize,
		pingInterval: DefaultPingInterval,
		writeTimeout: DefaultWriteTimeout,
		readLimit:    DefaultReadLimit,
	}
}

// WithLogger sets the Logger for the WebSocket Listener.
func (c *ListenerConfig) WithLogger(logger *zap.Logger) *ListenerConfig {
	c.logger = logger
	return c
}

// WithVerifier sets the token verifier used for the auth handshake.
func (c *ListenerConfig) WithVerifier(verifier Verifier) *ListenerConfig {
	c.verifier = verifier
	return c
}

// WithAuthTimeout sets how long a connection may stay unauthenticated.
//
// Default: 10 seconds
func (c *ListenerConfig) WithAuthTimeout(timeout time.Duration) *ListenerConfig {
	if timeout > 0 {
		c.authTimeout = timeout
	}
	return c
}

// WithQueueSize sets the outbound queue size for each connection. Must be
// positive.
//
// Default: 256 messages per connection
func (c *ListenerConfig) WithQueueSize(size int) *ListenerConfig {
	if size > 0 {
		c.queueSize = size
	}
	return c
}

// WithPingInterval sets the interval for sending WebSocket ping frames.
// Set to 0 to disable pings.
//
// Default: 30 seconds
func (c *ListenerConfig) WithPingInterval(interval time.Duration) *ListenerConfig {
	if interval >= 0 {
		c.pingInterval = interval
	}
	return c
}

// WithWriteTimeout sets the timeout for writing messages to WebSocket clients.
//
// Default: 10 seconds
func (c *ListenerConfig) WithWriteTimeout(timeout time.Duration) *ListenerConfig {
	if timeout > 0 {
		c.writeTimeout = timeout
	}
	return c
}

// WithReadLimit caps the size of a frame read from a client.
func (c *ListenerConfig) WithReadLimit(limit int64) *ListenerConfig {
	if limit > 0 {
		c.readLimit = limit
	}
	return c
}

// WithOriginPatterns allows browser connections from other origins. The
// patterns use path.Match syntax against the Origin host.
func (c *ListenerConfig) WithOriginPatterns(patterns ...string) *ListenerConfig {
	if len(patterns) > 0 {
		c.originPatterns = make([]string, len(patterns))
		copy(c.originPatterns, patterns)
	}
	return c
}

// WithMetrics sets the metrics provider. A nil provider disables metrics.
func (c *ListenerConfig) WithMetrics(provider o11y.MetricsProvider) *ListenerConfig {
	c.metrics = provider
	return c
}

// IsValid checks if the configuration has all required parameters set.
// Returns nil if the configuration is valid, or an error describing what's missing.
func (c *ListenerConfig) IsValid() error {
	var missing []string
	if c.logger == nil {
		missing = append(missing, "Logger")
	}
	if c.verifier == nil {
		missing = append(missing, "Verifier")
	}

	if len(missing) > 0 {
		return fmt.Errorf("invalid listener configuration, missing: %v", missing)
	}

	return nil
}

// Build creates a new WebSocket Listener from the configuration.
func (c *ListenerConfig) Build() (*Listener, error) {
	if err := c.IsValid(); err != nil {
		return nil, err
	}

	return newListener(c), nil
}
