// Package websockets provides the WebSocket transports the realtime client
// dials through. Two drivers are available: coder/websocket, the default,
// and gorilla/websocket.
package websockets

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tsarna/callsec/pkg/realtime"
	"go.uber.org/zap"
)

// Driver selects the WebSocket library a Dialer uses.
type Driver string

const (
	DriverCoder   Driver = "coder"
	DriverGorilla Driver = "gorilla"
)

// ParseDriver converts a driver name to a Driver. An empty name selects
// DriverCoder.
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(name) {
	case "", string(DriverCoder):
		return DriverCoder, nil
	case string(DriverGorilla):
		return DriverGorilla, nil
	default:
		return "", fmt.Errorf("unknown websocket driver %q", name)
	}
}

// Dialer opens WebSocket transports. It implements realtime.Dialer.
type Dialer struct {
	driver           driver
	name             Driver
	logger           *zap.Logger
	dialTimeout      time.Duration
	closeTimeout     time.Duration
	writeChannelSize int
	readLimit        int64
	headers          http.Header
}

var _ realtime.Dialer = (*Dialer)(nil)

// DialerBuilder provides a fluent interface for building a Dialer.
type DialerBuilder struct {
	driver           Driver
	logger           *zap.Logger
	dialTimeout      time.Duration
	closeTimeout     time.Duration
	writeChannelSize int
	readLimit        int64
	headers          http.Header
}

// NewDialer creates a new Dialer builder.
func NewDialer() *DialerBuilder {
	return &DialerBuilder{
		driver:           DriverCoder,
		logger:           zap.NewNop(),
		dialTimeout:      30 * time.Second,
		closeTimeout:     5 * time.Second,
		writeChannelSize: 100,
		readLimit:        1 << 20,
	}
}

// WithDriver selects the WebSocket library.
func (b *DialerBuilder) WithDriver(driver Driver) *DialerBuilder {
	b.driver = driver
	return b
}

// WithLogger sets the logger for the dialer and its transports.
func (b *DialerBuilder) WithLogger(logger *zap.Logger) *DialerBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialTimeout sets the timeout for the opening handshake.
func (b *DialerBuilder) WithDialTimeout(timeout time.Duration) *DialerBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithCloseTimeout bounds how long a closing handshake may take before the
// connection is dropped.
func (b *DialerBuilder) WithCloseTimeout(timeout time.Duration) *DialerBuilder {
	if timeout > 0 {
		b.closeTimeout = timeout
	}
	return b
}

// WithWriteChannelSize sets how many outbound frames may be queued per
// transport. Send fails once the queue is full.
func (b *DialerBuilder) WithWriteChannelSize(size int) *DialerBuilder {
	if size > 0 {
		b.writeChannelSize = size
	}
	return b
}

// WithReadLimit sets the largest inbound frame accepted, in bytes.
func (b *DialerBuilder) WithReadLimit(limit int64) *DialerBuilder {
	if limit > 0 {
		b.readLimit = limit
	}
	return b
}

// WithHeader sets an HTTP header sent with the opening handshake.
func (b *DialerBuilder) WithHeader(key, value string) *DialerBuilder {
	if b.headers == nil {
		b.headers = make(http.Header)
	}
	b.headers.Set(key, value)
	return b
}

// IsValid checks that the configuration can be used.
func (b *DialerBuilder) IsValid() error {
	if _, err := ParseDriver(string(b.driver)); err != nil {
		return err
	}

	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	return nil
}

// Build creates the Dialer.
func (b *DialerBuilder) Build() (*Dialer, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	name, _ := ParseDriver(string(b.driver))

	var drv driver
	switch name {
	case DriverGorilla:
		drv = gorillaDriver{}
	default:
		drv = coderDriver{}
	}

	return &Dialer{
		driver:           drv,
		name:             name,
		logger:           b.logger,
		dialTimeout:      b.dialTimeout,
		closeTimeout:     b.closeTimeout,
		writeChannelSize: b.writeChannelSize,
		readLimit:        b.readLimit,
		headers:          b.headers.Clone(),
	}, nil
}

// Driver returns the WebSocket library this dialer uses.
func (d *Dialer) Driver() Driver {
	return d.name
}

// Dial validates target and starts connecting in the background. The
// outcome is reported to handler.
func (d *Dialer) Dial(target string, handler realtime.TransportHandler) (realtime.Transport, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid URL scheme %q, expected ws or wss", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: missing host", target)
	}

	t := newTransport(d, handler)
	go t.run(target)

	return t, nil
}
