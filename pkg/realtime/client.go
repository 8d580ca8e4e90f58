package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tsarna/callsec/pkg/realtime/o11y"
	"go.uber.org/zap"
)

// timer is the part of *time.Timer the client needs.
type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// Client maintains one authenticated real-time connection and fans inbound
// events out to category subscribers.
//
// All state changes happen under one mutex. Every connection attempt gets a
// new generation number, and transport callbacks and reconnect timers carry
// the generation they were created for, so anything arriving from a
// superseded attempt is ignored. Subscribers are always called without the
// mutex held and may call back into the client.
type Client struct {
	target       string
	logger       *zap.Logger
	dialer       Dialer
	tokens       TokenProvider
	tokenTimeout time.Duration
	policy       ReconnectPolicy
	registry     *Registry
	afterFunc    afterFunc
	ctx          context.Context
	metrics      clientMetrics
	tracing      o11y.TracingProvider

	mu         sync.Mutex
	state      ConnectionState
	attempts   int
	generation uint64
	transport  Transport
	timer      timer
}

// URL returns the WebSocket URL the client connects to.
func (c *Client) URL() string {
	return c.target
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of reconnect attempts made since the last
// successful open or explicit Connect.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// IsConnected reports whether the transport is open, authenticated or not.
func (c *Client) IsConnected() bool {
	return c.State().IsOpen()
}

// IsAuthenticated reports whether the server accepted our credential on the
// current connection.
func (c *Client) IsAuthenticated() bool {
	return c.State() == StateAuthenticated
}

// On registers sub for category. See Registry.On.
func (c *Client) On(category Category, sub Subscriber) bool {
	return c.registry.On(category, sub)
}

// Off unregisters sub from category. See Registry.Off.
func (c *Client) Off(category Category, sub Subscriber) bool {
	return c.registry.Off(category, sub)
}

// Connect opens the connection. It returns false if no transport is
// available or the transport could not be created. Calling Connect while a
// connection is already opening or open does nothing and returns true.
// Connect from any other state cancels a pending reconnect and resets the
// attempt counter.
func (c *Client) Connect() bool {
	c.mu.Lock()

	if c.dialer == nil {
		c.mu.Unlock()
		c.logger.Error("WebSocket transport is not available")
		return false
	}

	switch c.state {
	case StateConnecting, StateConnected, StateAuthenticated:
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("Connect ignored, connection already active", zap.Stringer("state", state))
		return true
	}

	c.attempts = 0
	ok, _, events := c.connectLocked()
	c.mu.Unlock()

	c.publish(events...)
	return ok
}

// connectLocked opens a new transport for a new generation. On a
// synchronous failure the state returns to StateDisconnected and the error
// event to publish is returned.
func (c *Client) connectLocked() (bool, uint64, []SystemEvent) {
	c.stopTimerLocked()
	c.generation++
	gen := c.generation

	c.setStateLocked(StateConnecting)
	c.logger.Info("Connecting to WebSocket",
		zap.String("url", c.target),
		zap.Uint64("generation", gen),
	)

	t, err := c.dialer.Dial(c.target, &binding{client: c, generation: gen})
	if err != nil {
		c.logger.Error("Failed to create WebSocket transport", zap.String("url", c.target), zap.Error(err))
		c.setStateLocked(StateDisconnected)
		return false, gen, []SystemEvent{{Status: StatusError, Error: err.Error()}}
	}

	c.transport = t
	c.metrics.connect(c.ctx)
	return true, gen, nil
}

// Authenticate sends the auth envelope on the current connection. The
// client does this on its own when the transport opens; call it again to
// re-send after the credential changed. It returns false if the connection
// is not open, there is no credential or the frame could not be queued.
func (c *Client) Authenticate() bool {
	c.mu.Lock()
	if c.state != StateConnected || c.tokens == nil {
		state := c.state
		c.mu.Unlock()
		if c.tokens == nil {
			c.logger.Debug("No credential available, skipping authentication")
		} else {
			c.logger.Debug("Not authenticating, connection not open", zap.Stringer("state", state))
		}
		return false
	}
	gen := c.generation
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.tokenTimeout)
	token, err := c.tokens.Token(ctx)
	cancel()
	if err != nil {
		c.logger.Warn("Failed to obtain credential", zap.Error(err))
		return false
	}
	if token == "" {
		c.logger.Debug("No credential available, skipping authentication")
		return false
	}

	data, err := json.Marshal(AuthEnvelope(token))
	if err != nil {
		c.logger.Error("Failed to encode auth envelope", zap.Error(err))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.state != StateConnected {
		c.logger.Debug("Connection changed while obtaining credential, not authenticating")
		return false
	}

	return c.sendLocked(data)
}

// SendMessage encodes v as JSON and sends it. Only an authenticated client
// sends; otherwise the message is dropped and SendMessage returns false.
// Pass a json.RawMessage to send pre-encoded JSON unchanged.
func (c *Client) SendMessage(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode outbound message", zap.Error(err))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAuthenticated {
		c.logger.Warn("Cannot send message, not authenticated", zap.Stringer("state", c.state))
		return false
	}

	return c.sendLocked(data)
}

func (c *Client) sendLocked(data []byte) bool {
	if c.transport == nil {
		return false
	}

	if err := c.transport.Send(data); err != nil {
		c.logger.Warn("Failed to send frame", zap.Error(err))
		return false
	}
	return true
}

// Close shuts the connection down with a normal closure, which never
// triggers a reconnect, and cancels any pending reconnect. Close is
// idempotent and the client can be reconnected afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	c.stopTimerLocked()
	c.generation++
	prev := c.state
	t := c.transport
	c.transport = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	var err error
	if t != nil {
		err = t.Close(CloseNormal, "client closed")
		if err != nil {
			c.logger.Debug("Error closing WebSocket transport", zap.Error(err))
		}
	}

	switch prev {
	case StateConnecting, StateConnected, StateAuthenticated:
		c.logger.Info("WebSocket connection closed by client")
		c.publish(SystemEvent{Status: StatusDisconnected})
	}

	return err
}

func (c *Client) handleOpen(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateConnecting {
		c.mu.Unlock()
		c.logger.Debug("Ignoring open from stale connection", zap.Uint64("generation", gen))
		return
	}
	c.setStateLocked(StateConnected)
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("WebSocket connection established", zap.String("url", c.target))

	c.Authenticate()
	c.publish(SystemEvent{Status: StatusConnected})
}

func (c *Client) handleMessage(gen uint64, data []byte) {
	c.mu.Lock()
	stale := gen != c.generation || !c.state.IsOpen()
	c.mu.Unlock()
	if stale {
		c.logger.Debug("Ignoring frame from stale connection", zap.Uint64("generation", gen))
		return
	}

	env, err := ParseInbound(data)
	if err != nil {
		c.logger.Warn("Dropping malformed frame", zap.Error(err), zap.Int("size", len(data)))
		c.metrics.drop(c.ctx, "malformed")
		return
	}

	if env.Type == TypeAuthResponse {
		c.handleAuthResponse(gen, env)
		return
	}

	category := Category(env.Type)
	if !category.Valid() {
		c.logger.Debug("Dropping frame with unknown type", zap.String("type", env.Type))
		c.metrics.drop(c.ctx, "unknown_type")
		return
	}

	c.dispatch(category, env.Payload(data))
}

func (c *Client) handleAuthResponse(gen uint64, env InboundEnvelope) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateConnected {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("Ignoring unexpected auth_response", zap.Stringer("state", state))
		return
	}

	if env.Status == AuthStatusSuccess {
		c.setStateLocked(StateAuthenticated)
		c.mu.Unlock()

		c.logger.Info("WebSocket authenticated")
		c.publish(SystemEvent{Status: StatusAuthenticated})
		return
	}

	t := c.transport
	c.mu.Unlock()

	c.logger.Error("WebSocket authentication failed", zap.String("message", env.Message))
	c.publish(SystemEvent{Status: StatusAuthFailed, Error: env.Message})

	// The resulting close is abnormal and goes through the reconnect path.
	if t != nil {
		if err := t.Close(ClosePolicyViolation, "authentication failed"); err != nil {
			c.logger.Debug("Error closing WebSocket transport", zap.Error(err))
		}
	}
}

func (c *Client) handleError(gen uint64, err error) {
	c.mu.Lock()
	stale := gen != c.generation
	c.mu.Unlock()
	if stale {
		return
	}

	msg := "Connection error"
	if err != nil {
		msg = err.Error()
	}

	c.logger.Error("WebSocket error", zap.String("error", msg))
	c.publish(SystemEvent{Status: StatusError, Error: msg})
}

func (c *Client) handleClose(gen uint64, code int, reason string) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	switch c.state {
	case StateConnecting, StateConnected, StateAuthenticated:
	default:
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateDisconnected)
	c.transport = nil
	c.mu.Unlock()

	c.logger.Info("WebSocket connection closed",
		zap.Int("code", code),
		zap.String("reason", reason),
	)
	c.publish(SystemEvent{Status: StatusDisconnected})

	if code != CloseNormal {
		c.reconnect(gen)
	}
}

// reconnect schedules the next attempt or gives up once the budget is
// spent. It only acts on a disconnected client of generation gen.
func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}

	if c.attempts >= c.policy.MaxAttempts {
		c.setStateLocked(StateFailed)
		attempts := c.attempts
		c.mu.Unlock()

		c.logger.Error("Giving up on WebSocket reconnect", zap.Int("attempts", attempts))
		c.publish(SystemEvent{Status: StatusReconnectFailed, Error: ErrMaxReconnectAttempts})
		return
	}

	c.attempts++
	attempt := c.attempts
	delay := c.policy.Delay(attempt)
	c.setStateLocked(StateReconnecting)
	c.timer = c.afterFunc(delay, func() { c.fireReconnect(gen) })
	c.mu.Unlock()

	c.metrics.reconnectAttempt(c.ctx)
	c.logger.Info("Scheduling WebSocket reconnect",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", c.policy.MaxAttempts),
		zap.Duration("delay", delay),
	)
	c.publish(SystemEvent{
		Status:      StatusReconnecting,
		Attempt:     attempt,
		MaxAttempts: c.policy.MaxAttempts,
		Delay:       delay.Milliseconds(),
	})
}

func (c *Client) fireReconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateReconnecting {
		c.mu.Unlock()
		c.logger.Debug("Ignoring stale reconnect timer", zap.Uint64("generation", gen))
		return
	}
	c.timer = nil
	ok, next, events := c.connectLocked()
	c.mu.Unlock()

	c.publish(events...)
	if !ok {
		c.reconnect(next)
	}
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) setStateLocked(next ConnectionState) {
	if next != StateDisconnected && !c.state.CanTransition(next) {
		c.logger.DPanic("Illegal connection state transition",
			zap.Stringer("from", c.state),
			zap.Stringer("to", next),
		)
	}
	c.state = next
	c.metrics.setState(c.ctx, next)
}

func (c *Client) publish(events ...SystemEvent) {
	for _, ev := range events {
		c.dispatch(CategorySystem, ev.encode())
	}
}

func (c *Client) dispatch(category Category, payload json.RawMessage) {
	ctx := c.ctx
	var span o11y.Span
	if c.tracing != nil {
		ctx, span = c.tracing.StartSpan(ctx, "realtime.dispatch")
		span.SetAttributes(o11y.Label{Key: "category", Value: string(category)})
	}

	start := time.Now()
	result := c.registry.Dispatch(ctx, category, payload)
	c.metrics.dispatched(ctx, category, result, time.Since(start))

	if span != nil {
		if result.Failed > 0 {
			span.SetStatus(o11y.SpanStatusError, "subscriber failed")
		} else {
			span.SetStatus(o11y.SpanStatusOK, "")
		}
		span.End()
	}
}

// binding is the TransportHandler for one generation of the client.
type binding struct {
	client     *Client
	generation uint64
}

func (b *binding) HandleOpen() {
	b.client.handleOpen(b.generation)
}

func (b *binding) HandleMessage(data []byte) {
	b.client.handleMessage(b.generation, data)
}

func (b *binding) HandleError(err error) {
	b.client.handleError(b.generation, err)
}

func (b *binding) HandleClose(code int, reason string) {
	b.client.handleClose(b.generation, code, reason)
}
