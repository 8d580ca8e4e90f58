package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tsarna/callsec/pkg/realtime"
	"go.uber.org/zap"
)

// Auth failure messages sent in auth_response frames.
const (
	authRequired = "Authentication required"
	authInvalid  = "Invalid token"
)

// Connection is one client of the Listener. It must authenticate with its
// first frame; only then does it receive broadcasts.
type Connection struct {
	id      string
	ctx     context.Context
	conn    *websocket.Conn
	logger  *zap.Logger
	config  *ListenerConfig
	metrics *serverMetrics

	subject       string
	authenticated atomic.Bool
	connectedAt   time.Time

	// Channel for outbound frames so a slow client never blocks a broadcast
	outbound chan []byte
	done     chan struct{}

	cleanupOnce sync.Once
}

func newConnection(ctx context.Context, conn *websocket.Conn, config *ListenerConfig, metrics *serverMetrics) *Connection {
	id := uuid.NewString()

	return &Connection{
		id:          id,
		ctx:         ctx,
		conn:        conn,
		logger:      config.logger.With(zap.String("connection_id", id)),
		config:      config,
		metrics:     metrics,
		connectedAt: time.Now(),
		outbound:    make(chan []byte, config.queueSize),
		done:        make(chan struct{}),
	}
}

// ID returns the connection's unique id.
func (c *Connection) ID() string {
	return c.id
}

// Subject returns the token subject, empty until authenticated.
func (c *Connection) Subject() string {
	if !c.authenticated.Load() {
		return ""
	}
	return c.subject
}

// Start runs the connection until it closes. It blocks.
func (c *Connection) Start() {
	c.logger.Debug("Starting WebSocket connection handler")

	c.conn.SetReadLimit(c.config.readLimit)

	if !c.authenticate() {
		c.cleanup()
		return
	}

	go c.messageSender()

	c.messageReader()

	c.logger.Debug("WebSocket connection handler stopping",
		zap.Duration("duration", time.Since(c.connectedAt)),
	)
	c.cleanup()
}

// authenticate reads the first frame and verifies its token. On failure
// it reports the reason to the client and closes with a policy violation.
func (c *Connection) authenticate() bool {
	readCtx, cancel := context.WithTimeout(c.ctx, c.config.authTimeout)
	_, data, err := c.conn.Read(readCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Info("Client did not authenticate in time")
			c.metrics.recordAuth(c.ctx, false)
			c.conn.Close(websocket.StatusPolicyViolation, "authentication timeout")
		} else {
			c.logger.Debug("Connection closed before authentication", zap.Error(err))
		}
		return false
	}

	var request realtime.OutboundEnvelope
	if err := json.Unmarshal(data, &request); err != nil || request.Type != realtime.TypeAuth || request.Token == "" {
		c.reject(authRequired)
		return false
	}

	subject, err := c.config.verifier.VerifySubject(request.Token)
	if err != nil {
		c.logger.Info("Rejected access token", zap.Error(err))
		c.reject(authInvalid)
		return false
	}

	// Broadcasts queued from here on wait for the sender, which starts
	// after the confirmation is written.
	c.subject = subject
	c.authenticated.Store(true)
	c.metrics.recordAuth(c.ctx, true)

	response, _ := json.Marshal(realtime.AuthResponse{
		Type:   realtime.TypeAuthResponse,
		Status: realtime.AuthStatusSuccess,
	})
	if err := c.write(c.ctx, response); err != nil {
		c.logger.Debug("Failed to confirm authentication", zap.Error(err))
		return false
	}

	c.logger.Info("Client authenticated", zap.String("subject", subject))
	return true
}

func (c *Connection) reject(message string) {
	c.metrics.recordAuth(c.ctx, false)

	response, _ := json.Marshal(realtime.AuthResponse{
		Type:    realtime.TypeAuthResponse,
		Status:  "failure",
		Message: message,
	})
	if err := c.write(c.ctx, response); err != nil {
		c.logger.Debug("Failed to send auth failure", zap.Error(err))
	}

	err := c.conn.Close(websocket.StatusPolicyViolation, "authentication failed")
	if err != nil {
		c.logger.Debug("WebSocket close error (may be expected)", zap.Error(err))
	}
}

// messageSender serializes all writes after authentication and sends
// periodic pings.
func (c *Connection) messageSender() {
	defer c.logger.Debug("Message sender goroutine stopped")

	var pingChan <-chan time.Time
	if c.config.pingInterval > 0 {
		pingTicker := time.NewTicker(c.config.pingInterval)
		pingChan = pingTicker.C
		defer pingTicker.Stop()
	}

	for {
		select {
		case data := <-c.outbound:
			if err := c.write(c.ctx, data); err != nil {
				c.logger.Error("Failed to send WebSocket message", zap.Error(err))
				if websocket.CloseStatus(err) != -1 {
					return
				}
			}

		case <-pingChan:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.config.writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()

			if err != nil {
				c.logger.Error("Failed to send ping", zap.Error(err))
				return
			}

		case <-c.done:
			return

		case <-c.ctx.Done():
			return
		}
	}
}

// messageReader drains client frames until the connection closes. After
// the handshake clients have nothing to say, so frames are only logged.
func (c *Connection) messageReader() {
	defer c.logger.Debug("Message reader stopped")

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus != -1 {
				c.logger.Debug("WebSocket connection closed by client",
					zap.Int("close_status", int(closeStatus)),
				)
			} else {
				c.logger.Debug("WebSocket read ended", zap.Error(err))
			}
			return
		}

		c.logger.Debug("Ignoring client frame", zap.Int("data_length", len(data)))
	}
}

func (c *Connection) write(ctx context.Context, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, c.config.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// enqueue queues a frame without blocking. It reports false if the
// connection is not authenticated or its queue is full.
func (c *Connection) enqueue(data []byte) bool {
	if !c.authenticated.Load() {
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.outbound <- data:
		return true
	default:
		c.logger.Warn("Outbound channel full, dropping event message")
		return false
	}
}

func (c *Connection) cleanup() {
	c.cleanupOnce.Do(func() {
		close(c.done)

		err := c.conn.Close(websocket.StatusNormalClosure, "Connection closed")
		if err != nil {
			c.logger.Debug("WebSocket close error (may be expected)", zap.Error(err))
		}
	})
}

// shutdownClose closes the connection with a specific code. The reader
// then exits and Start cleans up as usual.
func (c *Connection) shutdownClose(code websocket.StatusCode, reason string) {
	c.logger.Debug("Closing connection for shutdown",
		zap.Int("close_code", int(code)),
		zap.String("reason", reason),
	)

	if err := c.conn.Close(code, reason); err != nil {
		c.logger.Debug("Error closing WebSocket during shutdown", zap.Error(err))
	}
}
