package websockets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tsarna/callsec/pkg/realtime"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by Send once the transport is closing.
	ErrClosed = errors.New("transport is closed")

	// ErrWriteQueueFull is returned by Send when the write queue is full.
	ErrWriteQueueFull = errors.New("write channel is full")
)

// driver abstracts the WebSocket library.
type driver interface {
	dial(ctx context.Context, target string, opts dialOptions) (conn, error)
}

type dialOptions struct {
	header       http.Header
	readLimit    int64
	closeTimeout time.Duration
}

// conn is one open WebSocket connection of a driver.
type conn interface {
	// read returns the next text frame, skipping other frame types.
	read(ctx context.Context) ([]byte, error)
	write(ctx context.Context, data []byte) error
	// close performs the closing handshake. It may block.
	close(code int, reason string) error
	// release drops the connection without a handshake.
	release()
	// closeStatus extracts the peer's close frame from a read error.
	closeStatus(err error) (code int, reason string, ok bool)
}

// transport implements realtime.Transport on top of a driver connection.
// A read loop and a write loop run for the lifetime of the connection.
type transport struct {
	dialer  *Dialer
	handler realtime.TransportHandler
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeChannel chan []byte

	mu          sync.Mutex
	conn        conn
	closing     bool
	finished    bool
	localCode   int
	localReason string

	finishOnce sync.Once
	done       chan struct{}
}

func newTransport(d *Dialer, handler realtime.TransportHandler) *transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &transport{
		dialer:       d,
		handler:      handler,
		logger:       d.logger,
		ctx:          ctx,
		cancel:       cancel,
		writeChannel: make(chan []byte, d.writeChannelSize),
		done:         make(chan struct{}),
	}
}

// Send queues data for the write loop. It never blocks.
func (t *transport) Send(data []byte) error {
	t.mu.Lock()
	closing := t.closing
	t.mu.Unlock()
	if closing {
		return ErrClosed
	}

	select {
	case t.writeChannel <- data:
		return nil
	case <-t.ctx.Done():
		return ErrClosed
	default:
		return ErrWriteQueueFull
	}
}

// Close starts the closing handshake in the background. The first call
// decides the code reported to HandleClose.
func (t *transport) Close(code int, reason string) error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.localCode = code
	t.localReason = reason
	c := t.conn
	t.mu.Unlock()

	if c == nil {
		// Still dialing; abandon the handshake.
		t.cancel()
		return nil
	}

	go func() {
		if err := c.close(code, reason); err != nil {
			t.logger.Debug("WebSocket close handshake did not complete", zap.Error(err))
			c.release()
		}
	}()

	return nil
}

// Done is closed after HandleClose has been delivered.
func (t *transport) Done() <-chan struct{} {
	return t.done
}

func (t *transport) run(target string) {
	dialCtx, dialCancel := context.WithTimeout(t.ctx, t.dialer.dialTimeout)
	c, err := t.dialer.driver.dial(dialCtx, target, dialOptions{
		header:       t.dialer.headers,
		readLimit:    t.dialer.readLimit,
		closeTimeout: t.dialer.closeTimeout,
	})
	dialCancel()

	if err != nil {
		if code, reason, local := t.local(); local {
			t.finish(code, reason)
			return
		}
		t.logger.Error("Failed to connect to WebSocket", zap.String("url", target), zap.Error(err))
		t.emitError(fmt.Errorf("failed to connect to WebSocket: %w", err))
		t.finish(realtime.CloseAbnormal, "dial failed")
		return
	}

	t.mu.Lock()
	if t.closing {
		code, reason := t.localCode, t.localReason
		t.mu.Unlock()
		go func() {
			if err := c.close(code, reason); err != nil {
				c.release()
			}
		}()
		t.finish(code, reason)
		return
	}
	t.conn = c
	t.mu.Unlock()

	t.logger.Debug("WebSocket transport open", zap.String("url", target), zap.String("driver", string(t.dialer.name)))
	t.handler.HandleOpen()

	go t.writeLoop(c)
	t.readLoop(c)
}

// readLoop delivers inbound frames until the connection ends, then reports
// the close.
func (t *transport) readLoop(c conn) {
	for {
		data, err := c.read(t.ctx)
		if err != nil {
			t.ended(c, err)
			return
		}

		t.handler.HandleMessage(data)
	}
}

func (t *transport) ended(c conn, err error) {
	defer c.release()

	if code, reason, local := t.local(); local {
		t.finish(code, reason)
		return
	}

	if code, reason, ok := c.closeStatus(err); ok {
		t.finish(code, reason)
		return
	}

	t.logger.Error("Failed to read from WebSocket", zap.Error(err))
	t.emitError(err)
	t.finish(realtime.CloseAbnormal, "")
}

// writeLoop drains the write channel.
func (t *transport) writeLoop(c conn) {
	for {
		select {
		case <-t.ctx.Done():
			return
		case data := <-t.writeChannel:
			if err := c.write(t.ctx, data); err != nil {
				if t.ctx.Err() != nil {
					return
				}
				if _, _, local := t.local(); local {
					return
				}
				t.logger.Error("Failed to write to WebSocket", zap.Error(err))
				t.emitError(err)
				// Ends the read loop, which reports the close.
				c.release()
				return
			}
		}
	}
}

func (t *transport) local() (int, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localCode, t.localReason, t.closing
}

func (t *transport) emitError(err error) {
	t.mu.Lock()
	finished := t.finished
	t.mu.Unlock()
	if !finished {
		t.handler.HandleError(err)
	}
}

func (t *transport) finish(code int, reason string) {
	t.finishOnce.Do(func() {
		t.mu.Lock()
		t.finished = true
		t.closing = true
		t.mu.Unlock()

		t.cancel()
		t.handler.HandleClose(code, reason)
		close(t.done)
	})
}
