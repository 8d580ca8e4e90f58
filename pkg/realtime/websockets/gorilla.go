package websockets

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type gorillaDriver struct{}

func (gorillaDriver) dial(ctx context.Context, target string, opts dialOptions) (conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
	}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.HandshakeTimeout = time.Until(deadline)
	}

	c, resp, err := dialer.DialContext(ctx, target, opts.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	c.SetReadLimit(opts.readLimit)
	return &gorillaConn{conn: c, closeTimeout: opts.closeTimeout}, nil
}

// gorillaConn serializes writers; gorilla allows one concurrent writer
// besides control frames.
type gorillaConn struct {
	conn         *websocket.Conn
	closeTimeout time.Duration
	writeMu      sync.Mutex
	releaseOnce  sync.Once
}

func (c *gorillaConn) read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *gorillaConn) write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// close sends the close frame and leaves the read loop to observe the
// peer's reply. The connection is dropped if no reply arrives in time.
func (c *gorillaConn) close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.closeTimeout))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}

	time.AfterFunc(c.closeTimeout, c.release)
	return nil
}

func (c *gorillaConn) release() {
	c.releaseOnce.Do(func() {
		_ = c.conn.Close()
	})
}

func (c *gorillaConn) closeStatus(err error) (int, string, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}
