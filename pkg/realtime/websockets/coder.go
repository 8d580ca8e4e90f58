package websockets

import (
	"context"
	"errors"

	"github.com/coder/websocket"
)

type coderDriver struct{}

func (coderDriver) dial(ctx context.Context, target string, opts dialOptions) (conn, error) {
	c, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPHeader: opts.header,
	})
	if err != nil {
		return nil, err
	}

	c.SetReadLimit(opts.readLimit)
	return &coderConn{conn: c}, nil
}

type coderConn struct {
	conn *websocket.Conn
}

func (c *coderConn) read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (c *coderConn) write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *coderConn) close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}

func (c *coderConn) release() {
	_ = c.conn.CloseNow()
}

func (c *coderConn) closeStatus(err error) (int, string, bool) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return int(ce.Code), ce.Reason, true
	}
	return 0, "", false
}
