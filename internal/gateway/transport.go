package gateway

import (
	"context"
	"fmt"

	"nhooyr.io/websocket"
)

// Conn is one live transport connection.
type Conn interface {
	// Read blocks until the next frame or a terminal error.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one frame.
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens transport connections. Abstracted so tests can run the
// manager against an in-memory transport.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials the gateway over websocket.
type WSDialer struct{}

func (WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	// The gateway protocol is low-volume JSON; the default 32KB read limit
	// is too small for large history pages.
	c.SetReadLimit(1 << 20)
	return wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}

// CloseDetail extracts a human-readable close annotation from a read error.
func CloseDetail(err error) string {
	if err == nil {
		return ""
	}
	status := websocket.CloseStatus(err)
	if status == -1 {
		return err.Error()
	}
	return fmt.Sprintf("code=%d", status)
}
