// Package ws provides the WebSocket transport. Each binary message carries
// exactly one frame.
package ws

import (
	"context"
	"fmt"
	"io"

	"github.com/omochice/toy-socket-relay/pkg/protocol"
	"nhooyr.io/websocket"
)

// Conn adapts nhooyr.io/websocket to relay.Conn interface. It is the
// dialing side used by clients.
type Conn struct {
	conn       *websocket.Conn
	size       int
	remoteAddr string
}

// NewConnWithAddr wraps a websocket.Conn with the specified remote address.
func NewConnWithAddr(conn *websocket.Conn, size int, addr string) *Conn {
	return &Conn{conn: conn, size: size, remoteAddr: addr}
}

// Dial opens a WebSocket connection to url.
func Dial(ctx context.Context, url string, size int) (*Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return NewConnWithAddr(conn, size, url), nil
}

// Read implements relay.Conn.
// Messages shorter than a frame are zero padded, longer ones are cut.
// A normal close from the peer is reported as io.EOF.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil, io.EOF
		}
		return nil, err
	}
	return protocol.Fit(data, c.size), nil
}

// Write implements relay.Conn.
// Writes a binary message to the WebSocket connection.
func (c *Conn) Write(ctx context.Context, frame []byte) error {
	return c.conn.Write(ctx, websocket.MessageBinary, frame)
}

// Close implements relay.Conn.
func (c *Conn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// RemoteAddr implements relay.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}
