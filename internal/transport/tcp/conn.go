// Package tcp provides the raw TCP transport: a stream of fixed-size frames.
package tcp

import (
	"context"
	"fmt"
	"net"

	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

// Conn adapts net.Conn to relay.Conn interface.
type Conn struct {
	conn net.Conn
	size int
}

// NewConn wraps a net.Conn that carries frames of size bytes.
func NewConn(conn net.Conn, size int) *Conn {
	return &Conn{conn: conn, size: size}
}

// Read implements relay.Conn.
// Blocks until a full frame has arrived. A connection closed in the middle
// of a frame returns io.ErrUnexpectedEOF.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	buf := make([]byte, c.size)
	if err := protocol.ReadFrame(c.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Write implements relay.Conn.
// A write that fails after part of the frame went out leaves the peer's
// stream misaligned, so the connection is closed and its reader ends.
func (c *Conn) Write(ctx context.Context, frame []byte) error {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	n, err := c.conn.Write(frame)
	if err != nil && n > 0 {
		_ = c.conn.Close()
		return fmt.Errorf("partial frame write (%d of %d bytes), connection closed: %w", n, len(frame), err)
	}
	return err
}

// Close implements relay.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements relay.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

