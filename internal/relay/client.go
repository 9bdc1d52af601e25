package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client represents one connected peer.
// Reading is owned by the reader worker started by the relay loop;
// sending goes through Outgoing and is drained by the writer goroutine.
type Client struct {
	ID       string
	Address  string
	Conn     Conn
	Outgoing chan []byte

	closeOnce sync.Once
}

// NewClient wraps conn with a send queue of the given length.
func NewClient(conn Conn, queue int) *Client {
	if queue < 1 {
		queue = 1
	}
	return &Client{
		ID:       uuid.NewString(),
		Address:  conn.RemoteAddr(),
		Conn:     conn,
		Outgoing: make(chan []byte, queue),
	}
}

// writeLoop drains Outgoing until it is closed. Every failed write is
// logged on its own; a failure does not stop the loop.
func (c *Client) writeLoop(timeout time.Duration, logger *slog.Logger) {
	for frame := range c.Outgoing {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := c.Conn.Write(ctx, frame)
		cancel()
		if err != nil {
			logger.Warn("write failed", "addr", c.Address, "id", c.ID, "err", err)
		}
	}
}

// close stops the writer and closes the connection. Safe to call twice.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.Outgoing)
		_ = c.Conn.Close()
	})
}
