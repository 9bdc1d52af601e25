// Package client implements the relay client: a duplex pump that writes
// queued text as frames and hands decoded inbound frames to the caller.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/omochice/toy-socket-relay/internal/relay"
	"github.com/omochice/toy-socket-relay/internal/transport/tcp"
	"github.com/omochice/toy-socket-relay/internal/transport/ws"
	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

// ErrNotConnected is returned by Send after the connection ended.
var ErrNotConnected = errors.New("not connected to server")

const flushTimeout = time.Second

// Client represents a connection to the relay server.
type Client struct {
	conn     relay.Conn
	size     int
	logger   *slog.Logger
	outbound *relay.Mailbox[string]
	messages chan string

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders Send against Close so nothing is queued after the flush.
	mu       sync.Mutex
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// Dial connects to address and starts the pump. Addresses starting with
// ws:// or wss:// use WebSocket, anything else is a TCP host:port.
func Dial(ctx context.Context, address string, size int, logger *slog.Logger) (*Client, error) {
	if err := protocol.ValidateSize(size); err != nil {
		return nil, err
	}

	var conn relay.Conn
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		wsConn, err := ws.Dial(ctx, address, size)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to server: %w", err)
		}
		conn = wsConn
	} else {
		var d net.Dialer
		netConn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to server: %w", err)
		}
		conn = tcp.NewConn(netConn, size)
	}
	return New(conn, size, logger), nil
}

// New starts a pump over an established connection.
func New(conn relay.Conn, size int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     conn,
		size:     size,
		logger:   logger,
		outbound: relay.NewMailbox[string](),
		messages: make(chan string, 16),
		ctx:      ctx,
		cancel:   cancel,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	c.wg.Add(2)
	go c.receiveMessages()
	go c.sendMessages()
	return c
}

// Send queues text for sending. It never blocks on the network. Text
// accepted before Close is written by Close's flush.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return ErrNotConnected
	case <-c.quit:
		return ErrNotConnected
	default:
	}
	c.outbound.Push(text)
	return nil
}

// Messages returns the channel of received texts. It is closed when the
// connection ends.
func (c *Client) Messages() <-chan string {
	return c.messages
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close flushes queued texts, closes the connection and waits for the pump.
// The server is not notified beyond the connection close.
func (c *Client) Close() error {
	c.mu.Lock()
	c.quitOnce.Do(func() { close(c.quit) })
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}

// stop ends both pump goroutines.
func (c *Client) stop() {
	c.doneOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
		close(c.done)
	})
}

// receiveMessages continuously receives frames from the server.
func (c *Client) receiveMessages() {
	defer c.wg.Done()
	defer close(c.messages)
	defer c.stop()

	for {
		frame, err := c.conn.Read(c.ctx)
		if err != nil {
			select {
			case <-c.done:
			default:
				if errors.Is(err, io.EOF) {
					c.logger.Info("server closed the connection")
				} else {
					c.logger.Error("read error, closing connection", "err", err)
				}
			}
			return
		}

		text, ok := protocol.Decode(frame)
		if !ok {
			c.logger.Debug("dropping frame with invalid text")
			continue
		}

		select {
		case c.messages <- text:
		case <-c.done:
			return
		}
	}
}

// sendMessages writes queued texts until Close or a write error.
func (c *Client) sendMessages() {
	defer c.wg.Done()
	defer c.stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.quit:
			c.flush()
			return
		case <-c.outbound.Ready():
			if err := c.write(c.ctx); err != nil {
				c.logger.Error("write error, closing connection", "err", err)
				return
			}
		}
	}
}

func (c *Client) flush() {
	ctx, cancel := context.WithTimeout(c.ctx, flushTimeout)
	defer cancel()
	if err := c.write(ctx); err != nil {
		c.logger.Warn("failed to flush queued messages", "err", err)
	}
}

func (c *Client) write(ctx context.Context) error {
	for _, text := range c.outbound.Drain() {
		if err := c.conn.Write(ctx, protocol.Encode(text, c.size)); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}
	return nil
}
