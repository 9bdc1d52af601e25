package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

var (
	// ErrClosed is returned by Join once the relay loop has stopped.
	ErrClosed = errors.New("relay closed")
	// ErrRunning is returned by a second concurrent call to Run.
	ErrRunning = errors.New("relay already running")
)

const (
	DefaultSendBuffer   = 16
	DefaultWriteTimeout = time.Second
)

// Option configures a Relay.
type Option func(*Relay)

// WithFrameSize sets the frame size used to encode forwarded messages.
func WithFrameSize(size int) Option {
	return func(r *Relay) { r.frameSize = size }
}

// WithSendBuffer sets how many frames may wait for one slow recipient.
func WithSendBuffer(n int) Option {
	return func(r *Relay) { r.sendBuffer = n }
}

// WithWriteTimeout bounds a single frame write to one recipient.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Relay) { r.writeTimeout = d }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// Relay forwards each frame received from one client to every other
// client. The registry is owned by the goroutine running Run; reader
// workers reach it only through the join/leave channels and the inbound
// mailbox.
type Relay struct {
	frameSize    int
	sendBuffer   int
	writeTimeout time.Duration
	logger       *slog.Logger

	registry *Registry
	inbound  *Mailbox[protocol.Message]
	joins    chan Conn
	leaves   chan *Client
	done     chan struct{}

	running atomic.Bool
	count   atomic.Int64
	wg      sync.WaitGroup
}

// New creates a Relay. Call Run to start the loop. A frame size below 1,
// a send buffer below 1 or a non-positive write timeout falls back to
// the default.
func New(opts ...Option) *Relay {
	r := &Relay{
		frameSize:    protocol.DefaultFrameSize,
		sendBuffer:   DefaultSendBuffer,
		writeTimeout: DefaultWriteTimeout,
		inbound:      NewMailbox[protocol.Message](),
		joins:        make(chan Conn),
		leaves:       make(chan *Client),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if protocol.ValidateSize(r.frameSize) != nil {
		r.frameSize = protocol.DefaultFrameSize
	}
	if r.sendBuffer < 1 {
		r.sendBuffer = DefaultSendBuffer
	}
	if r.writeTimeout <= 0 {
		r.writeTimeout = DefaultWriteTimeout
	}
	if r.logger == nil {
		r.logger = discardLogger()
	}
	r.registry = NewRegistry(r.logger)
	return r
}

// FrameSize returns the configured frame size.
func (r *Relay) FrameSize() int {
	return r.frameSize
}

// ClientCount returns the number of registered clients.
// It may be called from any goroutine.
func (r *Relay) ClientCount() int {
	return int(r.count.Load())
}

// Join hands an accepted connection to the relay loop. After ErrClosed
// the caller still owns conn and must close it.
func (r *Relay) Join(ctx context.Context, conn Conn) error {
	select {
	case r.joins <- conn:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the relay loop. It registers joining connections, removes
// clients whose reader stopped and forwards inbound messages. It returns
// when ctx is cancelled, after closing every connection and waiting for
// all workers.
func (r *Relay) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer r.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case conn := <-r.joins:
			r.register(ctx, conn)
		case client := <-r.leaves:
			r.unregister(client)
		case <-r.inbound.Ready():
			for _, msg := range r.inbound.Drain() {
				r.registry.BroadcastExcept(msg)
			}
		}
	}
}

func (r *Relay) register(ctx context.Context, conn Conn) {
	client := NewClient(conn, r.sendBuffer)
	r.registry.Add(client)
	r.count.Store(int64(r.registry.Len()))

	r.logger.Info("client connected", "addr", client.Address, "id", client.ID)

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		client.writeLoop(r.writeTimeout, r.logger)
	}()
	go r.readLoop(ctx, client)
}

func (r *Relay) unregister(client *Client) {
	// The address may already belong to a newer connection.
	if current, ok := r.registry.Get(client.Address); ok && current == client {
		r.registry.RemoveByAddress(client.Address)
		r.count.Store(int64(r.registry.Len()))
	}
	r.logger.Info("client removed", "addr", client.Address, "id", client.ID)
}

// readLoop is the reader worker of one client. It ends on the first
// terminal read error and asks the loop to remove the client.
func (r *Relay) readLoop(ctx context.Context, client *Client) {
	defer r.wg.Done()

	for {
		frame, err := client.Conn.Read(ctx)
		if err != nil {
			select {
			case <-r.done:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				r.logger.Info("client disconnected", "addr", client.Address, "id", client.ID)
			} else {
				r.logger.Info("read error, closing connection", "addr", client.Address, "id", client.ID, "err", err)
			}
			select {
			case r.leaves <- client:
			case <-r.done:
			}
			return
		}

		text, ok := protocol.Decode(frame)
		if !ok {
			r.logger.Debug("dropping frame with invalid text", "addr", client.Address, "id", client.ID)
			continue
		}
		r.logger.Info("message", "addr", client.Address, "text", text)
		r.inbound.Push(protocol.NewMessage(r.frameSize, text, client.Address))
	}
}

func (r *Relay) shutdown() {
	close(r.done)
	r.registry.Close()
	r.count.Store(0)
	r.wg.Wait()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
