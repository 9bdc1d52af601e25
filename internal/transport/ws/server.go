package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/omochice/toy-socket-relay/internal/relay"
	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

const handshakeTimeout = 5 * time.Second

// Server accepts WebSocket connections on a raw listener, upgrades them
// with gobwas/ws and hands them to the relay loop.
type Server struct {
	address  string
	listener net.Listener
	relay    *relay.Relay
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a WebSocket server that feeds the provided Relay.
func New(address string, r *relay.Relay, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		address: address,
		relay:   r,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start WebSocket server: %w", err)
	}
	s.listener = listener
	s.logger.Info("WebSocket server started", "addr", listener.Addr().String())
	return nil
}

// Serve accepts connections until Stop is called. Each handshake runs in
// its own goroutine so a slow client cannot stall the accept loop.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("websocket server is not listening")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("failed to accept WebSocket connection", "err", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Start binds and serves; it blocks until Stop.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop closes the listener and waits for pending handshakes.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		conn.Close()
		return
	}
	if _, err := ws.Upgrade(conn); err != nil {
		s.logger.Warn("failed to upgrade connection", "addr", conn.RemoteAddr().String(), "err", err)
		conn.Close()
		return
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return
	}

	if err := s.relay.Join(s.ctx, newServerConn(conn, s.relay.FrameSize())); err != nil {
		conn.Close()
	}
}

// serverConn is the upgraded server side of a WebSocket connection.
// Writes are serialized because control replies from the read path share
// the socket with data frames from the writer goroutine.
type serverConn struct {
	conn net.Conn
	size int
	mu   sync.Mutex
}

func newServerConn(conn net.Conn, size int) *serverConn {
	return &serverConn{conn: conn, size: size}
}

// Read implements relay.Conn. Text and binary messages are both accepted.
func (c *serverConn) Read(ctx context.Context) ([]byte, error) {
	rw := struct {
		io.Reader
		io.Writer
	}{c.conn, lockedWriter{c}}

	data, _, err := wsutil.ReadClientData(rw)
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return protocol.Fit(data, c.size), nil
}

// Write implements relay.Conn.
func (c *serverConn) Write(ctx context.Context, frame []byte) error {
	raw, err := ws.CompileFrame(ws.NewBinaryFrame(frame))
	if err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	// control replies written later must not inherit this deadline
	defer c.conn.SetWriteDeadline(time.Time{})
	n, err := c.conn.Write(raw)
	if err != nil && n > 0 {
		// a cut WebSocket frame corrupts the stream
		_ = c.conn.Close()
		return fmt.Errorf("partial frame write (%d of %d bytes), connection closed: %w", n, len(raw), err)
	}
	return err
}

// Close implements relay.Conn. A close frame is sent only when no write
// is in progress; Close never waits for a stuck writer.
func (c *serverConn) Close() error {
	if c.mu.TryLock() {
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		if raw, err := ws.CompileFrame(ws.NewCloseFrame(body)); err == nil {
			_ = c.conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
			_, _ = c.conn.Write(raw)
		}
		c.mu.Unlock()
	}
	return c.conn.Close()
}

// RemoteAddr implements relay.Conn.
func (c *serverConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

type lockedWriter struct {
	c *serverConn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.conn.Write(p)
}
