package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/omochice/toy-socket-relay/internal/relay"
)

// Server accepts TCP connections and hands them to the relay loop.
type Server struct {
	address  string
	listener net.Listener
	relay    *relay.Relay
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New creates a TCP server that feeds the provided Relay.
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
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.listener = listener
	s.logger.Info("TCP server started", "addr", listener.Addr().String())
	return nil
}

// Serve accepts connections until Stop is called.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("tcp server is not listening")
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
			s.logger.Warn("failed to accept TCP connection", "err", err)
			continue
		}

		if err := s.relay.Join(s.ctx, NewConn(conn, s.relay.FrameSize())); err != nil {
			conn.Close()
			if errors.Is(err, relay.ErrClosed) || s.ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("failed to register TCP connection", "addr", conn.RemoteAddr().String(), "err", err)
		}
	}
}

// Start binds and serves; it blocks until Stop.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop closes the listener. Connections already handed to the relay are
// closed by the relay loop.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
	})
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
