// Package server wires the relay loop to its TCP and WebSocket listeners.
package server

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/omochice/toy-socket-relay/internal/config"
	"github.com/omochice/toy-socket-relay/internal/relay"
	"github.com/omochice/toy-socket-relay/internal/transport/tcp"
	"github.com/omochice/toy-socket-relay/internal/transport/ws"
)

// Server represents a relay server that accepts raw TCP clients and,
// when configured, WebSocket clients on a second port.
type Server struct {
	cfg    config.Server
	relay  *relay.Relay
	tcp    *tcp.Server
	ws     *ws.Server
	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a Server from cfg. A nil logger discards output.
func New(cfg config.Server, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := relay.New(
		relay.WithFrameSize(cfg.FrameSize),
		relay.WithSendBuffer(cfg.SendBuffer),
		relay.WithWriteTimeout(cfg.WriteTimeout),
		relay.WithLogger(logger),
	)
	s := &Server{
		cfg:    cfg,
		relay:  r,
		tcp:    tcp.New(cfg.Listen, r, logger),
		logger: logger,
	}
	if cfg.WSListen != "" {
		s.ws = ws.New(cfg.WSListen, r, logger)
	}
	return s
}

// Start validates the configuration, binds every listener and starts
// serving in the background. An invalid configuration or a bind failure
// is returned before anything is started.
func (s *Server) Start() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if err := s.tcp.Listen(); err != nil {
		return err
	}
	if s.ws != nil {
		if err := s.ws.Listen(); err != nil {
			s.tcp.Stop()
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.relay.Run(ctx); err != nil {
			s.logger.Error("relay loop stopped", "err", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.tcp.Serve(); err != nil {
			s.logger.Error("TCP server stopped", "err", err)
		}
	}()
	if s.ws != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.ws.Serve(); err != nil {
				s.logger.Error("WebSocket server stopped", "err", err)
			}
		}()
	}
	return nil
}

// Stop closes the listeners, disconnects every client and waits for all
// goroutines to finish.
func (s *Server) Stop() {
	s.once.Do(func() {
		s.tcp.Stop()
		if s.ws != nil {
			s.ws.Stop()
		}
		if s.cancel != nil {
			s.cancel()
		}
	})
	s.wg.Wait()
}

// Wait blocks until the server has stopped.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Addr returns the TCP listening address.
func (s *Server) Addr() string {
	return s.tcp.Addr()
}

// WSAddr returns the WebSocket listening address, or "" when disabled.
func (s *Server) WSAddr() string {
	if s.ws == nil {
		return ""
	}
	return s.ws.Addr()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.relay.ClientCount()
}
