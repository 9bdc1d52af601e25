// Package config holds the command-line configuration of the relay server
// and client.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/omochice/toy-socket-relay/internal/relay"
	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

const (
	DefaultAddr = "127.0.0.1:6000"

	// EnvAddr overrides the default listen/server address.
	EnvAddr = "RELAY_ADDR"
	// EnvFrameSize overrides the default frame size.
	EnvFrameSize = "RELAY_FRAME_SIZE"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Logging selects the log level and output format. Empty fields mean
// info and text.
type Logging struct {
	Level  string
	Format string
}

func (l *Logging) bind(fs *flag.FlagSet) {
	fs.StringVar(&l.Level, "log-level", l.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&l.Format, "log-format", l.Format, "Log format (text, json)")
}

func (l Logging) validate() error {
	if _, err := parseLevel(l.Level); err != nil {
		return err
	}
	switch l.Format {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, l.Format)
	}
}

// NewLogger builds a slog.Logger writing to w.
func (l Logging) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch l.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: unknown log format %q", ErrInvalid, l.Format)
	}
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return 0, fmt.Errorf("%w: unknown log level %q", ErrInvalid, s)
	}
	return level, nil
}

// Server configures the relay server.
type Server struct {
	Listen       string
	WSListen     string
	FrameSize    int
	SendBuffer   int
	WriteTimeout time.Duration
	Logging
}

// DefaultServer returns the server defaults.
func DefaultServer() Server {
	return Server{
		Listen:       DefaultAddr,
		FrameSize:    protocol.DefaultFrameSize,
		SendBuffer:   relay.DefaultSendBuffer,
		WriteTimeout: relay.DefaultWriteTimeout,
		Logging:      Logging{Level: "info", Format: "text"},
	}
}

// ApplyEnv overrides defaults from the environment.
func (c *Server) ApplyEnv(lookup LookupFunc) error {
	if v, ok := lookup(EnvAddr); ok && v != "" {
		c.Listen = v
	}
	return applyFrameSize(&c.FrameSize, lookup)
}

// Bind registers the server flags on fs using the current values as defaults.
func (c *Server) Bind(fs *flag.FlagSet) {
	fs.StringVar(&c.Listen, "listen", c.Listen, "TCP address to listen on (e.g., 127.0.0.1:6000)")
	fs.StringVar(&c.WSListen, "ws-listen", c.WSListen, "WebSocket address to listen on; empty disables WebSocket")
	fs.IntVar(&c.FrameSize, "frame-size", c.FrameSize, "Frame size in bytes, must match the clients")
	fs.IntVar(&c.SendBuffer, "send-buffer", c.SendBuffer, "Frames queued per recipient before new ones are skipped")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "Timeout for writing one frame to one recipient")
	c.Logging.bind(fs)
}

// Validate checks the configuration.
func (c Server) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalid)
	}
	if c.WSListen != "" && c.WSListen == c.Listen {
		return fmt.Errorf("%w: TCP and WebSocket cannot share %s", ErrInvalid, c.Listen)
	}
	if err := protocol.ValidateSize(c.FrameSize); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("%w: send buffer must be at least 1", ErrInvalid)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: write timeout must be positive", ErrInvalid)
	}
	return c.Logging.validate()
}

// Client configures the relay client.
type Client struct {
	Server    string
	FrameSize int
	Logging
}

// DefaultClient returns the client defaults.
func DefaultClient() Client {
	return Client{
		Server:    DefaultAddr,
		FrameSize: protocol.DefaultFrameSize,
		Logging:   Logging{Level: "warn", Format: "text"},
	}
}

// ApplyEnv overrides defaults from the environment.
func (c *Client) ApplyEnv(lookup LookupFunc) error {
	if v, ok := lookup(EnvAddr); ok && v != "" {
		c.Server = v
	}
	return applyFrameSize(&c.FrameSize, lookup)
}

// Bind registers the client flags on fs using the current values as defaults.
func (c *Client) Bind(fs *flag.FlagSet) {
	fs.StringVar(&c.Server, "server", c.Server, "Server address (host:port for TCP, ws://host:port/ws for WebSocket)")
	fs.IntVar(&c.FrameSize, "frame-size", c.FrameSize, "Frame size in bytes, must match the server")
	c.Logging.bind(fs)
}

// Validate checks the configuration.
func (c Client) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("%w: server address is required", ErrInvalid)
	}
	if err := protocol.ValidateSize(c.FrameSize); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return c.Logging.validate()
}

func applyFrameSize(dst *int, lookup LookupFunc) error {
	v, ok := lookup(EnvFrameSize)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, EnvFrameSize, v)
	}
	*dst = n
	return nil
}
