// Package relay provides the connection registry and the relay loop that
// forwards every inbound frame to all other connected peers.
package relay

import "context"

// Conn abstracts a framed connection for both TCP and WebSocket.
// This interface isolates transport details from relay logic.
type Conn interface {
	// Read blocks until one full frame has been received.
	// Returns io.EOF when the peer closed the connection.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one frame. A deadline on ctx bounds the write.
	Write(ctx context.Context, frame []byte) error

	// Close closes the connection and unblocks a pending Read.
	Close() error

	// RemoteAddr returns the peer address. It identifies the client.
	RemoteAddr() string
}
