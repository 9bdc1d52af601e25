package relay_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/omochice/toy-socket-relay/internal/relay"
	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

// mockConn is a mock implementation of relay.Conn for testing.
type mockConn struct {
	readCh     chan []byte
	readErr    error
	writtenMu  sync.Mutex
	written    [][]byte
	writeErr   error
	closeOnce  sync.Once
	closedCh   chan struct{}
	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		readCh:     make(chan []byte, 10),
		closedCh:   make(chan struct{}),
		remoteAddr: addr,
	}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closedCh:
		return nil, io.ErrClosedPipe
	case data, ok := <-m.readCh:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	copied := make([]byte, len(data))
	copy(copied, data)
	m.written = append(m.written, copied)
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closedCh) })
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

func (m *mockConn) GetWritten() [][]byte {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	return m.written
}

func (m *mockConn) IsClosed() bool {
	select {
	case <-m.closedCh:
		return true
	default:
		return false
	}
}

// send feeds text to the relay as one inbound frame.
func (m *mockConn) send(text string) {
	m.readCh <- protocol.Encode(text, protocol.DefaultFrameSize)
}

// waitWritten polls until n frames were written or the timeout expires.
func (m *mockConn) waitWritten(n int, timeout time.Duration) [][]byte {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if w := m.GetWritten(); len(w) >= n {
			return w
		}
		time.Sleep(5 * time.Millisecond)
	}
	return m.GetWritten()
}

// Compile-time check that mockConn implements relay.Conn
var _ relay.Conn = (*mockConn)(nil)
