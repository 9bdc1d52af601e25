package ws_test

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/omochice/toy-socket-relay/internal/relay"
	"github.com/omochice/toy-socket-relay/internal/transport/ws"
	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

func startServer(t *testing.T) (*ws.Server, *relay.Relay) {
	t.Helper()
	r := relay.New(relay.WithFrameSize(32))
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(runDone)
	}()

	srv := ws.New("127.0.0.1:0", r, nil)
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go srv.Serve()

	t.Cleanup(func() {
		srv.Stop()
		cancel()
		<-runDone
	})
	return srv, r
}

func waitForClients(t *testing.T, r *relay.Relay, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ClientCount() = %d, want %d", r.ClientCount(), want)
}

func dialGorilla(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_Addr(t *testing.T) {
	srv, _ := startServer(t)

	addr := srv.Addr()
	if !strings.Contains(addr, ":") {
		t.Errorf("Addr() = %q, expected host:port format", addr)
	}
}

func TestServer_ClientRegistration(t *testing.T) {
	srv, r := startServer(t)

	for i := 0; i < 3; i++ {
		dialGorilla(t, srv.Addr())
	}

	waitForClients(t, r, 3)
}

func TestServer_Relay(t *testing.T) {
	srv, r := startServer(t)

	sender := dialGorilla(t, srv.Addr())
	peer := dialGorilla(t, srv.Addr())
	waitForClients(t, r, 2)

	if err := sender.WriteMessage(websocket.BinaryMessage, protocol.Encode("hello", 32)); err != nil {
		t.Fatalf("failed to send: %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := peer.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if messageType != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", messageType)
	}
	want := append([]byte("hello"), make([]byte, 27)...)
	if !bytes.Equal(data, want) {
		t.Errorf("peer received %v, want %v", data, want)
	}

	sender.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := sender.ReadMessage(); err == nil {
		t.Error("sender should not receive its own message")
	}
}

func TestServer_ShortTextMessageIsPadded(t *testing.T) {
	srv, r := startServer(t)

	sender := dialGorilla(t, srv.Addr())
	peer := dialGorilla(t, srv.Addr())
	waitForClients(t, r, 2)

	if err := sender.WriteMessage(websocket.TextMessage, []byte("hi")); err != nil {
		t.Fatalf("failed to send: %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := peer.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if len(data) != 32 {
		t.Errorf("frame length = %d, want 32", len(data))
	}
	if text, _ := protocol.Decode(data); text != "hi" {
		t.Errorf("peer received %q, want %q", text, "hi")
	}
}

func TestServer_DialedConnReceives(t *testing.T) {
	srv, r := startServer(t)

	sender := dialGorilla(t, srv.Addr())
	conn, err := ws.Dial(context.Background(), "ws://"+srv.Addr()+"/ws", 32)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	waitForClients(t, r, 2)

	if err := sender.WriteMessage(websocket.BinaryMessage, protocol.Encode("via nhooyr", 32)); err != nil {
		t.Fatalf("failed to send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if text, _ := protocol.Decode(frame); text != "via nhooyr" {
		t.Errorf("Read() text = %q, want %q", text, "via nhooyr")
	}
}

func TestServer_CloseRemovesClient(t *testing.T) {
	srv, r := startServer(t)

	conn := dialGorilla(t, srv.Addr())
	waitForClients(t, r, 1)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		t.Fatalf("failed to send close: %v", err)
	}

	waitForClients(t, r, 0)
}

func TestServer_RejectsPlainTCP(t *testing.T) {
	srv, r := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	conn.Write([]byte("not a handshake\r\n\r\n"))

	time.Sleep(50 * time.Millisecond)
	if got := r.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
}

func TestServer_Stop(t *testing.T) {
	r := relay.New()
	srv := ws.New("127.0.0.1:0", r, nil)
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	srv.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}
