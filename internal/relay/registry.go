package relay

import (
	"log/slog"

	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

// Registry holds the connected clients in insertion order.
// It is not safe for concurrent use: only the relay loop touches it.
type Registry struct {
	clients []*Client
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = discardLogger()
	}
	return &Registry{logger: logger}
}

// Add inserts client. An entry already registered under the same address
// is stale; it is closed and replaced so each address appears once.
func (r *Registry) Add(client *Client) {
	for i, c := range r.clients {
		if c.Address == client.Address {
			r.logger.Warn("replacing stale client", "addr", c.Address, "id", c.ID)
			c.close()
			r.clients[i] = client
			return
		}
	}
	r.clients = append(r.clients, client)
}

// RemoveByAddress removes and closes the client registered under address.
// It returns false if there was none.
func (r *Registry) RemoveByAddress(address string) bool {
	for i, c := range r.clients {
		if c.Address == address {
			c.close()
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the client registered under address.
func (r *Registry) Get(address string) (*Client, bool) {
	for _, c := range r.clients {
		if c.Address == address {
			return c, true
		}
	}
	return nil, false
}

// BroadcastExcept queues msg for every client except its sender and
// returns the number of clients it was queued for. A client whose queue
// is full is skipped and logged; it is not removed.
func (r *Registry) BroadcastExcept(msg protocol.Message) int {
	frame := msg.Frame()
	sent := 0
	for _, c := range r.clients {
		if c.Address == msg.Sender {
			continue
		}
		select {
		case c.Outgoing <- frame:
			sent++
		default:
			r.logger.Warn("client queue full, skipping", "addr", c.Address, "id", c.ID)
		}
	}
	return sent
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	return len(r.clients)
}

// Addresses returns the registered addresses in insertion order.
func (r *Registry) Addresses() []string {
	addrs := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		addrs = append(addrs, c.Address)
	}
	return addrs
}

// Close closes and removes every client.
func (r *Registry) Close() {
	for _, c := range r.clients {
		c.close()
	}
	r.clients = nil
}
