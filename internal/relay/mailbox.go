package relay

import "sync"

// Mailbox is an unbounded multi-producer, single-consumer queue.
// Push never blocks; the consumer waits on Ready and then calls Drain.
// Items from one producer keep their order; there is no order across
// producers.
type Mailbox[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

// NewMailbox creates an empty Mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ready: make(chan struct{}, 1)}
}

// Push appends an item and wakes the consumer.
func (m *Mailbox[T]) Push(item T) {
	m.mu.Lock()
	m.items = append(m.items, item)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after one or more Push calls.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}

// Drain removes and returns every queued item.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
