package relay_test

import (
	"sync"
	"testing"
	"time"

	"github.com/omochice/toy-socket-relay/internal/relay"
)

func TestMailbox_PushDrain(t *testing.T) {
	m := relay.NewMailbox[int]()
	m.Push(1)
	m.Push(2)

	select {
	case <-m.Ready():
	case <-time.After(time.Second):
		t.Fatal("Ready() was not signalled")
	}

	got := m.Drain()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Drain() = %v, want [1 2]", got)
	}
	if m.Len() != 0 {
		t.Errorf("Len() after Drain = %d, want 0", m.Len())
	}
}

func TestMailbox_PushNeverBlocks(t *testing.T) {
	m := relay.NewMailbox[string]()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			m.Push("x")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Push blocked without a consumer")
	}
	if m.Len() != 10000 {
		t.Errorf("Len() = %d, want 10000", m.Len())
	}
}

func TestMailbox_ConcurrentProducers(t *testing.T) {
	m := relay.NewMailbox[int]()
	const producers, each = 8, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				m.Push(p*each + i)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool)
	last := make(map[int]int)
	for _, v := range m.Drain() {
		seen[v] = true
		p := v / each
		// per-producer order is preserved
		if prev, ok := last[p]; ok && v < prev {
			t.Errorf("producer %d out of order: %d after %d", p, v, prev)
		}
		last[p] = v
	}
	if len(seen) != producers*each {
		t.Errorf("drained %d distinct items, want %d", len(seen), producers*each)
	}
}
