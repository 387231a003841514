package alerts

import (
	"sync"

	"sales-forecasting-platform/store"
)

// Broker fans out triggered alerts to in-process subscribers. Publishing is
// non-blocking: a slow subscriber drops messages rather than stalling the
// evaluator.
type Broker struct {
	mu      sync.RWMutex
	subs    map[int]chan store.Alert
	nextID  int
	dropped int64
	closed  bool
}

// NewBroker creates an alert broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan store.Alert)}
}

// Subscribe returns a channel of alerts and an unsubscribe function.
func (b *Broker) Subscribe() (<-chan store.Alert, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan store.Alert, 16)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an alert to every subscriber without blocking.
func (b *Broker) Publish(alert store.Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- alert:
		default:
			b.dropped++
		}
	}
}

// Dropped returns how many deliveries were skipped due to full subscribers.
func (b *Broker) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close shuts the broker down and closes all subscriber channels.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
