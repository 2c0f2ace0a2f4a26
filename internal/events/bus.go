package events

import (
	"sync"
	"time"
)

// Handler receives events emitted on a Bus.
type Handler func(Event)

// Bus distributes job lifecycle events to subscribers. Emission never
// blocks on a subscriber; handlers run synchronously in emission order.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.handlers = append(b.handlers, h)
}

// Emit stamps the event time and delivers it to every subscriber.
func (b *Bus) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	handlers := b.handlers
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return
	}
	for _, h := range handlers {
		h(e)
	}
}

// Close stops delivery; subsequent Emit calls are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
}
