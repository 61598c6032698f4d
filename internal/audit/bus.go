package audit

import "sync"

// Listener receives every emitted event. Listeners run synchronously
// on the emitting goroutine; they must not block.
type Listener func(Event)

// Bus fans out security events to registered listeners. It is the only
// externally observable record of blocking decisions.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a listener for all subsequent events.
func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Emit delivers the event to every listener, synchronously and in
// registration order. A nil bus drops events silently so callers can
// wire auditing optionally.
func (b *Bus) Emit(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	listeners := b.listeners
	b.mu.RUnlock()

	for _, l := range listeners {
		l(e)
	}
}
