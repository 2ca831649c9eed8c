package bus

import (
	"strings"
	"sync"
)

// Bus fans events out to subscribers by kind-prefix. Delivery is
// non-blocking: a subscriber that falls behind loses events rather than
// stalling the publisher, so consumers needing completeness must reconcile
// from the store.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]subscriber
	nextID int
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// Full subscriber buffers drop the event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Subscribe registers a buffered channel receiving events whose kind starts
// with prefix. The returned func removes the subscription; the channel is
// not closed, so pending events can still be drained.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	return ch, unsubscribe
}
