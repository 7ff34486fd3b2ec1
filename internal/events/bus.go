// Package events carries the in-process notifications that connect the
// caches, the strategy engine and the API stream.
package events

import (
	"sync"
)

// Bus fans payloads out to topic subscribers. Publishing never blocks: a
// subscriber whose buffer is full loses the message rather than stalling the
// publisher.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	topics map[Topic]map[int]chan any
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[Topic]map[int]chan any)}
}

// Subscribe registers a buffered listener for one topic. The returned
// function removes the subscription and closes the channel; calling it more
// than once is safe.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.topics[t] == nil {
		b.topics[t] = make(map[int]chan any)
	}
	b.nextID++
	id := b.nextID
	ch := make(chan any, buffer)
	b.topics[t][id] = ch

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.topics[t][id]; ok {
			delete(b.topics[t], id)
			close(c)
		}
	}
	return ch, unsub
}

// Publish delivers payload to every subscriber of t.
func (b *Bus) Publish(t Topic, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.topics[t] {
		select {
		case ch <- payload:
		default:
			// Slow subscriber; drop rather than block.
		}
	}
}
