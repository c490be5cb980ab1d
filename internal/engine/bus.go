package engine

import (
	"sync"

	"github.com/hpungsan/weave/internal/ot"
)

// Commit is one canonical committed operation as published on the bus.
type Commit struct {
	Path  string
	DocID string
	Seq   uint64
	Op    ot.Op
	// Upstream marks ops that arrived via replication; they fan out to
	// local subscribers but are not forwarded to peers again.
	Upstream bool
}

// Bus decouples the serializer from its consumers: the serializer publishes
// committed ops, the session manager and the replication layer subscribe.
// No mutual ownership in either direction.
//
// Handlers run on the publishing goroutine and must not block.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]func(Commit)
	next int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Commit))}
}

// Subscribe registers a handler and returns a cancel function.
func (b *Bus) Subscribe(fn func(Commit)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers a commit to every subscriber.
func (b *Bus) Publish(c Commit) {
	b.mu.RLock()
	handlers := make([]func(Commit), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(c)
	}
}
