package messaging

import (
	"io"
	"sync"
)

// Bus is a pluggable messaging interface for broadcast and subscription.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func([]byte)) (io.Closer, error)
	Close() error
}

// MemoryBus delivers messages synchronously to in-process subscribers.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func([]byte)
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]func([]byte))}
}

func (b *MemoryBus) Publish(subject string, data []byte) error {
	b.mu.RLock()
	handlers := make([]func([]byte), 0, len(b.subs[subject]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		msg := append([]byte(nil), data...)
		h(msg)
	}
	return nil
}

func (b *MemoryBus) Subscribe(subject string, handler func([]byte)) (io.Closer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]func([]byte))
	}
	b.subs[subject][id] = handler
	return closerFunc(func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[subject], id)
		return nil
	}), nil
}

func (b *MemoryBus) Close() error { return nil }

type closerFunc func() error

func (c closerFunc) Close() error { return c() }
