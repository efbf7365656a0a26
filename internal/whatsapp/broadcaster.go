package whatsapp

import (
	"context"
	"sync"
)

const statusBufferSize = 16

// statusBroadcaster fans session status out to any number of subscribers. A slow
// subscriber misses updates instead of blocking the session.
type statusBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Status
	nextID      int64
	bufferSize  int
}

func newStatusBroadcaster() *statusBroadcaster {
	return &statusBroadcaster{
		subscribers: make(map[int64]chan Status),
		bufferSize:  statusBufferSize,
	}
}

// Subscribe registers a stream that is removed when ctx ends or cleanup is called.
func (b *statusBroadcaster) Subscribe(ctx context.Context) (<-chan Status, func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	stream := make(chan Status, b.bufferSize)
	b.subscribers[id] = stream
	b.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

func (b *statusBroadcaster) Publish(status Status) {
	b.mu.RLock()
	copies := make([]chan Status, 0, len(b.subscribers))
	for _, stream := range b.subscribers {
		copies = append(copies, stream)
	}
	b.mu.RUnlock()
	for _, stream := range copies {
		select {
		case stream <- status:
		default:
		}
	}
}

func (b *statusBroadcaster) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
