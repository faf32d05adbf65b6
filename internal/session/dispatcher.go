package session

import (
	"context"
	"sync"
)

// StateDispatcher fans each published session state out to subscribed UI
// collaborators. Slow subscribers never block a publish; they miss
// intermediate states and catch up on the next one.
type StateDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]chan AuthState
	nextID      int64
	bufferSize  int
}

// NewStateDispatcher constructs a dispatcher with a small per-subscriber buffer.
func NewStateDispatcher() *StateDispatcher {
	return &StateDispatcher{
		subscribers: make(map[int64]chan AuthState),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for session state transitions. The
// returned cancel function (or context cancellation) releases it.
func (d *StateDispatcher) Subscribe(ctx context.Context) (<-chan AuthState, func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	stream := make(chan AuthState, d.bufferSize)
	d.subscribers[id] = stream
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		delete(d.subscribers, id)
		d.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish delivers the state snapshot to every subscriber without blocking.
func (d *StateDispatcher) Publish(state AuthState) {
	d.mu.RLock()
	streams := make([]chan AuthState, 0, len(d.subscribers))
	for _, stream := range d.subscribers {
		streams = append(streams, stream)
	}
	d.mu.RUnlock()

	for _, stream := range streams {
		select {
		case stream <- state:
		default:
		}
	}
}
