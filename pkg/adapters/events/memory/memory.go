package memory

import (
	"context"
	"sync"

	"github.com/aescanero/dagplan/pkg/domain"
	"github.com/aescanero/dagplan/pkg/ports"
)

type subscription struct {
	id      int
	handler ports.EventHandler
}

// Bus implements ports.EventBus with in-process handlers.
// This is for testing purposes only.
type Bus struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[string][]subscription
}

// NewBus creates a new in-memory event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]subscription)}
}

// Publish delivers an event to every subscriber of the topic. Handlers run
// asynchronously and their errors are dropped.
func (b *Bus) Publish(ctx context.Context, topic string, event domain.Event) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])
	b.mu.RUnlock()

	for _, sub := range subs {
		go func(handler ports.EventHandler) {
			_ = handler(ctx, event)
		}(sub.handler)
	}
	return nil
}

// Subscribe registers a handler for a topic. The subscription is removed
// when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[topic] = append(b.subscribers[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(topic, id)
	}()

	return nil
}

// Close drops all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers = make(map[string][]subscription)
	return nil
}

func (b *Bus) unsubscribe(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, sub := range subs {
		if sub.id == id {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
