// Package keylock provides per-key mutual exclusion for store writers.
package keylock

import (
	"context"
	"sync"
)

// Locker serializes writers per key. Acquire blocks until the key's lock is
// held or the context is done.
type Locker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{slots: make(map[string]chan struct{})}
}

// Acquire takes the lock for key. The returned release function must be
// called exactly once.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
