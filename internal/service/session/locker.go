package session

import (
	"context"
	"sync"
)

// keyedLocker serialises operations per session id. Each id owns a
// one-slot channel; holding the slot means owning the session.
type keyedLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{slots: make(map[string]*lockSlot)}
}

// Acquire blocks until the id is free or ctx ends. The returned release func
// is safe to call more than once.
func (l *keyedLocker) Acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[id]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[id] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.ch
				l.unref(id, slot)
			})
		}, nil
	case <-ctx.Done():
		l.unref(id, slot)
		return nil, ctx.Err()
	}
}

func (l *keyedLocker) unref(id string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, id)
	}
}

func (l *keyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
