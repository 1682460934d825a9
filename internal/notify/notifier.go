// Package notify fans out "click counts changed" signals to any number of observers.
//
// A signal carries no payload. Each subscription owns a single-slot queue, so a
// subscriber that is slow to drain sees one pending signal instead of a backlog,
// and Broadcast never waits on anybody.
package notify

import (
	"sync"
)

// Subscription is an observer handle. A receive on C means counters changed at
// least once since the previous receive. C is closed on Unsubscribe or Close.
type Subscription struct {
	C <-chan struct{}

	id uint64
	ch chan struct{}
}

type Notifier struct {
	mu     sync.RWMutex
	subs   map[uint64]chan struct{}
	nextID uint64
	closed bool
}

func New() *Notifier {
	return &Notifier{
		subs: make(map[uint64]chan struct{}),
	}
}

// Subscribe registers a new observer. After Close the returned subscription is
// already closed.
func (n *Notifier) Subscribe() *Subscription {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	sub := &Subscription{C: ch, id: n.nextID, ch: ch}
	if n.closed {
		close(ch)
		return sub
	}
	n.subs[sub.id] = ch
	return sub
}

// Unsubscribe removes sub. Calling it more than once, or with a subscription
// that was never registered, is a no-op.
func (n *Notifier) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ch, ok := n.subs[sub.id]
	if !ok || ch != sub.ch {
		return
	}
	delete(n.subs, sub.id)
	close(ch)
}

// Broadcast signals every current subscriber without blocking.
func (n *Notifier) Broadcast() {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
			// a signal is already pending
		}
	}
}

// Len returns the number of registered subscribers.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Close unregisters and closes every subscription. Later Broadcasts are no-ops.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
