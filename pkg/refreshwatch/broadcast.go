// Package refreshwatch keeps a browser tab's session silently renewed: a
// per-tab scheduler refreshes the session ahead of expiry and a content-free
// broadcast channel lets sibling tabs reload the rotated context instead of
// racing their own refresh calls against it.
package refreshwatch

import "sync"

// Broadcaster is an at-least-once, content-free notify channel between tabs
// of the same origin. The payload is a pure signal; subscribers only learn
// that a refresh happened, never the token that came out of it.
type Broadcaster struct {
	mutex       sync.Mutex
	subscribers map[int]chan struct{}
	nextID      int
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[int]chan struct{})}
}

// Subscribe registers a listener. The returned cancel func unregisters it.
func (broadcaster *Broadcaster) Subscribe() (<-chan struct{}, func()) {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	id := broadcaster.nextID
	broadcaster.nextID++
	channel := make(chan struct{}, 1)
	broadcaster.subscribers[id] = channel
	cancel := func() {
		broadcaster.mutex.Lock()
		defer broadcaster.mutex.Unlock()
		delete(broadcaster.subscribers, id)
	}
	return channel, cancel
}

// Publish notifies every subscriber without blocking. A subscriber that
// already holds an undelivered signal is not queued twice; one pending signal
// is enough to trigger its reload.
func (broadcaster *Broadcaster) Publish() {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	for _, channel := range broadcaster.subscribers {
		select {
		case channel <- struct{}{}:
		default:
		}
	}
}
