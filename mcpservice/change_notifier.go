package mcpservice

import (
	"context"
	"sync"
)

// ChangeNotifier is a small in-process pub-sub used by containers to signal
// that a list has changed so that listChanged notifications reach clients.
type ChangeNotifier struct {
	subscribersMu sync.RWMutex
	subscribers   []chan struct{}
	closed        bool
}

// Notify signals all registered listeners that the underlying set changed.
// Delivery is best-effort: sends are non-blocking so a slow consumer cannot
// hold up the mutating caller. The error return exists for future expansion
// and is currently always nil.
func (cn *ChangeNotifier) Notify(ctx context.Context) error {
	cn.subscribersMu.RLock()
	defer cn.subscribersMu.RUnlock()

	if cn.closed {
		return nil
	}
	for _, ch := range cn.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// subscriber already has a pending signal
		}
	}
	return nil
}

// Close tears down the notifier and closes all subscriber channels.
func (cn *ChangeNotifier) Close() {
	cn.subscribersMu.Lock()
	if cn.closed {
		cn.subscribersMu.Unlock()
		return
	}
	cn.closed = true
	subs := cn.subscribers
	cn.subscribers = nil
	cn.subscribersMu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// ChangeSubscriber is implemented by values that can hand out change-signal
// channels.
type ChangeSubscriber interface {
	Subscriber() <-chan struct{}
}

// Subscriber returns a channel that receives a signal whenever Notify runs.
// The channel is buffered with capacity 1: a signal arriving while one is
// already pending coalesces, which is sufficient for list-changed semantics.
func (cn *ChangeNotifier) Subscriber() <-chan struct{} {
	cn.subscribersMu.Lock()
	defer cn.subscribersMu.Unlock()

	if cn.closed {
		ch := make(chan struct{})
		close(ch)
		return ch
	}

	ch := make(chan struct{}, 1)
	cn.subscribers = append(cn.subscribers, ch)
	return ch
}
