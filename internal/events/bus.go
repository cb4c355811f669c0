// Package events carries in-process notifications between the configuration
// layer and the mailbox core. Delivery is asynchronous and best-effort:
// subscribers with a full buffer miss events rather than block publishers.
package events

import "sync"

// Type identifies the kind of event.
type Type int

const (
	// AccountListChanged fires after the stored account list is rewritten.
	AccountListChanged Type = iota
)

// Event is a single broadcast notification.
type Event struct {
	Type      Type
	AccountID string
}

const subscriberBuffer = 16

// Bus fans events out to all current subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   []chan Event
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber channel. The channel is closed when
// the bus is closed.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish sends the event to every subscriber without blocking. Subscribers
// that cannot keep up are skipped.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
