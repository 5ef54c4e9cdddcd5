package events

import "sync"

// subscriberBuffer is how many events a subscriber can fall behind
// before the bus starts dropping for it.
const subscriberBuffer = 16

// Bus fans envelopes out to in-process subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Envelope]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[chan Envelope]struct{}),
	}
}

// Subscribe registers a new subscriber and returns its event channel.
func (b *Bus) Subscribe() chan Envelope {
	ch := make(chan Envelope, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Envelope) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish delivers an envelope to all subscribers. A subscriber whose
// buffer is full misses the event rather than blocking the publisher.
func (b *Bus) Publish(env Envelope) {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
			// Drop if the subscriber is lagging; the next snapshot event
			// will catch it up.
		}
	}
	b.mu.Unlock()
}
