// Package events provides the in-process publish-subscribe channel over
// which the execution core announces state transitions.
package events

import (
	"sync"

	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// subscriberBuffer is the per-subscriber channel depth. Publication never
// blocks; events beyond this depth are dropped for that subscriber.
const subscriberBuffer = 128

// Subscription is a live event feed. Drain C until Cancel is called.
type Subscription struct {
	// C delivers events in publication order.
	C <-chan models.Event

	bus    *Bus
	ch     chan models.Event
	cancel sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() {
		s.bus.detach(s)
		close(s.ch)
	})
}

// Bus fans events out to subscribers. Slow subscribers lose events instead
// of stalling the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan models.Event, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers e to every subscriber without blocking. A subscriber
// whose buffer is full drops the event.
func (b *Bus) Publish(e models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			// Buffer full, drop to avoid blocking the publisher.
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) detach(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}
