package sqliteengine

import (
	"sync"

	"github.com/AntonStoeckl/dynamic-handles-sqlitepool-go/sqlitepool"
)

// Subscription is one consumer of the batched change-event stream.
//
// Batches are delivered over a buffered channel so the producer (the
// debounce flush, running on a timer goroutine) never blocks on a slow
// consumer; batches for a subscriber whose buffer is full are dropped.
type Subscription struct {
	id     uint64
	events chan []sqlitepool.ChangeEvent
	cancel func(id uint64)
	once   sync.Once
}

// Events returns the channel delivering deduplicated change-event batches.
// The channel is closed when the subscription is cancelled or the pool
// manager shuts down.
func (s *Subscription) Events() <-chan []sqlitepool.ChangeEvent {
	return s.events
}

// Cancel unsubscribes and closes the events channel. Safe to call twice.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cancel(s.id)
	})
}

// subscriberRegistry is the subscribe/unsubscribe registry decoupling
// notification production from consumption.
type subscriberRegistry struct {
	buffer int

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan []sqlitepool.ChangeEvent
	closed bool
}

func newSubscriberRegistry(buffer int) *subscriberRegistry {
	return &subscriberRegistry{
		buffer: buffer,
		subs:   make(map[uint64]chan []sqlitepool.ChangeEvent),
	}
}

func (r *subscriberRegistry) subscribe() *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make(chan []sqlitepool.ChangeEvent, r.buffer)

	if r.closed {
		close(events)
		return &Subscription{events: events, cancel: func(uint64) {}}
	}

	r.nextID++
	id := r.nextID
	r.subs[id] = events

	return &Subscription{
		id:     id,
		events: events,
		cancel: r.unsubscribe,
	}
}

func (r *subscriberRegistry) unsubscribe(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, ok := r.subs[id]
	if !ok {
		return
	}

	delete(r.subs, id)
	close(events)
}

// publish fans a batch out to every subscriber without blocking. It returns
// the number of subscribers whose full buffer forced a drop.
func (r *subscriberRegistry) publish(batch []sqlitepool.ChangeEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0

	for _, events := range r.subs {
		select {
		case events <- batch:
		default:
			dropped++
		}
	}

	return dropped
}

// closeAll closes every subscriber channel and rejects future subscriptions
// with a closed channel.
func (r *subscriberRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	for id, events := range r.subs {
		delete(r.subs, id)
		close(events)
	}
}
