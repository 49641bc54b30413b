// Package events streams the append-only event ledger to in-process
// subscribers. A single poller reads rows the engine and scheduler committed
// (id > last seen, preserving ledger order) and fans them out through a
// broker. Subscriber channels are bounded; under pressure the oldest
// buffered event is dropped rather than blocking the poller.
package events

import (
	"log/slog"
	"sync"

	"github.com/polis-labs/polis/pkg/metrics"
	"github.com/polis-labs/polis/pkg/models"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity. Sized for
// a burst of one full scheduler tick across the whole population.
const DefaultSubscriberBuffer = 256

// Subscriber is one attached consumer. Read from Events until it is closed;
// call Broker.Unsubscribe when done.
type Subscriber struct {
	id      uint64
	ch      chan *models.Event
	dropped int
}

// Events returns the subscriber's delivery channel. Closed on unsubscribe.
func (s *Subscriber) Events() <-chan *models.Event { return s.ch }

// Broker fans ledger events out to subscribers. Delivery within one
// subscriber preserves publish order; a slow subscriber loses its oldest
// buffered events, never the poller's liveness.
type Broker struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscriber
	nextID uint64
	buffer int
	log    *slog.Logger
}

// NewBroker creates a broker with the given per-subscriber buffer size.
// Non-positive sizes fall back to DefaultSubscriberBuffer.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broker{
		subs:   make(map[uint64]*Subscriber),
		buffer: buffer,
		log:    slog.With("component", "event_broker"),
	}
}

// Subscribe attaches a new consumer.
func (b *Broker) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscriber{
		id: b.nextID,
		ch: make(chan *models.Event, b.buffer),
	}
	b.subs[sub.id] = sub
	metrics.SetEventStreamSubscribers(len(b.subs))
	return sub
}

// Unsubscribe detaches a consumer and closes its channel. Safe to call once
// per subscriber; the subscriber must not be reused afterwards.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
	metrics.SetEventStreamSubscribers(len(b.subs))
	if sub.dropped > 0 {
		b.log.Warn("Subscriber detached after drops",
			"subscriber_id", sub.id, "dropped", sub.dropped)
	}
}

// Publish delivers an event to every subscriber. When a subscriber's buffer
// is full its oldest event is discarded to make room, so the channel always
// holds the most recent window of the ledger.
func (b *Broker) Publish(e *models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		for {
			select {
			case sub.ch <- e:
			default:
				select {
				case <-sub.ch:
					sub.dropped++
					metrics.RecordEventDropped()
				default:
				}
				continue
			}
			break
		}
	}
}

// SubscriberCount returns the number of attached consumers.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns the drop count for a subscriber. Publish and Dropped
// serialize on the broker lock, so the count is exact at the time of call.
func (b *Broker) Dropped(sub *Subscriber) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sub.dropped
}
