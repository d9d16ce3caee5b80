// Package realtime distributes "something changed, re-fetch" signals to
// observers of a provider calendar or a single session. Events never carry
// the new state: receivers always re-read the aggregate.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TypeSlotsChanged   = "slots.changed"
	TypeSessionChanged = "session.changed"
	TypePayoutChanged  = "payout.changed"
)

// Event is a refetch trigger. Date is set for slot events so observers only
// reload the affected calendar day.
type Event struct {
	Type         string    `json:"type"`
	Topic        string    `json:"topic"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Date         string    `json:"date,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func ProviderTopic(providerID uuid.UUID) string {
	return "provider/" + providerID.String()
}

func SessionTopic(sessionID uuid.UUID) string {
	return "session/" + sessionID.String()
}

// Publisher is implemented by Bus (single instance) and RedisBridge
// (fan-out across instances).
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscription receives events for its topics until Close is called.
type Subscription struct {
	ID     string
	events chan Event
	bus    *Bus

	// guarded by bus.mu
	topics map[string]struct{}
	closed bool
}

// Events is closed when the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Close() {
	s.bus.Unsubscribe(s)
}

// Bus is an in-process topic hub. Delivery never blocks the publisher: when a
// subscriber's buffer is full the event is dropped, which is safe because a
// refetch is already pending for that subscriber.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	all    map[*Subscription]struct{}
	buffer int

	metrics *metrics.Collector
	log     *zap.Logger
}

func NewBus(buffer int, m *metrics.Collector, log *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		topics:  make(map[string]map[*Subscription]struct{}),
		all:     make(map[*Subscription]struct{}),
		buffer:  buffer,
		metrics: m,
		log:     log,
	}
}

func (b *Bus) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		events: make(chan Event, b.buffer),
		bus:    b,
		topics: make(map[string]struct{}, len(topics)),
	}

	b.mu.Lock()
	b.all[sub] = struct{}{}
	b.addTopicsLocked(sub, topics)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RealtimeSubscribers.Inc()
	}
	return sub
}

// AddTopics extends a live subscription.
func (b *Bus) AddTopics(sub *Subscription, topics ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	b.addTopicsLocked(sub, topics)
}

func (b *Bus) addTopicsLocked(sub *Subscription, topics []string) {
	for _, topic := range topics {
		if b.topics[topic] == nil {
			b.topics[topic] = make(map[*Subscription]struct{})
		}
		b.topics[topic][sub] = struct{}{}
		sub.topics[topic] = struct{}{}
	}
}

func (b *Bus) RemoveTopics(sub *Subscription, topics ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeTopicsLocked(sub, topics)
}

func (b *Bus) removeTopicsLocked(sub *Subscription, topics []string) {
	for _, topic := range topics {
		if subscribers, ok := b.topics[topic]; ok {
			delete(subscribers, sub)
			if len(subscribers) == 0 {
				delete(b.topics, topic)
			}
		}
		delete(sub.topics, topic)
	}
}

// Unsubscribe drops every topic and closes the event channel. It is safe to
// call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if sub.closed {
		b.mu.Unlock()
		return
	}
	topics := make([]string, 0, len(sub.topics))
	for t := range sub.topics {
		topics = append(topics, t)
	}
	b.removeTopicsLocked(sub, topics)
	delete(b.all, sub)
	sub.closed = true
	close(sub.events)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RealtimeSubscribers.Dec()
	}
}

// Publish delivers to local subscribers only.
func (b *Bus) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if b.metrics != nil {
		b.metrics.RealtimeEventsTotal.WithLabelValues(event.Type).Inc()
	}
	b.deliver(event)
	return nil
}

func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.topics[event.Topic] {
		select {
		case sub.events <- event:
		default:
			if b.metrics != nil {
				b.metrics.RealtimeDroppedEvents.Inc()
			}
			b.log.Debug("subscriber buffer full, event coalesced",
				zap.String("subscription", sub.ID),
				zap.String("topic", event.Topic),
			)
		}
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.all)
}

func (b *Bus) TopicCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
