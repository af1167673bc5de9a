package bus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueSize is the per-subscriber queue depth.
const DefaultQueueSize = 256

// Event is a published state change notification.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Topic is the dotted topic name.
	Topic string `json:"topic"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// Payload is the topic-specific body. It must be treated as read-only.
	Payload any `json:"payload,omitempty"`
}

// subscriber holds one subscription's queue and filters.
type subscriber struct {
	id      uint64
	topics  []string
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

func (s *subscriber) matches(topic string) bool {
	for _, pat := range s.topics {
		if pat == TopicAll || pat == topic {
			return true
		}
		// Trailing wildcard: "station.*" matches "station.updated".
		if strings.HasSuffix(pat, ".*") && strings.HasPrefix(topic, pat[:len(pat)-1]) {
			return true
		}
	}
	return false
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Bus is the in-process publish/subscribe hub.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	nextID    uint64
	queueSize int
	closed    bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a bus with the default per-subscriber queue size.
func New() *Bus {
	return NewWithQueueSize(DefaultQueueSize)
}

// NewWithQueueSize creates a bus with a custom per-subscriber queue size.
func NewWithQueueSize(size int) *Bus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Bus{
		subs:      make(map[uint64]*subscriber),
		queueSize: size,
	}
}

// Subscribe registers interest in the given topic patterns and returns
// the event channel plus a cancel function. Patterns may be exact topics,
// "prefix.*" wildcards, or TopicAll.
func (b *Bus) Subscribe(topics ...string) (<-chan Event, func()) {
	if len(topics) == 0 {
		topics = []string{TopicAll}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{
		id:     b.nextID,
		topics: topics,
		ch:     make(chan Event, b.queueSize),
	}

	if b.closed {
		sub.close()
		return sub.ch, func() {}
	}

	b.subs[sub.id] = sub

	cancel := func() {
		b.mu.Lock()
		if s, ok := b.subs[sub.id]; ok {
			delete(b.subs, sub.id)
			s.close()
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers the event to all matching subscribers.
// Delivery happens strictly after the caller committed the state change;
// subscribers with a full queue lose the event (counted, never blocking).
func (b *Bus) Publish(topic string, payload any) Event {
	ev := Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ev
	}

	b.published.Add(1)
	for _, sub := range b.subs {
		if !sub.matches(topic) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
	return ev
}

// Close shuts the bus down, closing all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.close()
	}
}

// Stats returns the published and dropped event counters.
func (b *Bus) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
