// Package events provides the event stream behind engine monitoring.
// It implements pub/sub with backpressure: slow subscribers lose oldest
// events rather than blocking the analysis path.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	Type string    `json:"type"`
	Time time.Time `json:"timestamp"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		Type: eventType,
		Time: time.Now(),
	}
}

// Subscription is a handle to an event stream. Events arrives on C;
// Unsubscribe via the bus closes C and releases the buffer.
type subscriber struct {
	ch    chan Event
	types map[string]bool // empty means all types
}

// Bus provides pub/sub with ring-buffer backpressure.
type Bus struct {
	mu           sync.RWMutex
	subscribers  []*subscriber
	bufferSize   int
	droppedCount int64
	closed       bool
}

// New creates a new Bus with the specified per-subscriber buffer size.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make([]*subscriber, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription for specific event types.
// If no types are specified, subscribes to all events.
func (b *Bus) Subscribe(types ...string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		ch:    make(chan Event, b.bufferSize),
		types: make(map[string]bool),
	}
	for _, t := range types {
		sub.types[t] = true
	}
	b.subscribers = append(b.subscribers, sub)
	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.ch != ch {
			kept = append(kept, sub)
		} else {
			close(sub.ch)
		}
	}
	b.subscribers = kept
}

// Publish sends an event to all matching subscribers. A full subscriber
// buffer drops the oldest event first (ring buffer behavior); publishing
// never blocks.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	eventType := event.EventType()
	for _, sub := range b.subscribers {
		if len(sub.types) > 0 && !sub.types[eventType] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			select {
			case <-sub.ch: // drop oldest
				atomic.AddInt64(&b.droppedCount, 1)
			default:
			}
			select {
			case sub.ch <- event:
			default:
				atomic.AddInt64(&b.droppedCount, 1)
			}
		}
	}
}

// DroppedCount returns the total number of dropped events.
func (b *Bus) DroppedCount() int64 {
	return atomic.LoadInt64(&b.droppedCount)
}

// Close closes the bus and all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = nil
}
