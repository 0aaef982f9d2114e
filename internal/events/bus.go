package events

import (
	"sync"
	"sync/atomic"
)

// Publisher accepts events for a topic. Implementations must not block.
type Publisher interface {
	Publish(topic string, event Event)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(topic string, event Event)

// Publish calls f(topic, event).
func (f PublisherFunc) Publish(topic string, event Event) { f(topic, event) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(string, Event) {})

// EventBus is a channel-based pub-sub event bus. Publishing never blocks:
// an event that does not fit a subscriber's buffer is dropped for that
// subscriber and counted against its topic.
type EventBus struct {
	mu      sync.RWMutex
	subs    []*subscription
	closed  bool
	dropped map[string]*atomic.Uint64 // topic -> events dropped
}

// subscription is one subscriber channel. An empty topic receives every topic.
type subscription struct {
	topic string
	ch    chan Event
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	b := &EventBus{dropped: make(map[string]*atomic.Uint64)}
	for _, topic := range []string{TopicTask, TopicRun, TopicWatch, TopicError} {
		b.dropped[topic] = new(atomic.Uint64)
	}
	return b
}

// Subscribe returns a channel receiving events published to topic.
// bufSize defaults to 256 if <= 0.
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	return b.subscribe(topic, bufSize)
}

// SubscribeAll returns a channel receiving events from every topic.
// bufSize defaults to 256 if <= 0.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	return b.subscribe("", bufSize)
}

func (b *EventBus) subscribe(topic string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	if topic != "" && b.dropped[topic] == nil {
		b.dropped[topic] = new(atomic.Uint64)
	}
	b.subs = append(b.subs, &subscription{topic: topic, ch: ch})
	return ch
}

// Publish delivers event to the subscribers of topic and to every
// SubscribeAll channel. Full channels drop the event.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	var drops uint64
	for _, s := range b.subs {
		if s.topic != "" && s.topic != topic {
			continue
		}
		select {
		case s.ch <- event:
		default:
			drops++
		}
	}
	if drops == 0 {
		return
	}
	if counter := b.dropped[topic]; counter != nil {
		counter.Add(drops)
	}
}

// Dropped returns the number of deliveries dropped per topic because a
// subscriber was too slow. Topics without drops are omitted.
func (b *EventBus) Dropped() map[string]uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]uint64)
	for topic, counter := range b.dropped {
		if n := counter.Load(); n > 0 {
			out[topic] = n
		}
	}
	return out
}

// Close closes the event bus and all subscriber channels.
// Safe to call multiple times (idempotent).
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
}
