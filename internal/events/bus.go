package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic partitions the event stream by subject.
type Topic string

const (
	TopicTask   Topic = "task"
	TopicWorker Topic = "worker"
	TopicLevel  Topic = "level"
	TopicRun    Topic = "run"
)

const defaultBuffer = 256

// Bus fans orchestrator events out to topic subscribers and taps. Publish
// stamps each event with an id and a monotonically increasing timestamp,
// so every consumer sees fully formed audit entries in publish order even
// when the wall clock steps back. Delivery is non-blocking: a slow
// subscriber loses events rather than stalling the control loop.
type Bus struct {
	mu     sync.Mutex
	subs   map[Topic][]chan Event
	taps   []chan Event
	last   time.Time
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan Event)}
}

// Subscribe returns a channel receiving events published to one topic.
// bufSize <= 0 selects the default buffer.
func (b *Bus) Subscribe(topic Topic, bufSize int) <-chan Event {
	ch := newSubscriberChan(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Tap returns a channel receiving every event regardless of topic.
// The audit writer drains a tap to build the run's event log.
func (b *Bus) Tap(bufSize int) <-chan Event {
	ch := newSubscriberChan(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.taps = append(b.taps, ch)
	return ch
}

func newSubscriberChan(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = defaultBuffer
	}
	return make(chan Event, bufSize)
}

// Publish stamps and delivers an event. An id or timestamp already on the
// event is kept, but timestamps never move backwards across publishes.
func (b *Bus) Publish(topic Topic, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if !event.Timestamp.After(b.last) {
		event.Timestamp = b.last.Add(time.Microsecond)
	}
	b.last = event.Timestamp

	for _, ch := range b.subs[topic] {
		deliver(ch, event)
	}
	for _, ch := range b.taps {
		deliver(ch, event)
	}
}

func deliver(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		// Subscriber buffer full, drop
	}
}

// Close closes every subscriber and tap channel. Idempotent; publishes
// after Close are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.taps {
		close(ch)
	}
}
