// Package bus implements the Event Bus component.
//
// The Event Bus:
//   - Delivers published payloads synchronously, in subscription order
//   - Matches topics by exact string equality (no wildcards)
//   - Isolates subscriber panics so one bad handler cannot block the rest
//   - Hands out opaque, idempotent unsubscribe handles
package bus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Handler receives the raw payload published on a topic.
type Handler func(payload []byte)

// Subscription is the capability to remove exactly one registration.
// The zero value is a no-op handle.
type Subscription struct {
	bus   *Bus
	topic string
	id    uuid.UUID
}

// Cancel removes the registration. Repeated calls are no-ops.
func (s Subscription) Cancel() {
	if s.bus == nil {
		return
	}
	s.bus.remove(s.topic, s.id)
}

type subscriber struct {
	id uuid.UUID
	fn Handler
}

// Bus is a per-topic subscriber registry, decoupled from any transport.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string][]subscriber
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[string][]subscriber),
	}
}

// Subscribe registers fn for the given topic and returns its unsubscribe
// handle. Past publishes are not replayed. An empty topic is rejected and
// yields a no-op handle.
func (b *Bus) Subscribe(topic string, fn Handler) Subscription {
	if topic == "" || fn == nil {
		b.logger.Warn("ignoring invalid subscription", "topic", topic)
		return Subscription{}
	}

	id := uuid.New()

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, fn: fn})
	b.mu.Unlock()

	return Subscription{bus: b, topic: topic, id: id}
}

// Publish delivers payload to every subscriber currently registered for
// topic, in subscription order. A panicking handler is logged and skipped;
// delivery continues with the next subscriber. Publish never fails.
func (b *Bus) Publish(topic string, payload []byte) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(topic, s, payload)
	}
}

func (b *Bus) deliver(topic string, s subscriber, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				"topic", topic,
				"subscription", s.id,
				"panic", r,
			)
		}
	}()
	s.fn(payload)
}

// remove deletes at most one registration; unknown handles are no-ops.
func (b *Bus) remove(topic string, id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			return
		}
	}
}
