package bus

import (
	"log"
	"sync"
	"time"
)

// Sink receives events durably. Sink errors are logged, never propagated:
// one sink's failure must not suppress delivery to subscribers or other sinks.
type Sink interface {
	Append(e Event) error
}

// Bus dispatches events to subscribers in registration order and mirrors
// goal-namespace events to durable sinks. Dispatch is fault-isolated: a
// panicking subscriber never suppresses delivery to the others.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
	sinks  []Sink
}

type subscription struct {
	id int
	fn func(Event)
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers fn for every published event. The returned function
// removes the subscription.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// AddSink registers a durable sink for goal-namespace events.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish stamps the event if needed and delivers it to every subscriber
// in order, then to every sink.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(s.fn, e)
	}

	if !e.Type.GoalNamespace() {
		return
	}
	for _, sink := range sinks {
		if err := sink.Append(e); err != nil {
			log.Printf("[bus] sink append failed for %s: %v", e.Type, err)
		}
	}
}

// deliver invokes one subscriber, containing panics.
func deliver(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[bus] subscriber panicked on %s: %v", e.Type, r)
		}
	}()
	fn(e)
}
