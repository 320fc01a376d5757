package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrSubscriberExists   = errors.New("subscriber id already exists")
	ErrSubscriberNotFound = errors.New("subscriber id not found")
	ErrBusClosed          = errors.New("bus is closed")
)

// DefaultBuffer is the per-subscriber channel size used when none is given.
const DefaultBuffer = 64

// SubscriberStats counts deliveries to one subscriber.
type SubscriberStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Stats is a snapshot of bus counters.
type Stats struct {
	Published   uint64                     `json:"published"`
	Subscribers map[string]SubscriberStats `json:"subscribers"`
}

type subscriber struct {
	ch      chan Event
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus delivers each published event to every subscriber without blocking.
// A subscriber whose buffer is full misses the event; delivered events keep
// publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool

	// pubMu serializes Publish so concurrent publishers cannot interleave
	// an event between subscribers in different orders.
	pubMu     sync.Mutex
	published atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers id and returns its receive channel.
// The channel is closed by Unsubscribe or Close.
func (b *Bus) Subscribe(id string, buffer int) (<-chan Event, error) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subs[id]; exists {
		return nil, ErrSubscriberExists
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	b.subs[id] = s
	return s.ch, nil
}

// Unsubscribe removes id and closes its channel.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	s, exists := b.subs[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subs, id)
	close(s.ch)
	return nil
}

// Publish offers e to every subscriber. It never blocks and is a no-op
// after Close.
func (b *Bus) Publish(e Event) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)
	for _, s := range b.subs {
		select {
		case s.ch <- e:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

// Pump publishes everything received on src until src closes or ctx ends.
// onEvent, if set, runs after each publish.
func (b *Bus) Pump(ctx context.Context, src <-chan Event, onEvent func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-src:
			if !ok {
				return
			}
			b.Publish(e)
			if onEvent != nil {
				onEvent(e)
			}
		}
	}
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := Stats{Published: b.published.Load(), Subscribers: make(map[string]SubscriberStats, len(b.subs))}
	for id, s := range b.subs {
		out.Subscribers[id] = SubscriberStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}
	}
	return out
}

// Close closes every subscriber channel. Later calls return ErrBusClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
	return nil
}
