package engine

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/germanamz/stepwise/pkg/driver"
)

// Subscription receives driver events from an EventBus.
type Subscription struct {
	C <-chan driver.Event

	ch      chan driver.Event
	kinds   []driver.EventKind
	dropped atomic.Int64
}

// Dropped counts events this subscription missed because its buffer was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) wants(k driver.EventKind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, k)
}

// EventBus fans out driver events to every session watcher. It is safe for
// concurrent use.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewEventBus creates an EventBus ready for use.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscription with a channel buffer of bufSize. When
// kinds is non-empty only those event kinds are delivered. Callers read from
// sub.C and eventually call Unsubscribe.
func (b *EventBus) Subscribe(bufSize int, kinds ...driver.EventKind) *Subscription {
	ch := make(chan driver.Event, bufSize)
	sub := &Subscription{C: ch, ch: ch, kinds: kinds}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes the subscription and closes its channel. It is safe to
// call more than once.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers e to every interested subscriber. A subscriber whose
// buffer is full misses the event; the driver loop never waits on a reader.
func (b *EventBus) Publish(e driver.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !sub.wants(e.Kind) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Observer returns a driver.Observer that publishes to b.
func (b *EventBus) Observer() driver.Observer {
	return b.Publish
}
