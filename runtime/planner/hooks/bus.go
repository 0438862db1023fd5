// Package hooks fans out session lifecycle events to subscribers such as the
// status stream.
package hooks

import (
	"context"
	"errors"
	"sort"
	"sync"
)

type (
	// Bus publishes events to registered subscribers.
	//
	// Delivery is synchronous in the publisher's goroutine and in
	// registration order. Unlike a fail-fast bus, every subscriber sees every
	// event: subscriber errors are collected and returned joined so a broken
	// sink cannot starve the others.
	Bus interface {
		Publish(ctx context.Context, event Event) error
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber handles published events.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a function to Subscriber.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription unregisters a subscriber when closed. Close is
	// idempotent.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu   sync.RWMutex
		next uint64
		subs map[*subscription]Subscriber
	}

	subscription struct {
		bus  *bus
		seq  uint64
		once sync.Once
	}
)

// NewBus returns an empty in-memory bus.
func NewBus() Bus {
	return &bus{subs: make(map[*subscription]Subscriber)}
}

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	keys := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		keys = append(keys, s)
	}
	subs := make(map[*subscription]Subscriber, len(keys))
	for _, k := range keys {
		subs[k] = b.subs[k]
	}
	b.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].seq < keys[j].seq })
	var errs []error
	for _, k := range keys {
		if err := subs[k].HandleEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	s := &subscription{bus: b, seq: b.next}
	b.subs[s] = sub
	return s, nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
	return nil
}
