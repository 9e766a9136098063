// Package memory is the in-process change-feed broker for -dev mode and
// tests: same contract as the redis broker, no external dependency.
package memory

import (
	"context"
	"sync"

	"github.com/xgaming627/chatter-nexus/internal/feed"
)

type Broker struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool
}

func New() *Broker {
	return &Broker{subs: make(map[*subscription]struct{})}
}

type subscription struct {
	broker  *Broker
	filter  feed.Filter
	handler feed.Handler
	once    sync.Once
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
	})
}

func (b *Broker) Subscribe(ctx context.Context, f feed.Filter, h feed.Handler) (feed.Subscription, error) {
	sub := &subscription{broker: b, filter: f, handler: h}
	b.mu.Lock()
	if !b.closed {
		b.subs[sub] = struct{}{}
	}
	b.mu.Unlock()
	return sub, nil
}

// Publish dispatches synchronously to every matching handler. Handlers that
// need to do I/O must hand off to their own goroutine.
func (b *Broker) Publish(ctx context.Context, ev feed.Event) error {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		if s.filter.Matches(ev) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.handler(ev)
	}
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[*subscription]struct{})
	b.mu.Unlock()
	return nil
}
