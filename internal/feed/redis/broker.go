// Package redis is the change-feed broker over Redis pub/sub: one channel
// per table, filters evaluated subscriber-side. Pub/sub gives at-most-once
// per connection; combined with reconnecting subscribers the engine treats
// the feed as unreliable-at-least-once and reconciles by re-fetching.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/xgaming627/chatter-nexus/internal/feed"
	"github.com/xgaming627/chatter-nexus/internal/logger"
)

const channelPrefix = "feed:"

type Broker struct {
	cli *redis.Client

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

func New(ctx context.Context, url string) (*Broker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("feed redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("feed redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("feed redis ping: %w", err)
	}
	return &Broker{cli: cli, subs: make(map[*subscription]struct{})}, nil
}

func (b *Broker) Publish(ctx context.Context, ev feed.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("feed publish marshal: %w", err)
	}
	if err := b.cli.Publish(ctx, channelPrefix+ev.Table, payload).Err(); err != nil {
		return fmt.Errorf("feed publish %s: %w", ev.Table, err)
	}
	return nil
}

type subscription struct {
	broker *Broker
	pubsub *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		if err := s.pubsub.Close(); err != nil {
			logger.Errorf("feed subscription close: %v", err)
		}
		<-s.done
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
	})
}

func (b *Broker) Subscribe(ctx context.Context, f feed.Filter, h feed.Handler) (feed.Subscription, error) {
	channel := channelPrefix + f.Table
	if f.Table == "" {
		channel = channelPrefix + "*"
	}
	var pubsub *redis.PubSub
	if f.Table == "" {
		pubsub = b.cli.PSubscribe(ctx, channel)
	} else {
		pubsub = b.cli.Subscribe(ctx, channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("feed subscribe %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{broker: b, pubsub: pubsub, cancel: cancel, done: make(chan struct{})}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(sub.done)
		msgCh := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var ev feed.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Errorf("feed event unmarshal channel=%s: %v", msg.Channel, err)
					continue
				}
				if f.Matches(ev) {
					h(ev)
				}
			}
		}
	}()
	return sub, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	open := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		open = append(open, s)
	}
	b.mu.Unlock()
	for _, s := range open {
		s.Close()
	}
	return b.cli.Close()
}
