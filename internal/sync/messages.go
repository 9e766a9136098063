package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/xgaming627/chatter-nexus/internal/feed"
	"github.com/xgaming627/chatter-nexus/internal/logger"
	"github.com/xgaming627/chatter-nexus/internal/model"
	"github.com/xgaming627/chatter-nexus/internal/repository"
)

const DefaultMessageWindow = 100

// MessageCache tracks the selected conversation's newest window of messages.
// Every feed event scoped to the conversation triggers a full re-fetch; a
// generation counter makes sure only the last resolved fetch is applied, so
// a slow stale fetch can never overwrite a newer snapshot.
type MessageCache struct {
	userID   string
	window   int
	messages MessageSource
	profiles ProfileSource
	hidden   HideChecker
	broker   feed.Broker
	sink     Sink

	mu       stdsync.Mutex
	scope    string // selected conversation id, "" = none
	fetchSeq uint64 // issued at fetch start
	applied  uint64 // seq of the last applied snapshot
	sub      feed.Subscription
	snapshot []model.Message
}

func NewMessageCache(userID string, messages MessageSource, profiles ProfileSource, hidden HideChecker, broker feed.Broker, sink Sink) *MessageCache {
	return &MessageCache{
		userID:   userID,
		window:   DefaultMessageWindow,
		messages: messages,
		profiles: profiles,
		hidden:   hidden,
		broker:   broker,
		sink:     sink,
	}
}

// Select switches the cache to a conversation: the previous feed
// subscription is torn down before the new one is installed, then an initial
// snapshot is fetched. Selecting "" just clears state.
func (c *MessageCache) Select(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
	c.scope = conversationID
	c.fetchSeq++
	c.applied = c.fetchSeq
	c.snapshot = nil
	seq := c.fetchSeq
	c.mu.Unlock()

	if conversationID == "" {
		return nil
	}

	sub, err := c.broker.Subscribe(ctx, feed.Filter{
		Table: repository.TableMessages,
		Event: feed.EventAny,
		Eq:    map[string]string{"conversation_id": conversationID},
	}, func(feed.Event) {
		// Event payloads are never applied directly; re-fetch and let the
		// snapshot win.
		go c.refetch(context.Background(), conversationID)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.scope != conversationID || c.fetchSeq != seq {
		// Another Select raced us; drop the subscription we just made.
		c.mu.Unlock()
		sub.Close()
		return nil
	}
	c.sub = sub
	c.mu.Unlock()

	c.refetch(ctx, conversationID)
	return nil
}

// Reload re-fetches the current scope. Used after local-only changes (hide
// list edits) that produce no feed event.
func (c *MessageCache) Reload(ctx context.Context) {
	c.mu.Lock()
	scope := c.scope
	c.mu.Unlock()
	if scope == "" {
		return
	}
	c.refetch(ctx, scope)
}

// Close tears down the active subscription.
func (c *MessageCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
	c.scope = ""
	c.snapshot = nil
}

// Scope returns the currently selected conversation id.
func (c *MessageCache) Scope() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope
}

// refetch loads the window, joins sender profiles and filters the device
// hide list, then applies the result only if the scope is still selected
// and no newer fetch has already been applied.
func (c *MessageCache) refetch(ctx context.Context, conversationID string) {
	defer logger.DeferLogDuration("sync.MessageCache.refetch", time.Now())()

	c.mu.Lock()
	if c.scope != conversationID {
		c.mu.Unlock()
		return
	}
	c.fetchSeq++
	seq := c.fetchSeq
	c.mu.Unlock()

	msgs, err := c.messages.Window(ctx, conversationID, c.window)
	if err != nil {
		logger.Errorf("sync messages refetch conv=%s: %v", conversationID, err)
		c.sink.Notice("could not load messages")
		return
	}

	// Window returns newest-first; presentation order is chronological.
	reverse(msgs)
	msgs = c.filterHidden(msgs)
	c.joinSenders(ctx, msgs)

	c.mu.Lock()
	if c.scope != conversationID || seq < c.applied {
		c.mu.Unlock()
		return
	}
	c.applied = seq
	c.snapshot = msgs
	c.mu.Unlock()

	c.sink.MessagesUpdated(conversationID, msgs)
}

func (c *MessageCache) filterHidden(msgs []model.Message) []model.Message {
	if c.hidden == nil {
		return msgs
	}
	out := msgs[:0]
	for _, m := range msgs {
		if c.hidden.IsHidden(c.userID, m.ID) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (c *MessageCache) joinSenders(ctx context.Context, msgs []model.Message) {
	ids := make([]string, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.SenderID == model.SystemSenderID {
			continue
		}
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		ids = append(ids, m.SenderID)
	}
	if len(ids) == 0 {
		return
	}
	profiles, err := c.profiles.GetByIDs(ctx, ids)
	if err != nil {
		logger.Errorf("sync messages profile join: %v", err)
		return
	}
	byID := make(map[string]model.UserPublic, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}
	for i := range msgs {
		if p, ok := byID[msgs[i].SenderID]; ok {
			sender := p
			msgs[i].Sender = &sender
		}
	}
}

func reverse(msgs []model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// Snapshot returns the current message window.
func (c *MessageCache) Snapshot() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Message, len(c.snapshot))
	copy(out, c.snapshot)
	return out
}
