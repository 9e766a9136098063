package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/xgaming627/chatter-nexus/internal/logger"
	"github.com/xgaming627/chatter-nexus/internal/model"
)

const DefaultConversationLimit = 50

// maxProfileFetch caps how many participant profiles a single conversation
// pulls during enrichment; large groups render from a partial roster.
const maxProfileFetch = 10

// ConversationCache holds one user's conversation list. Refresh replaces the
// whole snapshot from the database; on fetch error the previous snapshot
// stays visible and the sink gets a notice instead of an empty list.
type ConversationCache struct {
	userID   string
	limit    int
	convs    ConversationSource
	messages MessageSource
	profiles ProfileSource
	sink     Sink

	mu       stdsync.Mutex
	snapshot []model.ConversationView
}

func NewConversationCache(userID string, convs ConversationSource, messages MessageSource, profiles ProfileSource, sink Sink) *ConversationCache {
	return &ConversationCache{
		userID:   userID,
		limit:    DefaultConversationLimit,
		convs:    convs,
		messages: messages,
		profiles: profiles,
		sink:     sink,
	}
}

// Refresh re-fetches the list, deduplicates direct conversations that share
// a participant set, enriches each view concurrently and publishes the
// merged snapshot.
func (c *ConversationCache) Refresh(ctx context.Context) {
	defer logger.DeferLogDuration("sync.ConversationCache.Refresh", time.Now())()

	views, err := c.convs.ListForUser(ctx, c.userID, c.limit)
	if err != nil {
		logger.Errorf("sync conversations refresh user=%s: %v", c.userID, err)
		c.sink.Notice("could not load conversations")
		return
	}

	views = dedupDirect(views)
	c.enrich(ctx, views)

	c.mu.Lock()
	c.snapshot = views
	c.mu.Unlock()
	c.sink.ConversationsUpdated(views)
}

// dedupDirect keeps the most recently updated direct conversation per
// participant set. The list arrives ordered by updated_at descending, so the
// first occurrence wins.
func dedupDirect(views []model.ConversationView) []model.ConversationView {
	seen := make(map[string]struct{}, len(views))
	out := views[:0]
	for _, v := range views {
		if v.IsGroup {
			out = append(out, v)
			continue
		}
		key := model.ParticipantKey(v.Participants)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// enrich fills ParticipantsInfo and LastMessage for every view. The two
// fetches per view run concurrently; an enrichment failure leaves the field
// empty rather than failing the refresh.
func (c *ConversationCache) enrich(ctx context.Context, views []model.ConversationView) {
	var wg stdsync.WaitGroup
	for i := range views {
		v := &views[i]
		wg.Add(2)
		go func() {
			defer wg.Done()
			ids := v.Participants
			if len(ids) > maxProfileFetch {
				ids = ids[:maxProfileFetch]
			}
			info, err := c.profiles.GetByIDs(ctx, ids)
			if err != nil {
				logger.Errorf("sync enrich profiles conv=%s: %v", v.ID, err)
				return
			}
			v.ParticipantsInfo = info
		}()
		go func() {
			defer wg.Done()
			last, err := c.messages.GetLastMessage(ctx, v.ID)
			if err != nil {
				logger.Errorf("sync enrich last message conv=%s: %v", v.ID, err)
				return
			}
			v.LastMessage = last
		}()
	}
	wg.Wait()
}

// Lookup resolves a conversation from the cached snapshot first and falls
// back to a direct fetch only on a miss.
func (c *ConversationCache) Lookup(ctx context.Context, conversationID string) (*model.ConversationView, error) {
	c.mu.Lock()
	for i := range c.snapshot {
		if c.snapshot[i].ID == conversationID {
			v := c.snapshot[i]
			c.mu.Unlock()
			return &v, nil
		}
	}
	c.mu.Unlock()

	fetched, err := c.convs.GetView(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	one := []model.ConversationView{*fetched}
	c.enrich(ctx, one)
	return &one[0], nil
}

// Snapshot returns the current cached list.
func (c *ConversationCache) Snapshot() []model.ConversationView {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ConversationView, len(c.snapshot))
	copy(out, c.snapshot)
	return out
}
