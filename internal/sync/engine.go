package sync

import (
	"context"

	"github.com/xgaming627/chatter-nexus/internal/feed"
	"github.com/xgaming627/chatter-nexus/internal/logger"
	"github.com/xgaming627/chatter-nexus/internal/repository"
)

// Engine is one connected client's live view: the conversation list plus the
// selected conversation's message window, each reconciled on feed events.
type Engine struct {
	userID        string
	broker        feed.Broker
	Conversations *ConversationCache
	Messages      *MessageCache

	convSub feed.Subscription
}

func NewEngine(userID string, broker feed.Broker, convs ConversationSource, messages MessageSource, profiles ProfileSource, hidden HideChecker, sink Sink) *Engine {
	return &Engine{
		userID:        userID,
		broker:        broker,
		Conversations: NewConversationCache(userID, convs, messages, profiles, sink),
		Messages:      NewMessageCache(userID, messages, profiles, hidden, broker, sink),
	}
}

// Start pushes the initial conversation snapshot and installs the
// conversation-table subscription. Conversation rows carry no participant
// column, so the filter is table-wide; refreshing on an unrelated event is
// wasted work but never wrong, since the re-fetch only returns the user's
// own conversations.
func (e *Engine) Start(ctx context.Context) error {
	sub, err := e.broker.Subscribe(ctx, feed.Filter{
		Table: repository.TableConversations,
		Event: feed.EventAny,
	}, func(feed.Event) {
		go e.Conversations.Refresh(context.Background())
	})
	if err != nil {
		return err
	}
	e.convSub = sub

	e.Conversations.Refresh(ctx)
	return nil
}

// Select switches the message window to a conversation the user opened.
func (e *Engine) Select(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return e.Messages.Select(ctx, "")
	}
	if _, err := e.Conversations.Lookup(ctx, conversationID); err != nil {
		return err
	}
	return e.Messages.Select(ctx, conversationID)
}

// Stop tears down every subscription the engine installed.
func (e *Engine) Stop() {
	if e.convSub != nil {
		e.convSub.Close()
		e.convSub = nil
	}
	e.Messages.Close()
	logger.Infof("sync engine stopped user=%s", e.userID)
}
