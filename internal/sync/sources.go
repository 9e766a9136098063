// Package sync keeps one connected client's view of its conversations and
// the selected conversation's messages consistent with the database. Change
// feed events only trigger a re-fetch; the fetched snapshot is authoritative
// and replaces cached state wholesale.
package sync

import (
	"context"

	"github.com/xgaming627/chatter-nexus/internal/model"
)

// ConversationSource is the slice of ConversationRepository the engine needs.
type ConversationSource interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]model.ConversationView, error)
	GetView(ctx context.Context, id string) (*model.ConversationView, error)
}

// MessageSource is the slice of MessageRepository the engine needs.
type MessageSource interface {
	Window(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	GetLastMessage(ctx context.Context, conversationID string) (*model.Message, error)
}

// ProfileSource resolves participant ids to public profiles in one batch.
type ProfileSource interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.UserPublic, error)
}

// HideChecker consults the device-local hide list at fetch-filter time.
type HideChecker interface {
	IsHidden(userID, messageID string) bool
}

// Sink receives reconciled snapshots. The ws client implements this by
// serializing them onto its send channel.
type Sink interface {
	ConversationsUpdated(views []model.ConversationView)
	MessagesUpdated(conversationID string, msgs []model.Message)
	Notice(text string)
}
