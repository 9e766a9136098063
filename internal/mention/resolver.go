package mention

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/xgaming627/chatter-nexus/internal/logger"
	"github.com/xgaming627/chatter-nexus/internal/model"
)

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.-]+)`)

// Notifier delivers a mention alert to one user. The push service
// implements this over web push subscriptions.
type Notifier interface {
	NotifyMention(ctx context.Context, userID string, msg *model.Message, mentionedBy *model.UserPublic)
}

type participantSource interface {
	GetParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.UserPublic, error)
}

// ParticipantLookup adapts the conversation and user repositories into the
// single lookup the resolver needs.
type ParticipantLookup struct {
	Conversations interface {
		GetParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	}
	Users interface {
		GetByIDs(ctx context.Context, ids []string) ([]model.UserPublic, error)
	}
}

func (l ParticipantLookup) GetParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	return l.Conversations.GetParticipantIDs(ctx, conversationID)
}

func (l ParticipantLookup) GetByIDs(ctx context.Context, ids []string) ([]model.UserPublic, error) {
	return l.Users.GetByIDs(ctx, ids)
}

// Resolver extracts @username tokens from message content and matches them
// against the conversation's participants. Names outside the conversation
// never resolve, so a mention cannot reach a stranger.
type Resolver struct {
	lookup   participantSource
	notifier Notifier
}

func NewResolver(lookup ParticipantLookup, notifier Notifier) *Resolver {
	return &Resolver{lookup: lookup, notifier: notifier}
}

// Extract returns the candidate usernames in content, lowercased, without
// duplicates, in first-occurrence order.
func Extract(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Resolve maps the message's mention tokens onto conversation participants.
// The sender never matches themselves. Unknown names are dropped silently.
func (r *Resolver) Resolve(ctx context.Context, msg *model.Message) ([]model.UserPublic, error) {
	defer logger.DeferLogDuration("mention.Resolve", time.Now())()

	names := Extract(msg.Content)
	if len(names) == 0 {
		return nil, nil
	}

	ids, err := r.lookup.GetParticipantIDs(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	participants, err := r.lookup.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]model.UserPublic, len(participants))
	for _, p := range participants {
		byName[strings.ToLower(p.Username)] = p
	}

	resolved := make([]model.UserPublic, 0, len(names))
	for _, name := range names {
		p, ok := byName[name]
		if !ok || p.ID == msg.SenderID {
			continue
		}
		resolved = append(resolved, p)
	}
	return resolved, nil
}

// Dispatch resolves mentions and notifies each target. Errors are logged,
// never surfaced: a failed mention alert must not fail the send.
func (r *Resolver) Dispatch(ctx context.Context, msg *model.Message, sender *model.UserPublic) {
	targets, err := r.Resolve(ctx, msg)
	if err != nil {
		logger.Errorf("mention.Dispatch resolve: %v", err)
		return
	}
	if r.notifier == nil {
		return
	}
	for _, t := range targets {
		r.notifier.NotifyMention(ctx, t.ID, msg, sender)
	}
}
