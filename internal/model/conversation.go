package model

import (
	"sort"
	"strings"
	"time"
)

type Conversation struct {
	ID        string    `json:"id"`
	IsGroup   bool      `json:"is_group"`
	Name      string    `json:"name,omitempty"`
	PhotoURL  string    `json:"photo_url,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is bumped on every message; drives list ordering.
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationView is the enriched read model published by the sync engine:
// participant ids, denormalized profile snapshots and the newest message.
type ConversationView struct {
	Conversation
	Participants     []string     `json:"participants"`
	ParticipantsInfo []UserPublic `json:"participants_info,omitempty"`
	LastMessage      *Message     `json:"last_message,omitempty"`
}

// ParticipantKey returns the sorted-participant key used to collapse
// duplicate conversations. Order of ids is irrelevant by definition.
func ParticipantKey(ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}
