package model

import "time"

// ModerationFlags are the per-user moderation capabilities. Moderators staff
// the support pool and may end support sessions; absence of a row means
// zero capabilities.
type ModerationFlags struct {
	UserID         string    `json:"user_id"`
	Moderator      bool      `json:"moderator"`
	ForceEndCalls  bool      `json:"force_end_calls"`
	DeleteMessages bool      `json:"delete_messages"`
	BanUsers       bool      `json:"ban_users"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Block is a directed user block. A blocked pair rejects message sends and
// call rings client-side, before any write is attempted.
type Block struct {
	BlockerID string    `json:"blocker_id"`
	BlockedID string    `json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}
