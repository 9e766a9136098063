package model

import "time"

type SupportStatus string

const (
	SupportStatusActive       SupportStatus = "active"
	SupportStatusRequestedEnd SupportStatus = "requested_end"
	SupportStatusEnded        SupportStatus = "ended"
)

// SupportSession is one user ↔ moderator-pool live support session.
// Rating and feedback are settable exactly once, only after ended.
type SupportSession struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Status    SupportStatus `json:"status"`
	Rating    *int          `json:"rating,omitempty"`
	Feedback  string        `json:"feedback,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

type SenderRole string

const (
	SenderRoleUser      SenderRole = "user"
	SenderRoleModerator SenderRole = "moderator"
	SenderRoleSystem    SenderRole = "system"
)

// SupportMessage mirrors Message but carries an explicit sender role
// instead of a sender-roles lookup.
type SupportMessage struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"session_id"`
	SenderID   string      `json:"sender_id"`
	SenderRole SenderRole  `json:"sender_role"`
	Content    string      `json:"content"`
	Timestamp  time.Time   `json:"timestamp"`
	Read       bool        `json:"read"`
	Sender     *UserPublic `json:"sender,omitempty"`
}
