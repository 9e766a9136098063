package ws

import (
	"github.com/xgaming627/chatter-nexus/internal/model"
)

type EventType string

const (
	// client -> server
	EventNewMessage  EventType = "new_message"
	EventSelect      EventType = "select_conversation"
	EventTyping      EventType = "typing"
	EventMessageRead EventType = "message_read"
	EventDelete      EventType = "delete_message"
	EventHide        EventType = "hide_message"
	EventUnhide      EventType = "unhide_message"

	// server -> client
	EventConversations EventType = "conversations"
	EventMessages      EventType = "messages"
	EventUserOnline    EventType = "user_online"
	EventUserOffline   EventType = "user_offline"
	EventRatingPrompt  EventType = "rating_prompt"
	EventNotice        EventType = "notice"
	EventError         EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Content        string    `json:"content,omitempty"`
	ReplyToID      string    `json:"reply_to_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
}

// OutgoingMessage is what the server sends to the client. Payload uses
// typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ConversationsPayload carries the reconciled conversation list snapshot.
type ConversationsPayload struct {
	Conversations []model.ConversationView `json:"conversations"`
}

// MessagesPayload carries the reconciled message window for one
// conversation, chronological order.
type MessagesPayload struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
}

// TypingPayload is relayed while a user is typing.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// UserStatusPayload is broadcast for online/offline status.
type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// RatingPromptPayload asks the session owner to rate an ended support
// session. Sent at most once per session.
type RatingPromptPayload struct {
	SessionID string `json:"session_id"`
}

// ErrorPayload carries a machine-readable code next to the human text.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeRateLimited = "rate_limited"
	ErrCodeBlocked     = "blocked"
	ErrCodeForbidden   = "forbidden"
	ErrCodeInternal    = "internal"
	ErrCodeBadRequest  = "bad_request"
)
