package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// SystemSenderID is the reserved sentinel sender for system-authored
// messages (call records, membership changes). Never a real user id.
const SystemSenderID = "system"

// replySnapshotMax bounds the reply-to content snapshot stored on a message.
const replySnapshotMax = 80

// Content markers. Content is immutable and may encode a file reference or
// a GIF besides plain text; flags are the only mutable fields.
const (
	fileContentPrefix = "file::"
	gifContentPrefix  = "gif::"
)

type Message struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	SenderID       string  `json:"sender_id"`
	Content        string  `json:"content"`
	ReplyToID      *string `json:"reply_to_id,omitempty"`
	// ReplyToContent is a truncated snapshot taken at send time; it does not
	// follow later deletion of the quoted message.
	ReplyToContent string      `json:"reply_to_content,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Read           bool        `json:"read"`
	Delivered      bool        `json:"delivered"`
	Deleted        bool        `json:"deleted"`
	DeletedBy      *string     `json:"deleted_by,omitempty"`
	Sender         *UserPublic `json:"sender,omitempty"`
}

func (m *Message) IsSystem() bool { return m.SenderID == SystemSenderID }

func (m *Message) IsFile() bool { return strings.HasPrefix(m.Content, fileContentPrefix) }

func (m *Message) IsGIF() bool { return strings.HasPrefix(m.Content, gifContentPrefix) }

// FileContent encodes a file reference into message content.
func FileContent(url string) string { return fileContentPrefix + url }

// GIFContent encodes a GIF reference into message content.
func GIFContent(url string) string { return gifContentPrefix + url }

// ReplySnapshot truncates quoted content for storage on the replying message.
// The cut lands on a rune boundary so the snapshot stays valid UTF-8.
func ReplySnapshot(content string) string {
	if len(content) <= replySnapshotMax {
		return content
	}
	cut := replySnapshotMax - 3
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}
