package model

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestReplySnapshotShortContentUntouched(t *testing.T) {
	assert.Equal(t, "hello", ReplySnapshot("hello"))
	exact := strings.Repeat("x", replySnapshotMax)
	assert.Equal(t, exact, ReplySnapshot(exact))
}

func TestReplySnapshotTruncatesLongContent(t *testing.T) {
	long := strings.Repeat("x", 200)
	snap := ReplySnapshot(long)
	assert.Len(t, snap, replySnapshotMax)
	assert.True(t, strings.HasSuffix(snap, "..."))
}

func TestReplySnapshotKeepsRuneBoundary(t *testing.T) {
	// A two-byte rune straddling the cut point must not be split.
	content := strings.Repeat("a", replySnapshotMax-4) + "éxxxx"
	snap := ReplySnapshot(content)
	assert.True(t, utf8.ValidString(snap), "snapshot must stay valid UTF-8: %q", snap)
	assert.True(t, strings.HasSuffix(snap, "..."))

	wide := strings.Repeat("é", 100)
	snap = ReplySnapshot(wide)
	assert.True(t, utf8.ValidString(snap))
	assert.LessOrEqual(t, len(snap), replySnapshotMax)
}

func TestContentMarkers(t *testing.T) {
	m := &Message{Content: FileContent("https://cdn.example/x.pdf")}
	assert.True(t, m.IsFile())
	assert.False(t, m.IsGIF())

	m = &Message{Content: GIFContent("https://cdn.example/x.gif")}
	assert.True(t, m.IsGIF())

	m = &Message{SenderID: SystemSenderID}
	assert.True(t, m.IsSystem())
}
