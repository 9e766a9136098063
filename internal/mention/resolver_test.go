package mention

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgaming627/chatter-nexus/internal/model"
)

type fakeLookup struct {
	participants []model.UserPublic
}

func (f *fakeLookup) GetParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	ids := make([]string, len(f.participants))
	for i, p := range f.participants {
		ids[i] = p.ID
	}
	return ids, nil
}

func (f *fakeLookup) GetByIDs(ctx context.Context, ids []string) ([]model.UserPublic, error) {
	return f.participants, nil
}

type recordingNotifier struct {
	notified []string
}

func (n *recordingNotifier) NotifyMention(ctx context.Context, userID string, msg *model.Message, by *model.UserPublic) {
	n.notified = append(n.notified, userID)
}

func TestExtract(t *testing.T) {
	assert.Nil(t, Extract("no mentions here"))
	assert.Equal(t, []string{"alice"}, Extract("hey @alice look"))
	assert.Equal(t, []string{"alice", "bob.smith"}, Extract("@alice ping @bob.smith and @alice again"))
	assert.Equal(t, []string{"under_score", "dash-name"}, Extract("@under_score @dash-name"))
}

func TestResolveMatchesParticipantsOnly(t *testing.T) {
	lookup := &fakeLookup{participants: []model.UserPublic{
		{ID: "u1", Username: "Alice"},
		{ID: "u2", Username: "bob"},
	}}
	r := &Resolver{lookup: lookup}

	msg := &model.Message{ConversationID: "c1", SenderID: "u2", Content: "@alice @charlie hello"}
	resolved, err := r.Resolve(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	// case-insensitive match, outsider @charlie dropped
	assert.Equal(t, "u1", resolved[0].ID)
}

func TestResolveSkipsSelfMention(t *testing.T) {
	lookup := &fakeLookup{participants: []model.UserPublic{
		{ID: "u1", Username: "alice"},
	}}
	r := &Resolver{lookup: lookup}

	msg := &model.Message{ConversationID: "c1", SenderID: "u1", Content: "talking about @alice (myself)"}
	resolved, err := r.Resolve(context.Background(), msg)
	require.NoError(t, err)
	assert.Empty(t, resolved)
}

func TestDispatchNotifiesEachTarget(t *testing.T) {
	lookup := &fakeLookup{participants: []model.UserPublic{
		{ID: "u1", Username: "alice"},
		{ID: "u2", Username: "bob"},
		{ID: "u3", Username: "carol"},
	}}
	n := &recordingNotifier{}
	r := &Resolver{lookup: lookup, notifier: n}

	sender := &model.UserPublic{ID: "u3", Username: "carol"}
	msg := &model.Message{ConversationID: "c1", SenderID: "u3", Content: "@alice @bob meeting now"}
	r.Dispatch(context.Background(), msg, sender)

	assert.ElementsMatch(t, []string{"u1", "u2"}, n.notified)
}
