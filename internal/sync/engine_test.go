package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgaming627/chatter-nexus/internal/feed"
	"github.com/xgaming627/chatter-nexus/internal/feed/memory"
	"github.com/xgaming627/chatter-nexus/internal/model"
	"github.com/xgaming627/chatter-nexus/internal/repository"
)

type fakeStore struct {
	mu       stdsync.Mutex
	views    []model.ConversationView
	messages map[string][]model.Message // conv id -> newest-first window
	profiles map[string]model.UserPublic
	listErr  error
}

func (f *fakeStore) ListForUser(ctx context.Context, userID string, limit int) ([]model.ConversationView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.ConversationView, len(f.views))
	copy(out, f.views)
	return out, nil
}

func (f *fakeStore) GetView(ctx context.Context, id string) (*model.ConversationView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.views {
		if v.ID == id {
			v := v
			return &v, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) Window(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Message, len(f.messages[conversationID]))
	copy(out, f.messages[conversationID])
	return out, nil
}

func (f *fakeStore) GetLastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.messages[conversationID]
	if len(w) == 0 {
		return nil, nil
	}
	m := w[0]
	return &m, nil
}

func (f *fakeStore) GetByIDs(ctx context.Context, ids []string) ([]model.UserPublic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.UserPublic, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeHide struct{ hidden map[string]bool }

func (f *fakeHide) IsHidden(userID, messageID string) bool { return f.hidden[messageID] }

type captureSink struct {
	mu      stdsync.Mutex
	convs   [][]model.ConversationView
	msgs    chan []model.Message
	notices []string
}

func newCaptureSink() *captureSink {
	return &captureSink{msgs: make(chan []model.Message, 16)}
}

func (s *captureSink) ConversationsUpdated(views []model.ConversationView) {
	s.mu.Lock()
	s.convs = append(s.convs, views)
	s.mu.Unlock()
}

func (s *captureSink) MessagesUpdated(conversationID string, msgs []model.Message) {
	s.msgs <- msgs
}

func (s *captureSink) Notice(text string) {
	s.mu.Lock()
	s.notices = append(s.notices, text)
	s.mu.Unlock()
}

func (s *captureSink) lastConvs(t *testing.T) []model.ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.convs)
	return s.convs[len(s.convs)-1]
}

func (s *captureSink) waitMsgs(t *testing.T) []model.Message {
	select {
	case m := <-s.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message snapshot arrived")
		return nil
	}
}

func directView(id string, participants ...string) model.ConversationView {
	return model.ConversationView{
		Conversation: model.Conversation{ID: id, IsGroup: false},
		Participants: participants,
	}
}

func TestRefreshDeduplicatesDirectConversations(t *testing.T) {
	store := &fakeStore{
		views: []model.ConversationView{
			directView("c-new", "u1", "u2"),
			directView("c-old", "u2", "u1"), // same pair, older
			directView("c-other", "u1", "u3"),
		},
		messages: map[string][]model.Message{},
		profiles: map[string]model.UserPublic{},
	}
	sink := newCaptureSink()
	cache := NewConversationCache("u1", store, store, store, sink)

	cache.Refresh(context.Background())

	got := sink.lastConvs(t)
	require.Len(t, got, 2)
	assert.Equal(t, "c-new", got[0].ID)
	assert.Equal(t, "c-other", got[1].ID)
}

func TestRefreshKeepsGroupsWithSameParticipants(t *testing.T) {
	g1 := directView("g1", "u1", "u2")
	g1.IsGroup = true
	g2 := directView("g2", "u1", "u2")
	g2.IsGroup = true
	store := &fakeStore{
		views:    []model.ConversationView{g1, g2},
		messages: map[string][]model.Message{},
		profiles: map[string]model.UserPublic{},
	}
	sink := newCaptureSink()
	cache := NewConversationCache("u1", store, store, store, sink)

	cache.Refresh(context.Background())
	assert.Len(t, sink.lastConvs(t), 2)
}

func TestRefreshErrorKeepsPreviousSnapshot(t *testing.T) {
	store := &fakeStore{
		views:    []model.ConversationView{directView("c1", "u1", "u2")},
		messages: map[string][]model.Message{},
		profiles: map[string]model.UserPublic{},
	}
	sink := newCaptureSink()
	cache := NewConversationCache("u1", store, store, store, sink)

	cache.Refresh(context.Background())
	require.Len(t, cache.Snapshot(), 1)

	store.mu.Lock()
	store.listErr = errors.New("db down")
	store.mu.Unlock()
	cache.Refresh(context.Background())

	assert.Len(t, cache.Snapshot(), 1, "stale snapshot beats no snapshot")
	assert.NotEmpty(t, sink.notices)
}

func TestRefreshEnrichesProfilesAndLastMessage(t *testing.T) {
	store := &fakeStore{
		views: []model.ConversationView{directView("c1", "u1", "u2")},
		messages: map[string][]model.Message{
			"c1": {{ID: "m2", ConversationID: "c1", SenderID: "u2", Content: "latest"}},
		},
		profiles: map[string]model.UserPublic{
			"u1": {ID: "u1", Username: "alice"},
			"u2": {ID: "u2", Username: "bob"},
		},
	}
	sink := newCaptureSink()
	cache := NewConversationCache("u1", store, store, store, sink)

	cache.Refresh(context.Background())

	got := sink.lastConvs(t)
	require.Len(t, got, 1)
	assert.Len(t, got[0].ParticipantsInfo, 2)
	require.NotNil(t, got[0].LastMessage)
	assert.Equal(t, "latest", got[0].LastMessage.Content)
}

func TestEnrichCapsProfileFetchForLargeGroups(t *testing.T) {
	members := make([]string, 15)
	profiles := make(map[string]model.UserPublic, 15)
	for i := range members {
		id := fmt.Sprintf("u%02d", i)
		members[i] = id
		profiles[id] = model.UserPublic{ID: id, Username: id}
	}
	g := directView("g1", members...)
	g.IsGroup = true
	store := &fakeStore{
		views:    []model.ConversationView{g},
		messages: map[string][]model.Message{},
		profiles: profiles,
	}
	sink := newCaptureSink()
	cache := NewConversationCache("u00", store, store, store, sink)

	cache.Refresh(context.Background())

	got := sink.lastConvs(t)
	require.Len(t, got, 1)
	assert.Len(t, got[0].ParticipantsInfo, maxProfileFetch)
}

func TestMessageWindowChronologicalAndFiltered(t *testing.T) {
	store := &fakeStore{
		views: []model.ConversationView{directView("c1", "u1", "u2")},
		messages: map[string][]model.Message{
			"c1": {
				{ID: "m3", ConversationID: "c1", SenderID: "u2", Content: "third"},
				{ID: "m2", ConversationID: "c1", SenderID: "u1", Content: "second"},
				{ID: "m1", ConversationID: "c1", SenderID: model.SystemSenderID, Content: "first"},
			},
		},
		profiles: map[string]model.UserPublic{
			"u1": {ID: "u1", Username: "alice"},
			"u2": {ID: "u2", Username: "bob"},
		},
	}
	sink := newCaptureSink()
	hide := &fakeHide{hidden: map[string]bool{"m2": true}}
	broker := memory.New()
	cache := NewMessageCache("u1", store, store, hide, broker, sink)

	require.NoError(t, cache.Select(context.Background(), "c1"))

	got := sink.waitMsgs(t)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID, "chronological order")
	assert.Equal(t, "m3", got[1].ID)
	assert.Nil(t, got[0].Sender, "system sender gets no profile join")
	require.NotNil(t, got[1].Sender)
	assert.Equal(t, "bob", got[1].Sender.Username)
}

func TestFeedEventTriggersRefetch(t *testing.T) {
	store := &fakeStore{
		views:    []model.ConversationView{directView("c1", "u1", "u2")},
		messages: map[string][]model.Message{"c1": {{ID: "m1", ConversationID: "c1", SenderID: "u2"}}},
		profiles: map[string]model.UserPublic{"u2": {ID: "u2", Username: "bob"}},
	}
	sink := newCaptureSink()
	broker := memory.New()
	cache := NewMessageCache("u1", store, store, nil, broker, sink)

	require.NoError(t, cache.Select(context.Background(), "c1"))
	sink.waitMsgs(t) // initial snapshot

	newMsg := model.Message{ID: "m2", ConversationID: "c1", SenderID: "u2"}
	store.mu.Lock()
	store.messages["c1"] = []model.Message{newMsg, {ID: "m1", ConversationID: "c1", SenderID: "u2"}}
	store.mu.Unlock()

	require.NoError(t, broker.Publish(context.Background(), feed.Event{
		Table: repository.TableMessages,
		Type:  feed.EventInsert,
		New:   feed.MarshalRow(newMsg),
	}))

	got := sink.waitMsgs(t)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[1].ID, "snapshot re-fetched, not patched")
}

func TestSelectSwitchesScope(t *testing.T) {
	store := &fakeStore{
		views: []model.ConversationView{directView("c1", "u1", "u2"), directView("c2", "u1", "u3")},
		messages: map[string][]model.Message{
			"c1": {{ID: "a1", ConversationID: "c1", SenderID: "u2"}},
			"c2": {{ID: "b1", ConversationID: "c2", SenderID: "u3"}},
		},
		profiles: map[string]model.UserPublic{},
	}
	sink := newCaptureSink()
	broker := memory.New()
	cache := NewMessageCache("u1", store, store, nil, broker, sink)

	require.NoError(t, cache.Select(context.Background(), "c1"))
	sink.waitMsgs(t)
	require.NoError(t, cache.Select(context.Background(), "c2"))
	got := sink.waitMsgs(t)
	require.Len(t, got, 1)
	assert.Equal(t, "b1", got[0].ID)

	// An event on the abandoned conversation must not produce a snapshot:
	// its subscription was torn down on re-select.
	require.NoError(t, broker.Publish(context.Background(), feed.Event{
		Table: repository.TableMessages,
		Type:  feed.EventInsert,
		New:   feed.MarshalRow(model.Message{ID: "a2", ConversationID: "c1"}),
	}))
	select {
	case got := <-sink.msgs:
		t.Fatalf("unexpected snapshot after teardown: %v", got)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, "c2", cache.Scope())
}

func TestEngineStartAndConversationFeed(t *testing.T) {
	store := &fakeStore{
		views:    []model.ConversationView{directView("c1", "u1", "u2")},
		messages: map[string][]model.Message{},
		profiles: map[string]model.UserPublic{},
	}
	sink := newCaptureSink()
	broker := memory.New()
	eng := NewEngine("u1", broker, store, store, store, nil, sink)

	require.NoError(t, eng.Start(context.Background()))
	require.Len(t, sink.lastConvs(t), 1)

	store.mu.Lock()
	store.views = append(store.views, directView("c2", "u1", "u3"))
	store.mu.Unlock()

	require.NoError(t, broker.Publish(context.Background(), feed.Event{
		Table: repository.TableConversations,
		Type:  feed.EventInsert,
		New:   feed.MarshalRow(model.Conversation{ID: "c2"}),
	}))

	require.Eventually(t, func() bool {
		return len(sink.lastConvs(t)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	eng.Stop()
}
