package support

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgaming627/chatter-nexus/internal/clock"
	"github.com/xgaming627/chatter-nexus/internal/model"
	"github.com/xgaming627/chatter-nexus/internal/ratelimit"
	"github.com/xgaming627/chatter-nexus/internal/repository"
)

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.SupportSession
	messages map[string][]model.SupportMessage
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		sessions: make(map[string]*model.SupportSession),
		messages: make(map[string][]model.SupportMessage),
	}
}

func (s *memSessionStore) CreateSession(ctx context.Context, sess *model.SupportSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memSessionStore) GetSession(ctx context.Context, id string) (*model.SupportSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memSessionStore) FindOpenForUser(ctx context.Context, userID string) (*model.SupportSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Status != model.SupportStatusEnded {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memSessionStore) TransitionStatus(ctx context.Context, id string, from []model.SupportStatus, to model.SupportStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if sess.Status == f {
			sess.Status = to
			if to == model.SupportStatusEnded {
				now := time.Now().UTC()
				sess.EndedAt = &now
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *memSessionStore) SetRating(ctx context.Context, id string, rating int, feedback string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status != model.SupportStatusEnded || sess.Rating != nil {
		return false, nil
	}
	sess.Rating = &rating
	sess.Feedback = feedback
	return true, nil
}

func (s *memSessionStore) CreateMessage(ctx context.Context, m *model.SupportMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.SessionID] = append(s.messages[m.SessionID], *m)
	return nil
}

func (s *memSessionStore) SessionMessages(ctx context.Context, sessionID string, limit int) ([]model.SupportMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SupportMessage(nil), s.messages[sessionID]...), nil
}

type staticRoles struct{ moderators map[string]bool }

func (r staticRoles) IsModerator(ctx context.Context, userID string) (bool, error) {
	return r.moderators[userID], nil
}

type promptRecorder struct{ prompts []string }

func (p *promptRecorder) PromptRating(userID, sessionID string) {
	p.prompts = append(p.prompts, userID+"/"+sessionID)
}

func newEngine(t *testing.T) (*Engine, *memSessionStore, *promptRecorder, *clock.Fake) {
	t.Helper()
	store := newMemSessionStore()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	limiter := ratelimit.NewWindow(clk, 3, time.Minute)
	prompts := &promptRecorder{}
	roles := staticRoles{moderators: map[string]bool{"mod": true}}
	return NewEngine(store, roles, limiter, prompts, clk), store, prompts, clk
}

func TestOpenReusesLiveSession(t *testing.T) {
	e, _, _, _ := newEngine(t)

	first, err := e.Open(context.Background(), "u1")
	require.NoError(t, err)
	second, err := e.Open(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := e.Open(context.Background(), "u2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestOpenAfterEndedCreatesFresh(t *testing.T) {
	e, _, _, _ := newEngine(t)

	first, err := e.Open(context.Background(), "u1")
	require.NoError(t, err)
	require.NoError(t, e.ForceEnd(context.Background(), first.ID, "mod"))

	second, err := e.Open(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSendRateLimitedBySlidingWindow(t *testing.T) {
	e, _, _, clk := newEngine(t)
	s, err := e.Open(context.Background(), "u1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := e.Send(context.Background(), s.ID, "u1", model.SenderRoleUser, "hello")
		require.NoError(t, err)
	}
	_, err = e.Send(context.Background(), s.ID, "u1", model.SenderRoleUser, "one too many")
	assert.ErrorIs(t, err, ErrRateLimited)

	clk.Advance(61 * time.Second)
	_, err = e.Send(context.Background(), s.ID, "u1", model.SenderRoleUser, "after cooldown")
	assert.NoError(t, err)
}

func TestSystemMessagesBypassLimiter(t *testing.T) {
	e, store, _, _ := newEngine(t)
	s, err := e.Open(context.Background(), "u1")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := e.Send(context.Background(), s.ID, model.SystemSenderID, model.SenderRoleSystem, "notice")
		require.NoError(t, err)
	}
	msgs, _ := store.SessionMessages(context.Background(), s.ID, 100)
	assert.GreaterOrEqual(t, len(msgs), 10)
}

func TestSendToEndedSessionRejected(t *testing.T) {
	e, _, _, _ := newEngine(t)
	s, err := e.Open(context.Background(), "u1")
	require.NoError(t, err)
	require.NoError(t, e.ForceEnd(context.Background(), s.ID, "mod"))

	_, err = e.Send(context.Background(), s.ID, "u1", model.SenderRoleUser, "anyone there?")
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestEndLifecycleModeratorGated(t *testing.T) {
	e, store, _, _ := newEngine(t)
	s, err := e.Open(context.Background(), "u1")
	require.NoError(t, err)

	assert.ErrorIs(t, e.RequestEnd(context.Background(), s.ID, "u1"), ErrNotModerator)
	require.NoError(t, e.RequestEnd(context.Background(), s.ID, "mod"))

	got, _ := store.GetSession(context.Background(), s.ID)
	assert.Equal(t, model.SupportStatusRequestedEnd, got.Status)

	// request-end is not repeatable from requested_end
	assert.ErrorIs(t, e.RequestEnd(context.Background(), s.ID, "mod"), ErrSessionEnded)

	assert.ErrorIs(t, e.ConfirmEnd(context.Background(), s.ID, "someone-else"), ErrNotOwner)
	require.NoError(t, e.ConfirmEnd(context.Background(), s.ID, "u1"))

	got, _ = store.GetSession(context.Background(), s.ID)
	assert.Equal(t, model.SupportStatusEnded, got.Status)
	assert.NotNil(t, got.EndedAt)
}

func TestRatingPromptFiresOncePerSession(t *testing.T) {
	e, _, prompts, _ := newEngine(t)
	s, err := e.Open(context.Background(), "u1")
	require.NoError(t, err)

	require.NoError(t, e.ForceEnd(context.Background(), s.ID, "mod"))
	assert.ErrorIs(t, e.ForceEnd(context.Background(), s.ID, "mod"), ErrSessionEnded)

	assert.Equal(t, []string{"u1/" + s.ID}, prompts.prompts)
}

func TestRatingWriteOnce(t *testing.T) {
	e, store, _, _ := newEngine(t)
	s, err := e.Open(context.Background(), "u1")
	require.NoError(t, err)

	assert.ErrorIs(t, e.Rate(context.Background(), s.ID, "u1", 5, "great"), ErrNotEnded,
		"an active session cannot be rated yet")

	require.NoError(t, e.RequestEnd(context.Background(), s.ID, "mod"))
	assert.ErrorIs(t, e.Rate(context.Background(), s.ID, "u1", 5, "great"), ErrNotEnded)

	require.NoError(t, e.ForceEnd(context.Background(), s.ID, "mod"))

	assert.ErrorIs(t, e.Rate(context.Background(), s.ID, "u1", 0, ""), ErrInvalidRating)
	assert.ErrorIs(t, e.Rate(context.Background(), s.ID, "u1", 6, ""), ErrInvalidRating)
	assert.ErrorIs(t, e.Rate(context.Background(), s.ID, "intruder", 5, ""), ErrNotOwner)

	require.NoError(t, e.Rate(context.Background(), s.ID, "u1", 4, "helpful"))
	assert.ErrorIs(t, e.Rate(context.Background(), s.ID, "u1", 4, "helpful"), ErrAlreadyRated)

	got, _ := store.GetSession(context.Background(), s.ID)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 4, *got.Rating)
	assert.Equal(t, "helpful", got.Feedback)
}
