package callsignal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgaming627/chatter-nexus/internal/clock"
	"github.com/xgaming627/chatter-nexus/internal/feed"
	"github.com/xgaming627/chatter-nexus/internal/feed/memory"
	"github.com/xgaming627/chatter-nexus/internal/model"
	"github.com/xgaming627/chatter-nexus/internal/repository"
)

// memStore backs the channel with an in-memory notification table and
// publishes updates the way the pg repository does.
type memStore struct {
	mu     sync.Mutex
	calls  map[string]*model.CallNotification
	broker feed.Broker
}

func newMemStore(broker feed.Broker) *memStore {
	return &memStore{calls: make(map[string]*model.CallNotification), broker: broker}
}

func (s *memStore) Create(ctx context.Context, n *model.CallNotification) error {
	s.mu.Lock()
	cp := *n
	s.calls[n.ID] = &cp
	s.mu.Unlock()
	return s.broker.Publish(ctx, feed.Event{
		Table: repository.TableCallNotifications, Type: feed.EventInsert, New: feed.MarshalRow(n),
	})
}

func (s *memStore) GetByID(ctx context.Context, id string) (*model.CallNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.calls[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *memStore) ResolveFromRinging(ctx context.Context, id string, to model.CallStatus) (bool, error) {
	s.mu.Lock()
	n, ok := s.calls[id]
	if !ok || n.Status != model.CallStatusRinging {
		s.mu.Unlock()
		return false, nil
	}
	n.Status = to
	cp := *n
	s.mu.Unlock()
	return true, s.broker.Publish(ctx, feed.Event{
		Table: repository.TableCallNotifications, Type: feed.EventUpdate, New: feed.MarshalRow(cp),
	})
}

func (s *memStore) PendingForReceiver(ctx context.Context, receiverID string) ([]model.CallNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CallNotification
	for _, n := range s.calls {
		if n.ReceiverID == receiverID && n.Status == model.CallStatusRinging {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (s *memStore) status(id string) model.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id].Status
}

func setup(t *testing.T) (*Channel, *memStore, *clock.Fake, *memory.Broker) {
	t.Helper()
	broker := memory.New()
	store := newMemStore(broker)
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewChannel(store, broker, clk), store, clk, broker
}

func TestRingThenAccept(t *testing.T) {
	ch, store, clk, _ := setup(t)

	n, err := ch.Ring(context.Background(), "caller", "receiver", "conv1", true)
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusRinging, store.status(n.ID))

	ok, err := ch.Accept(context.Background(), n.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.CallStatusAccepted, store.status(n.ID))

	// Disarmed timer must not fire later.
	clk.Advance(2 * time.Minute)
	assert.Equal(t, model.CallStatusAccepted, store.status(n.ID))
}

func TestRingTimesOutAfterWindow(t *testing.T) {
	ch, store, clk, _ := setup(t)

	n, err := ch.Ring(context.Background(), "caller", "receiver", "conv1", false)
	require.NoError(t, err)

	clk.Advance(59 * time.Second)
	assert.Equal(t, model.CallStatusRinging, store.status(n.ID))

	clk.Advance(2 * time.Second)
	assert.Equal(t, model.CallStatusTimedOut, store.status(n.ID))

	// A late accept loses against the resolved row.
	ok, err := ch.Accept(context.Background(), n.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, model.CallStatusTimedOut, store.status(n.ID))
}

func TestDeclineBeatsTimeout(t *testing.T) {
	ch, store, clk, _ := setup(t)

	n, err := ch.Ring(context.Background(), "caller", "receiver", "conv1", false)
	require.NoError(t, err)

	ok, err := ch.Decline(context.Background(), n.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Advance(2 * time.Minute)
	assert.Equal(t, model.CallStatusDeclined, store.status(n.ID))
}

func TestWatchCallReportsResolution(t *testing.T) {
	ch, _, _, _ := setup(t)

	n, err := ch.Ring(context.Background(), "caller", "receiver", "conv1", false)
	require.NoError(t, err)

	var resolved []model.CallNotification
	sub, err := ch.WatchCall(context.Background(), n.ID, func(n model.CallNotification) {
		resolved = append(resolved, n)
	})
	require.NoError(t, err)
	defer sub.Close()

	_, err = ch.Accept(context.Background(), n.ID)
	require.NoError(t, err)

	require.Len(t, resolved, 1)
	assert.Equal(t, model.CallStatusAccepted, resolved[0].Status)
}

func TestListenPresentsAndRemoves(t *testing.T) {
	ch, _, _, _ := setup(t)

	var incoming, removed []string
	sub, err := ch.Listen(context.Background(), "receiver", func(n model.CallNotification) {
		incoming = append(incoming, n.ID)
	}, func(id string) {
		removed = append(removed, id)
	})
	require.NoError(t, err)
	defer sub.Close()

	n, err := ch.Ring(context.Background(), "caller", "receiver", "conv1", true)
	require.NoError(t, err)
	assert.Equal(t, []string{n.ID}, incoming)

	_, err = ch.Decline(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{n.ID}, removed)
}

func TestListenReplaysPendingRing(t *testing.T) {
	ch, store, clk, _ := setup(t)

	n, err := ch.Ring(context.Background(), "caller", "receiver", "conv1", false)
	require.NoError(t, err)

	clk.Advance(40 * time.Second)

	var incoming []string
	sub, err := ch.Listen(context.Background(), "receiver", func(n model.CallNotification) {
		incoming = append(incoming, n.ID)
	}, func(string) {})
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, []string{n.ID}, incoming)

	// Replay keeps the original deadline: only 20s of the window remain.
	clk.Advance(21 * time.Second)
	assert.Equal(t, model.CallStatusTimedOut, store.status(n.ID))
}

func TestRingToOtherReceiverNotPresented(t *testing.T) {
	ch, _, _, _ := setup(t)

	var incoming []string
	sub, err := ch.Listen(context.Background(), "receiver-a", func(n model.CallNotification) {
		incoming = append(incoming, n.ID)
	}, func(string) {})
	require.NoError(t, err)
	defer sub.Close()

	_, err = ch.Ring(context.Background(), "caller", "receiver-b", "conv1", false)
	require.NoError(t, err)
	assert.Empty(t, incoming)
}
