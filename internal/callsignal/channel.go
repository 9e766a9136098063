// Package callsignal drives the ring/answer handshake over call
// notification rows. A notification is one-shot: exactly one transition out
// of ringing wins (accept, decline or timeout), every later attempt is a
// silent no-op against the conditional update.
package callsignal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xgaming627/chatter-nexus/internal/clock"
	"github.com/xgaming627/chatter-nexus/internal/feed"
	"github.com/xgaming627/chatter-nexus/internal/logger"
	"github.com/xgaming627/chatter-nexus/internal/model"
	"github.com/xgaming627/chatter-nexus/internal/repository"
)

// DefaultRingTimeout bounds how long a call may stay ringing. Both ends arm
// a timer: whichever fires first resolves the row, the other finds it inert.
const DefaultRingTimeout = 60 * time.Second

type CallStore interface {
	Create(ctx context.Context, n *model.CallNotification) error
	GetByID(ctx context.Context, id string) (*model.CallNotification, error)
	ResolveFromRinging(ctx context.Context, id string, to model.CallStatus) (bool, error)
	PendingForReceiver(ctx context.Context, receiverID string) ([]model.CallNotification, error)
}

type Channel struct {
	store   CallStore
	broker  feed.Broker
	clk     clock.Clock
	timeout time.Duration

	mu     sync.Mutex
	timers map[string]clock.Timer
}

func NewChannel(store CallStore, broker feed.Broker, clk clock.Clock) *Channel {
	return &Channel{
		store:   store,
		broker:  broker,
		clk:     clk,
		timeout: DefaultRingTimeout,
		timers:  make(map[string]clock.Timer),
	}
}

// SetTimeout overrides the ring window. Call before any Ring.
func (c *Channel) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Ring writes the ringing row and arms the caller-side timeout.
func (c *Channel) Ring(ctx context.Context, callerID, receiverID, conversationID string, isVideo bool) (*model.CallNotification, error) {
	defer logger.DeferLogDuration("callsignal.Ring", time.Now())()

	n := &model.CallNotification{
		ID:             uuid.NewString(),
		CallerID:       callerID,
		ReceiverID:     receiverID,
		ConversationID: conversationID,
		RoomName:       "call-" + conversationID + "-" + uuid.NewString()[:8],
		IsVideoCall:    isVideo,
		Status:         model.CallStatusRinging,
		CreatedAt:      c.clk.Now().UTC(),
	}
	if err := c.store.Create(ctx, n); err != nil {
		return nil, err
	}
	c.armTimeout(n.ID)
	return n, nil
}

// GetCall fetches one notification row.
func (c *Channel) GetCall(ctx context.Context, callID string) (*model.CallNotification, error) {
	return c.store.GetByID(ctx, callID)
}

// Accept resolves the notification from the receiver. False means the ring
// had already been resolved (raced a timeout or a decline elsewhere).
func (c *Channel) Accept(ctx context.Context, callID string) (bool, error) {
	c.disarm(callID)
	return c.store.ResolveFromRinging(ctx, callID, model.CallStatusAccepted)
}

func (c *Channel) Decline(ctx context.Context, callID string) (bool, error) {
	c.disarm(callID)
	return c.store.ResolveFromRinging(ctx, callID, model.CallStatusDeclined)
}

func (c *Channel) armTimeout(callID string) {
	c.armTimeoutFor(callID, c.timeout)
}

// armTimeoutFor arms the one-shot resolution timer. Replayed rings pass the
// remaining portion of the window so a reconnect never extends a ring past
// its original deadline.
func (c *Channel) armTimeoutFor(callID string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	t := c.clk.AfterFunc(d, func() {
		c.mu.Lock()
		delete(c.timers, callID)
		c.mu.Unlock()

		resolved, err := c.store.ResolveFromRinging(context.Background(), callID, model.CallStatusTimedOut)
		if err != nil {
			logger.Errorf("callsignal timeout call=%s: %v", callID, err)
			return
		}
		if resolved {
			logger.Infof("call %s timed out after %s", callID, c.timeout)
		}
	})
	c.mu.Lock()
	if old, ok := c.timers[callID]; ok {
		old.Stop()
	}
	c.timers[callID] = t
	c.mu.Unlock()
}

func (c *Channel) disarm(callID string) {
	c.mu.Lock()
	if t, ok := c.timers[callID]; ok {
		t.Stop()
		delete(c.timers, callID)
	}
	c.mu.Unlock()
}

// WatchCall observes status changes of one outgoing call. The callback
// fires once the row leaves ringing; the caller-side timer is disarmed so it
// cannot fire after an observed resolution.
func (c *Channel) WatchCall(ctx context.Context, callID string, onResolved func(model.CallNotification)) (feed.Subscription, error) {
	return c.broker.Subscribe(ctx, feed.Filter{
		Table: repository.TableCallNotifications,
		Event: feed.EventUpdate,
		Eq:    map[string]string{"id": callID},
	}, func(ev feed.Event) {
		var n model.CallNotification
		if err := json.Unmarshal(ev.New, &n); err != nil {
			logger.Errorf("callsignal watch decode: %v", err)
			return
		}
		if n.Status == model.CallStatusRinging {
			return
		}
		c.disarm(callID)
		onResolved(n)
	})
}

// Listen drives the receiver's incoming-call presentation: a ringing insert
// presents the call, any non-ringing update removes it. Rings already
// pending when the listener attaches are replayed, so a reconnect cannot
// miss an active ring. Each presented ring arms a receiver-side timeout.
func (c *Channel) Listen(ctx context.Context, receiverID string, onIncoming func(model.CallNotification), onRemoved func(callID string)) (feed.Subscription, error) {
	sub, err := c.broker.Subscribe(ctx, feed.Filter{
		Table: repository.TableCallNotifications,
		Event: feed.EventAny,
		Eq:    map[string]string{"receiver_id": receiverID},
	}, func(ev feed.Event) {
		var n model.CallNotification
		if err := json.Unmarshal(ev.New, &n); err != nil {
			logger.Errorf("callsignal listen decode: %v", err)
			return
		}
		if n.Status == model.CallStatusRinging {
			c.armTimeout(n.ID)
			onIncoming(n)
			return
		}
		c.disarm(n.ID)
		onRemoved(n.ID)
	})
	if err != nil {
		return nil, err
	}

	pending, err := c.store.PendingForReceiver(ctx, receiverID)
	if err != nil {
		sub.Close()
		return nil, err
	}
	for _, n := range pending {
		c.armTimeoutFor(n.ID, c.timeout-c.clk.Now().Sub(n.CreatedAt))
		onIncoming(n)
	}
	return sub, nil
}
