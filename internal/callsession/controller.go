// Package callsession runs one participant's media session: credential
// request, roster tracking, local control state and teardown. State moves
// strictly forward (idle → requesting → connecting → active → ended); End is
// idempotent and everything after it is ignored.
package callsession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xgaming627/chatter-nexus/internal/clock"
	"github.com/xgaming627/chatter-nexus/internal/logger"
	"github.com/xgaming627/chatter-nexus/internal/model"
)

type State string

const (
	StateIdle                 State = "idle"
	StateRequestingCredential State = "requesting_credential"
	StateConnecting           State = "connecting"
	StateActive               State = "active"
	StateEnded                State = "ended"
)

// SystemMessenger appends a system-authored message to a conversation.
type SystemMessenger interface {
	PostSystem(ctx context.Context, conversationID, content string) error
}

// Sink receives session-side effects for delivery to the participant's
// client.
type Sink interface {
	SessionStateChanged(state State)
	CredentialReady(cred Credential, roomName string)
	RosterChanged(participants map[string]model.ParticipantState)
	ScreenShareAnnounce(participantID string, sharing bool)
	Notice(text string)
}

// RosterEventType is what the media provider reports about a room.
type RosterEventType string

const (
	RosterJoin   RosterEventType = "join"
	RosterLeave  RosterEventType = "leave"
	RosterUpdate RosterEventType = "update"
)

type RosterEvent struct {
	Type          RosterEventType        `json:"type"`
	RoomName      string                 `json:"room_name"`
	ParticipantID string                 `json:"participant_id"`
	State         model.ParticipantState `json:"state"`
}

// Controller is one participant's session state machine.
type Controller struct {
	issuer CredentialIssuer
	system SystemMessenger
	sink   Sink
	clk    clock.Clock

	mu             sync.Mutex
	state          State
	roomName       string
	conversationID string
	isGroup        bool
	localID        string
	localName      string
	local          model.ParticipantState
	remote         map[string]model.ParticipantState
	peak           int
	lastShare      map[string]bool
	startedAt      time.Time
	reachedActive  bool
}

func NewController(issuer CredentialIssuer, system SystemMessenger, sink Sink, clk clock.Clock) *Controller {
	return &Controller{
		issuer:    issuer,
		system:    system,
		sink:      sink,
		clk:       clk,
		state:     StateIdle,
		remote:    make(map[string]model.ParticipantState),
		lastShare: make(map[string]bool),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.state = s
	c.sink.SessionStateChanged(s)
}

// Start joins the session: request a credential, hand it to the client,
// move to connecting. A failed issuance ends the session immediately; the
// state machine never parks in requesting.
func (c *Controller) Start(ctx context.Context, roomName, conversationID string, isGroup bool, localID, localName string, announce bool) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("callsession: start from %s", c.state)
	}
	c.roomName = roomName
	c.conversationID = conversationID
	c.isGroup = isGroup
	c.localID = localID
	c.localName = localName
	c.setState(StateRequestingCredential)
	c.mu.Unlock()

	cred, err := c.issuer.Issue(ctx, roomName, localName)
	if err != nil {
		logger.Errorf("callsession credential room=%s: %v", roomName, err)
		c.sink.Notice("could not join the call")
		c.End(ctx)
		return err
	}

	c.mu.Lock()
	if c.state != StateRequestingCredential {
		c.mu.Unlock()
		return nil
	}
	c.setState(StateConnecting)
	c.mu.Unlock()

	c.sink.CredentialReady(*cred, roomName)

	if announce && c.system != nil {
		if err := c.system.PostSystem(ctx, conversationID, "📞 Call started"); err != nil {
			logger.Errorf("callsession start message conv=%s: %v", conversationID, err)
		}
	}
	return nil
}

// Connected is the provider's confirmation that the local participant is in
// the room.
func (c *Controller) Connected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return
	}
	c.reachedActive = true
	c.startedAt = c.clk.Now()
	c.peak = 1
	c.setState(StateActive)
}

// HandleRoster applies one provider roster event. Leave events in a
// non-group room end the session for the remainder once the roster drops
// back to one after having held two or more.
func (c *Controller) HandleRoster(ctx context.Context, ev RosterEvent) {
	c.mu.Lock()
	if c.state != StateActive || ev.RoomName != c.roomName || ev.ParticipantID == c.localID {
		c.mu.Unlock()
		return
	}

	switch ev.Type {
	case RosterJoin, RosterUpdate:
		c.remote[ev.ParticipantID] = ev.State
		if n := len(c.remote) + 1; n > c.peak {
			c.peak = n
		}
		c.announceShareLocked(ev.ParticipantID, ev.State.IsScreenSharing)
	case RosterLeave:
		delete(c.remote, ev.ParticipantID)
		c.announceShareLocked(ev.ParticipantID, false)
		delete(c.lastShare, ev.ParticipantID)
		if !c.isGroup && c.peak >= 2 && len(c.remote) == 0 {
			c.mu.Unlock()
			c.End(ctx)
			return
		}
	}
	roster := c.rosterLocked()
	c.mu.Unlock()
	c.sink.RosterChanged(roster)
}

// announceShareLocked emits the enter/leave announce only when the sharing
// flag actually flips; repeated roster updates stay silent.
func (c *Controller) announceShareLocked(participantID string, sharing bool) {
	if c.lastShare[participantID] == sharing {
		return
	}
	c.lastShare[participantID] = sharing
	c.sink.ScreenShareAnnounce(participantID, sharing)
}

func (c *Controller) rosterLocked() map[string]model.ParticipantState {
	out := make(map[string]model.ParticipantState, len(c.remote)+1)
	for id, st := range c.remote {
		out[id] = st
	}
	out[c.localID] = c.local
	return out
}

// Local control toggles. The returned state is what the client mirrors to
// the media provider.

func (c *Controller) SetMuted(muted bool) model.ParticipantState {
	return c.updateLocal(func(s *model.ParticipantState) { s.IsMuted = muted })
}

func (c *Controller) SetCameraOff(off bool) model.ParticipantState {
	return c.updateLocal(func(s *model.ParticipantState) { s.IsCameraOff = off })
}

func (c *Controller) SetScreenSharing(sharing bool) model.ParticipantState {
	st := c.updateLocal(func(s *model.ParticipantState) { s.IsScreenSharing = sharing })
	c.mu.Lock()
	c.announceShareLocked(c.localID, sharing)
	c.mu.Unlock()
	return st
}

func (c *Controller) updateLocal(apply func(*model.ParticipantState)) model.ParticipantState {
	c.mu.Lock()
	apply(&c.local)
	st := c.local
	roster := c.rosterLocked()
	c.mu.Unlock()
	c.sink.RosterChanged(roster)
	return st
}

// End tears the session down. Safe to call from any state and any number of
// times; the first call wins. The call-ended system message is appended
// exactly once, and only for sessions that actually went active.
func (c *Controller) End(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	wasActive := c.reachedActive
	startedAt := c.startedAt
	conversationID := c.conversationID
	c.setState(StateEnded)
	c.mu.Unlock()

	if wasActive && c.system != nil {
		dur := c.clk.Now().Sub(startedAt).Round(time.Second)
		content := fmt.Sprintf("📞 Call ended • %s", dur)
		if err := c.system.PostSystem(ctx, conversationID, content); err != nil {
			logger.Errorf("callsession end message conv=%s: %v", conversationID, err)
		}
	}
}
