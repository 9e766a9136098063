package callsession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgaming627/chatter-nexus/internal/clock"
	"github.com/xgaming627/chatter-nexus/internal/model"
)

type fakeIssuer struct {
	err   error
	calls int
}

func (f *fakeIssuer) Issue(ctx context.Context, roomName, participantName string) (*Credential, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Credential{Token: "tok-" + participantName, ServerURL: "wss://media.example"}, nil
}

type fakeSystem struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeSystem) PostSystem(ctx context.Context, conversationID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, content)
	return nil
}

func (f *fakeSystem) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeSink struct {
	states    []State
	creds     []Credential
	rosters   []map[string]model.ParticipantState
	announces []string
	notices   []string
}

func (f *fakeSink) SessionStateChanged(s State) { f.states = append(f.states, s) }

func (f *fakeSink) CredentialReady(c Credential, room string) {
	f.creds = append(f.creds, c)
}
func (f *fakeSink) RosterChanged(p map[string]model.ParticipantState) {
	f.rosters = append(f.rosters, p)
}
func (f *fakeSink) ScreenShareAnnounce(id string, sharing bool) {
	tag := id + ":off"
	if sharing {
		tag = id + ":on"
	}
	f.announces = append(f.announces, tag)
}
func (f *fakeSink) Notice(text string) { f.notices = append(f.notices, text) }

func newController(issuer CredentialIssuer) (*Controller, *fakeSystem, *fakeSink, *clock.Fake) {
	system := &fakeSystem{}
	sink := &fakeSink{}
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewController(issuer, system, sink, clk), system, sink, clk
}

func startActive(t *testing.T, c *Controller, isGroup bool) {
	t.Helper()
	require.NoError(t, c.Start(context.Background(), "room1", "conv1", isGroup, "me", "Alice", true))
	c.Connected()
	require.Equal(t, StateActive, c.State())
}

func TestStartIssuesCredentialAndConnects(t *testing.T) {
	issuer := &fakeIssuer{}
	c, system, sink, _ := newController(issuer)

	require.NoError(t, c.Start(context.Background(), "room1", "conv1", false, "me", "Alice", true))

	assert.Equal(t, []State{StateRequestingCredential, StateConnecting}, sink.states)
	require.Len(t, sink.creds, 1)
	assert.Equal(t, "tok-Alice", sink.creds[0].Token)
	assert.Equal(t, 1, system.count(), "call-started message")
}

func TestCredentialFailureEndsSession(t *testing.T) {
	issuer := &fakeIssuer{err: errors.New("issuer down")}
	c, system, sink, _ := newController(issuer)

	err := c.Start(context.Background(), "room1", "conv1", false, "me", "Alice", true)
	require.Error(t, err)

	assert.Equal(t, StateEnded, c.State())
	assert.NotEmpty(t, sink.notices)
	assert.Equal(t, 0, system.count(), "no messages for a session that never connected")
}

func TestTwoPartyAutoEnd(t *testing.T) {
	c, system, _, clk := newController(&fakeIssuer{})
	startActive(t, c, false)

	c.HandleRoster(context.Background(), RosterEvent{Type: RosterJoin, RoomName: "room1", ParticipantID: "peer"})
	clk.Advance(90 * time.Second)
	c.HandleRoster(context.Background(), RosterEvent{Type: RosterLeave, RoomName: "room1", ParticipantID: "peer"})

	assert.Equal(t, StateEnded, c.State())
	// call-started + call-ended with duration
	require.Equal(t, 2, system.count())
	assert.Contains(t, system.messages[1], "1m30s")
}

func TestGroupCallSurvivesDropToOne(t *testing.T) {
	c, _, _, _ := newController(&fakeIssuer{})
	startActive(t, c, true)

	c.HandleRoster(context.Background(), RosterEvent{Type: RosterJoin, RoomName: "room1", ParticipantID: "peer"})
	c.HandleRoster(context.Background(), RosterEvent{Type: RosterLeave, RoomName: "room1", ParticipantID: "peer"})

	assert.Equal(t, StateActive, c.State())
}

func TestAutoEndNeedsPriorSecondParticipant(t *testing.T) {
	c, _, _, _ := newController(&fakeIssuer{})
	startActive(t, c, false)

	// A leave from someone who never joined must not end a solo room that
	// never held two participants.
	c.HandleRoster(context.Background(), RosterEvent{Type: RosterLeave, RoomName: "room1", ParticipantID: "ghost"})
	assert.Equal(t, StateActive, c.State())
}

func TestEndIsIdempotentSingleSystemMessage(t *testing.T) {
	c, system, _, _ := newController(&fakeIssuer{})
	startActive(t, c, false)

	c.End(context.Background())
	c.End(context.Background())
	c.End(context.Background())

	assert.Equal(t, StateEnded, c.State())
	assert.Equal(t, 2, system.count(), "started + exactly one ended")
}

func TestEndBeforeActiveSkipsEndMessage(t *testing.T) {
	c, system, _, _ := newController(&fakeIssuer{})
	require.NoError(t, c.Start(context.Background(), "room1", "conv1", false, "me", "Alice", true))

	c.End(context.Background())
	assert.Equal(t, 1, system.count(), "started only; never reached active")
}

func TestScreenShareAnnounceDedup(t *testing.T) {
	c, _, sink, _ := newController(&fakeIssuer{})
	startActive(t, c, true)

	sharing := model.ParticipantState{IsScreenSharing: true}
	c.HandleRoster(context.Background(), RosterEvent{Type: RosterJoin, RoomName: "room1", ParticipantID: "peer", State: sharing})
	c.HandleRoster(context.Background(), RosterEvent{Type: RosterUpdate, RoomName: "room1", ParticipantID: "peer", State: sharing})
	c.HandleRoster(context.Background(), RosterEvent{Type: RosterUpdate, RoomName: "room1", ParticipantID: "peer", State: sharing})
	c.HandleRoster(context.Background(), RosterEvent{Type: RosterUpdate, RoomName: "room1", ParticipantID: "peer"})

	assert.Equal(t, []string{"peer:on", "peer:off"}, sink.announces)
}

func TestLocalTogglesMirrorIntoRoster(t *testing.T) {
	c, _, sink, _ := newController(&fakeIssuer{})
	startActive(t, c, false)

	st := c.SetMuted(true)
	assert.True(t, st.IsMuted)
	st = c.SetCameraOff(true)
	assert.True(t, st.IsMuted)
	assert.True(t, st.IsCameraOff)

	last := sink.rosters[len(sink.rosters)-1]
	assert.True(t, last["me"].IsMuted)
	assert.True(t, last["me"].IsCameraOff)
}

func TestRosterEventsForOtherRoomIgnored(t *testing.T) {
	c, _, _, _ := newController(&fakeIssuer{})
	startActive(t, c, false)

	c.HandleRoster(context.Background(), RosterEvent{Type: RosterJoin, RoomName: "other", ParticipantID: "peer"})
	c.HandleRoster(context.Background(), RosterEvent{Type: RosterLeave, RoomName: "other", ParticipantID: "peer"})
	assert.Equal(t, StateActive, c.State())
}
