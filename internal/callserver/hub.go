// Package callserver is the call service: the signaling WebSocket (ring,
// accept, decline), the per-user media session controllers and the media
// provider webhook that feeds them roster events.
package callserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xgaming627/chatter-nexus/internal/callsession"
	"github.com/xgaming627/chatter-nexus/internal/callsignal"
	"github.com/xgaming627/chatter-nexus/internal/clock"
	"github.com/xgaming627/chatter-nexus/internal/logger"
	"github.com/xgaming627/chatter-nexus/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 65536
)

// ValidateFunc resolves a session triple to a user id.
type ValidateFunc func(ctx context.Context, sessionID, timestamp, signature, path string) (userID string, err error)

// Hub is the signaling hub: one active connection per user, one session
// controller per user at most.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*callConn
	byRoom   map[string]map[*callConn]struct{}
	validate ValidateFunc

	signal *callsignal.Channel
	issuer callsession.CredentialIssuer
	system callsession.SystemMessenger
	clk    clock.Clock
}

func NewHub(validate ValidateFunc, signal *callsignal.Channel, issuer callsession.CredentialIssuer, system callsession.SystemMessenger, clk clock.Clock) *Hub {
	return &Hub{
		clients:  make(map[string]*callConn),
		byRoom:   make(map[string]map[*callConn]struct{}),
		validate: validate,
		signal:   signal,
		issuer:   issuer,
		system:   system,
		clk:      clk,
	}
}

// ValidateViaHTTP checks the session triple against the API service.
func ValidateViaHTTP(apiURL string, client *http.Client) ValidateFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context, sessionID, timestamp, signature, path string) (string, error) {
		q := url.Values{}
		q.Set("session_id", sessionID)
		q.Set("timestamp", timestamp)
		q.Set("signature", signature)
		q.Set("path", path)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/api/call/validate?"+q.Encode(), nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", errUnauthorized
		}
		var out struct {
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.UserID == "" {
			return "", errUnauthorized
		}
		return out.UserID, nil
	}
}

var errUnauthorized = &authErr{msg: "unauthorized"}

type authErr struct{ msg string }

func (e *authErr) Error() string { return e.msg }

type callConn struct {
	userID  string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	done    chan struct{}
	closeMu sync.Mutex

	mu        sync.Mutex
	session   *callsession.Controller
	room      string
	listenSub interface{ Close() }
	watchSub  interface{ Close() }
}

// ServeWS handles the /call/ws upgrade. Query: session_id, timestamp,
// signature.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	timestamp := r.URL.Query().Get("timestamp")
	signature := r.URL.Query().Get("signature")
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/call/ws"
	}
	if sessionID == "" || timestamp == "" || signature == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := h.validate(r.Context(), sessionID, timestamp, signature, path)
	if err != nil {
		logger.Errorf("call ws validate failed: %v", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("call ws upgrade: %v", err)
		return
	}

	c := &callConn{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, 64),
		hub:    h,
		done:   make(chan struct{}),
	}
	h.register(c)
	logger.Infof("call ws connected user_id=%s", userID)
	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *callConn) {
	h.mu.Lock()
	if old, ok := h.clients[c.userID]; ok {
		h.mu.Unlock()
		old.close()
		h.mu.Lock()
	}
	h.clients[c.userID] = c
	h.mu.Unlock()

	// Incoming-call presentation: feed-driven, replays pending rings.
	sub, err := h.signal.Listen(context.Background(), c.userID,
		func(n model.CallNotification) {
			c.sendMsg("incoming_call", n)
		},
		func(callID string) {
			c.sendMsg("call_removed", map[string]string{"call_id": callID})
		})
	if err != nil {
		logger.Errorf("call listen user=%s: %v", c.userID, err)
		return
	}
	c.mu.Lock()
	c.listenSub = sub
	c.mu.Unlock()
}

func (h *Hub) unregister(c *callConn) {
	h.mu.Lock()
	if h.clients[c.userID] == c {
		delete(h.clients, c.userID)
		logger.Infof("call ws disconnected user_id=%s", c.userID)
	}
	h.mu.Unlock()

	c.mu.Lock()
	session := c.session
	c.session = nil
	if c.listenSub != nil {
		c.listenSub.Close()
		c.listenSub = nil
	}
	if c.watchSub != nil {
		c.watchSub.Close()
		c.watchSub = nil
	}
	c.mu.Unlock()
	h.leaveRoom(c)

	// A dropped connection ends its media session; the peer's auto-end
	// fires when the provider reports the leave.
	if session != nil {
		session.End(context.Background())
	}
	c.close()
}

func (h *Hub) joinRoom(c *callConn, room string) {
	h.mu.Lock()
	if h.byRoom[room] == nil {
		h.byRoom[room] = make(map[*callConn]struct{})
	}
	h.byRoom[room][c] = struct{}{}
	h.mu.Unlock()
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
}

func (h *Hub) leaveRoom(c *callConn) {
	c.mu.Lock()
	room := c.room
	c.room = ""
	c.mu.Unlock()
	if room == "" {
		return
	}
	h.mu.Lock()
	if set, ok := h.byRoom[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byRoom, room)
		}
	}
	h.mu.Unlock()
}

func (c *callConn) close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	select {
	case <-c.done:
		return
	default:
		close(c.done)
		c.conn.Close()
	}
}

func (c *callConn) sendMsg(typ string, payload any) {
	select {
	case <-c.done:
		return
	default:
		b, _ := json.Marshal(map[string]any{"type": typ, "payload": payload})
		select {
		case c.send <- b:
		default:
		}
	}
}

// callsession.Sink implementation.

func (c *callConn) SessionStateChanged(state callsession.State) {
	c.sendMsg("session_state", map[string]string{"state": string(state)})
}

func (c *callConn) CredentialReady(cred callsession.Credential, roomName string) {
	c.sendMsg("credential", map[string]string{
		"token":      cred.Token,
		"server_url": cred.ServerURL,
		"room_name":  roomName,
	})
}

func (c *callConn) RosterChanged(participants map[string]model.ParticipantState) {
	c.sendMsg("roster", participants)
}

func (c *callConn) ScreenShareAnnounce(participantID string, sharing bool) {
	c.sendMsg("screenshare", map[string]any{"participant_id": participantID, "sharing": sharing})
}

func (c *callConn) Notice(text string) {
	c.sendMsg("notice", text)
}

func (c *callConn) readPump() {
	defer func() {
		c.hub.unregister(c)
	}()
	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendMsg("error", map[string]string{"error": "invalid json"})
			logger.Errorf("call invalid json user_id=%s", c.userID)
			continue
		}
		c.hub.handleMessage(c, msg.Type, msg.Payload)
	}
}

func (c *callConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case b, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) handleMessage(c *callConn, typ string, payload json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch typ {
	case "start_call":
		var body struct {
			PeerID         string `json:"peer_id"`
			ConversationID string `json:"conversation_id"`
			IsVideo        bool   `json:"is_video"`
			DisplayName    string `json:"display_name"`
		}
		if json.Unmarshal(payload, &body) != nil || body.PeerID == "" || body.ConversationID == "" {
			c.sendMsg("error", map[string]string{"error": "peer_id and conversation_id required"})
			return
		}
		if body.PeerID == c.userID {
			c.sendMsg("error", map[string]string{"error": "cannot call yourself"})
			return
		}
		n, err := h.signal.Ring(ctx, c.userID, body.PeerID, body.ConversationID, body.IsVideo)
		if err != nil {
			logger.Errorf("call ring from=%s to=%s: %v", c.userID, body.PeerID, err)
			c.sendMsg("error", map[string]string{"error": "failed to start call"})
			return
		}
		c.sendMsg("call_started", n)
		h.watchOutgoing(c, n, body.DisplayName)
		logger.Infof("call started call_id=%s from=%s to=%s", n.ID, c.userID, body.PeerID)

	case "accept_call":
		var body struct {
			CallID      string `json:"call_id"`
			DisplayName string `json:"display_name"`
		}
		if json.Unmarshal(payload, &body) != nil || body.CallID == "" {
			c.sendMsg("error", map[string]string{"error": "call_id required"})
			return
		}
		n, err := h.signal.GetCall(ctx, body.CallID)
		if err != nil || n.ReceiverID != c.userID {
			c.sendMsg("error", map[string]string{"error": "invalid call"})
			return
		}
		ok, err := h.signal.Accept(ctx, body.CallID)
		if err != nil {
			logger.Errorf("call accept %s: %v", body.CallID, err)
			c.sendMsg("error", map[string]string{"error": "failed to accept"})
			return
		}
		if !ok {
			c.sendMsg("error", map[string]string{"error": "call no longer ringing"})
			return
		}
		logger.Infof("call accepted call_id=%s by=%s", body.CallID, c.userID)
		// The receiver joins without a second call-started system message.
		h.startSession(c, n, body.DisplayName, false)

	case "decline_call":
		var body struct {
			CallID string `json:"call_id"`
		}
		if json.Unmarshal(payload, &body) != nil || body.CallID == "" {
			return
		}
		if _, err := h.signal.Decline(ctx, body.CallID); err != nil {
			logger.Errorf("call decline %s: %v", body.CallID, err)
			return
		}
		logger.Infof("call declined call_id=%s by=%s", body.CallID, c.userID)

	case "connected":
		if s := c.currentSession(); s != nil {
			s.Connected()
		}

	case "hangup":
		c.mu.Lock()
		session := c.session
		c.session = nil
		c.mu.Unlock()
		h.leaveRoom(c)
		if session != nil {
			session.End(ctx)
			logger.Infof("call hangup by=%s", c.userID)
		}

	case "toggle_mute":
		var body struct {
			Muted bool `json:"muted"`
		}
		json.Unmarshal(payload, &body)
		if s := c.currentSession(); s != nil {
			s.SetMuted(body.Muted)
		}

	case "toggle_camera":
		var body struct {
			Off bool `json:"off"`
		}
		json.Unmarshal(payload, &body)
		if s := c.currentSession(); s != nil {
			s.SetCameraOff(body.Off)
		}

	case "toggle_screenshare":
		var body struct {
			Sharing bool `json:"sharing"`
		}
		json.Unmarshal(payload, &body)
		if s := c.currentSession(); s != nil {
			s.SetScreenSharing(body.Sharing)
		}

	default:
		logger.Errorf("call unknown message type=%s user_id=%s", typ, c.userID)
		c.sendMsg("error", map[string]string{"error": "unknown type: " + typ})
	}
}

func (c *callConn) currentSession() *callsession.Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// watchOutgoing tracks the caller's ring: an accept starts the caller's
// media session, anything else just reports the outcome.
func (h *Hub) watchOutgoing(c *callConn, n *model.CallNotification, displayName string) {
	sub, err := h.signal.WatchCall(context.Background(), n.ID, func(resolved model.CallNotification) {
		c.mu.Lock()
		if c.watchSub != nil {
			c.watchSub.Close()
			c.watchSub = nil
		}
		c.mu.Unlock()

		c.sendMsg("call_resolved", resolved)
		if resolved.Status == model.CallStatusAccepted {
			h.startSession(c, &resolved, displayName, true)
		}
	})
	if err != nil {
		logger.Errorf("call watch %s: %v", n.ID, err)
		return
	}
	c.mu.Lock()
	c.watchSub = sub
	c.mu.Unlock()
}

// startSession spins up the participant's session controller for the call's
// room. announce marks the party responsible for the call-started system
// message (the caller).
func (h *Hub) startSession(c *callConn, n *model.CallNotification, displayName string, announce bool) {
	if displayName == "" {
		displayName = c.userID
	}
	session := callsession.NewController(h.issuer, h.system, c, h.clk)

	c.mu.Lock()
	if c.session != nil {
		old := c.session
		c.mu.Unlock()
		old.End(context.Background())
		c.mu.Lock()
	}
	c.session = session
	c.mu.Unlock()

	h.joinRoom(c, n.RoomName)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := session.Start(ctx, n.RoomName, n.ConversationID, false, c.userID, displayName, announce); err != nil {
		c.mu.Lock()
		if c.session == session {
			c.session = nil
		}
		c.mu.Unlock()
		h.leaveRoom(c)
	}
}

// HandleProviderWebhook ingests roster events from the media provider and
// routes them to every session attached to the room. Mounted behind
// InternalOnly.
func (h *Hub) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	var events []callsession.RosterEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	for _, ev := range events {
		h.mu.RLock()
		conns := make([]*callConn, 0, 2)
		for conn := range h.byRoom[ev.RoomName] {
			conns = append(conns, conn)
		}
		h.mu.RUnlock()
		for _, conn := range conns {
			if s := conn.currentSession(); s != nil {
				s.HandleRoster(r.Context(), ev)
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
