package ws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xgaming627/chatter-nexus/internal/feed"
	"github.com/xgaming627/chatter-nexus/internal/hidelist"
	"github.com/xgaming627/chatter-nexus/internal/logger"
	"github.com/xgaming627/chatter-nexus/internal/mention"
	"github.com/xgaming627/chatter-nexus/internal/model"
	"github.com/xgaming627/chatter-nexus/internal/ratelimit"
	"github.com/xgaming627/chatter-nexus/internal/repository"
	syncengine "github.com/xgaming627/chatter-nexus/internal/sync"
)

// PushNotifier sends push notifications. nil disables push.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int

	convRepo   *repository.ConversationRepository
	msgRepo    *repository.MessageRepository
	userRepo   *repository.UserRepository
	modRepo    *repository.ModerationRepository
	hidden     *hidelist.Store
	mentions   *mention.Resolver
	pushClient PushNotifier
	debounce   *ratelimit.Debounce
	broker     feed.Broker

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(
	convRepo *repository.ConversationRepository,
	msgRepo *repository.MessageRepository,
	userRepo *repository.UserRepository,
	modRepo *repository.ModerationRepository,
	hidden *hidelist.Store,
	mentions *mention.Resolver,
	debounce *ratelimit.Debounce,
	broker feed.Broker,
	maxConns int,
	pushClient PushNotifier,
) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		convRepo:   convRepo,
		msgRepo:    msgRepo,
		userRepo:   userRepo,
		modRepo:    modRepo,
		hidden:     hidden,
		mentions:   mentions,
		debounce:   debounce,
		broker:     broker,
		pushClient: pushClient,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Each connection gets its own live view.
	c.engine = syncengine.NewEngine(c.userID, h.broker, h.convRepo, h.msgRepo, h.userRepo, h.hidden, c)
	if err := c.engine.Start(ctx); err != nil {
		logger.Errorf("ws start engine user=%s: %v", c.userID, err)
	}

	if err := h.userRepo.SetOnline(ctx, c.userID, true); err != nil {
		logger.Errorf("ws set online user=%s: %v", c.userID, err)
	}
	h.broadcastUserStatus(c.userID, true)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastClient {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.userRepo.SetOnline(ctx, c.userID, false); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.userID, err)
		}
		h.broadcastUserStatus(c.userID, false)
	}
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventNewMessage:
		h.handleNewMessage(ctx, c, msg)
	case EventSelect:
		h.handleSelect(ctx, c, msg)
	case EventTyping:
		h.handleTyping(ctx, c, msg)
	case EventMessageRead:
		h.handleMessageRead(ctx, c, msg)
	case EventDelete:
		h.handleDeleteMessage(ctx, c, msg)
	case EventHide:
		h.handleHide(ctx, c, msg, true)
	case EventUnhide:
		h.handleHide(ctx, c, msg, false)
	default:
		h.sendError(c, ErrCodeBadRequest, "unknown event type")
	}
}

func (h *Hub) handleNewMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleNewMessage", time.Now())()
	content := strings.TrimSpace(msg.Content)
	if msg.ConversationID == "" || content == "" {
		h.sendError(c, ErrCodeBadRequest, "conversation_id and content required")
		return
	}

	// Debounce before any I/O: a rejected send costs nothing.
	if !h.debounce.TrySend(c.userID) {
		h.sendError(c, ErrCodeRateLimited, "sending too fast")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conv, err := h.convRepo.GetByID(ctx, msg.ConversationID)
	if err != nil {
		h.sendError(c, ErrCodeBadRequest, "conversation not found")
		return
	}
	isMember, err := h.convRepo.IsParticipant(ctx, msg.ConversationID, c.userID)
	if err != nil {
		logger.Errorf("ws check participant conv=%s user=%s: %v", msg.ConversationID, c.userID, err)
		h.sendError(c, ErrCodeInternal, "internal error")
		return
	}
	if !isMember {
		h.sendError(c, ErrCodeForbidden, "not a participant")
		return
	}

	participantIDs, err := h.convRepo.GetParticipantIDs(ctx, msg.ConversationID)
	if err != nil {
		logger.Errorf("ws get participants conv=%s: %v", msg.ConversationID, err)
		h.sendError(c, ErrCodeInternal, "internal error")
		return
	}

	// Direct conversations honor blocks in both directions.
	if !conv.IsGroup {
		for _, pid := range participantIDs {
			if pid == c.userID {
				continue
			}
			blocked, err := h.modRepo.IsBlockedEither(ctx, c.userID, pid)
			if err != nil {
				logger.Errorf("ws block check %s<->%s: %v", c.userID, pid, err)
				h.sendError(c, ErrCodeInternal, "internal error")
				return
			}
			if blocked {
				h.sendError(c, ErrCodeBlocked, "messaging unavailable")
				return
			}
		}
	}

	now := time.Now().UTC()
	m := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: msg.ConversationID,
		SenderID:       c.userID,
		Content:        content,
		Timestamp:      now,
	}
	if msg.ReplyToID != "" {
		if quoted, err := h.msgRepo.GetByID(ctx, msg.ReplyToID); err == nil && quoted.ConversationID == msg.ConversationID {
			m.ReplyToID = &quoted.ID
			m.ReplyToContent = model.ReplySnapshot(quoted.Content)
		}
	}

	if err := h.msgRepo.Create(ctx, m); err != nil {
		logger.Errorf("ws save message conv=%s user=%s: %v", msg.ConversationID, c.userID, err)
		h.sendError(c, ErrCodeInternal, "failed to save message")
		return
	}

	// Bump the list indicator. The feed event from this write is what
	// refreshes everyone's conversation list.
	if err := h.convRepo.TouchUpdatedAt(ctx, msg.ConversationID, now); err != nil {
		logger.Errorf("ws touch conversation %s: %v", msg.ConversationID, err)
	}

	sender, err := h.userRepo.GetByID(ctx, c.userID)
	var senderPub *model.UserPublic
	if err != nil {
		logger.Errorf("ws get sender user=%s: %v", c.userID, err)
	} else {
		pub := sender.ToPublic()
		senderPub = &pub
	}

	if h.mentions != nil {
		go h.mentions.Dispatch(context.Background(), m, senderPub)
	}

	if h.pushClient != nil {
		senderName := "New message"
		if senderPub != nil {
			senderName = senderPub.Username
		}
		body := content
		if len(body) > 120 {
			body = body[:117] + "..."
		}
		data := map[string]string{"conversation_id": msg.ConversationID, "message_id": m.ID}
		for _, uid := range participantIDs {
			if uid != c.userID {
				uid := uid
				go h.pushClient.Notify(context.Background(), uid, senderName, body, data)
			}
		}
	}
}

func (h *Hub) handleSelect(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSelect", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if msg.ConversationID != "" {
		isMember, err := h.convRepo.IsParticipant(ctx, msg.ConversationID, c.userID)
		if err != nil {
			h.sendError(c, ErrCodeInternal, "internal error")
			return
		}
		if !isMember {
			h.sendError(c, ErrCodeForbidden, "not a participant")
			return
		}
	}
	if err := c.engine.Select(ctx, msg.ConversationID); err != nil {
		logger.Errorf("ws select conv=%s user=%s: %v", msg.ConversationID, c.userID, err)
		h.sendError(c, ErrCodeInternal, "failed to open conversation")
	}
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ConversationID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	participantIDs, err := h.convRepo.GetParticipantIDs(ctx, msg.ConversationID)
	if err != nil {
		logger.Errorf("ws get participants for typing conv=%s: %v", msg.ConversationID, err)
		return
	}

	out := OutgoingMessage{Type: EventTyping, Payload: TypingPayload{
		ConversationID: msg.ConversationID,
		UserID:         c.userID,
	}}
	for _, uid := range participantIDs {
		if uid != c.userID {
			h.sendToUser(uid, out)
		}
	}
}

func (h *Hub) handleMessageRead(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ConversationID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.msgRepo.MarkRead(ctx, msg.ConversationID, c.userID); err != nil {
		logger.Errorf("ws mark read conv=%s user=%s: %v", msg.ConversationID, c.userID, err)
	}
}

func (h *Hub) handleDeleteMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleDeleteMessage", time.Now())()
	if msg.MessageID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	original, err := h.msgRepo.GetByID(ctx, msg.MessageID)
	if err != nil {
		h.sendError(c, ErrCodeBadRequest, "message not found")
		return
	}
	if original.SenderID != c.userID {
		flags, err := h.modRepo.GetFlags(ctx, c.userID)
		if err != nil || !flags.DeleteMessages {
			h.sendError(c, ErrCodeForbidden, "can only delete own messages")
			return
		}
	}

	if err := h.msgRepo.HardDelete(ctx, msg.MessageID, c.userID); err != nil {
		logger.Errorf("ws delete message %s: %v", msg.MessageID, err)
		h.sendError(c, ErrCodeInternal, "failed to delete")
	}
}

// handleHide edits the device-local hide list. No row changes, so the
// engine's window reloads explicitly.
func (h *Hub) handleHide(ctx context.Context, c *Client, msg IncomingMessage, hide bool) {
	if msg.MessageID == "" {
		return
	}
	var err error
	if hide {
		err = h.hidden.Hide(c.userID, msg.MessageID)
	} else {
		err = h.hidden.Unhide(c.userID, msg.MessageID)
	}
	if err != nil {
		logger.Errorf("ws hide list user=%s: %v", c.userID, err)
		h.sendError(c, ErrCodeInternal, "failed to update hidden messages")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	c.engine.Messages.Reload(ctx)
}

// PromptRating implements support.Prompter: the one-time rating prompt
// rides the ws connection if the user is online.
func (h *Hub) PromptRating(userID, sessionID string) {
	h.sendToUser(userID, OutgoingMessage{Type: EventRatingPrompt, Payload: RatingPromptPayload{SessionID: sessionID}})
}

func (h *Hub) broadcastUserStatus(userID string, online bool) {
	evType := EventUserOffline
	if online {
		evType = EventUserOnline
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	views, err := h.convRepo.ListForUser(ctx, userID, syncengine.DefaultConversationLimit)
	if err != nil {
		logger.Errorf("ws conversations for status broadcast user=%s: %v", userID, err)
		return
	}

	out := OutgoingMessage{Type: evType, Payload: UserStatusPayload{UserID: userID, Online: online}}

	notified := make(map[string]struct{}, 16)
	for _, v := range views {
		for _, uid := range v.Participants {
			if uid == userID {
				continue
			}
			if _, ok := notified[uid]; ok {
				continue
			}
			notified[uid] = struct{}{}
			h.sendToUser(uid, out)
		}
	}
}

func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendError(c *Client, code, text string) {
	h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Code: code, Message: text}})
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
