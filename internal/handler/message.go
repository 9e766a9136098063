package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xgaming627/chatter-nexus/internal/hidelist"
	"github.com/xgaming627/chatter-nexus/internal/middleware"
	"github.com/xgaming627/chatter-nexus/internal/model"
	"github.com/xgaming627/chatter-nexus/internal/repository"
)

type MessageHandler struct {
	msgRepo  *repository.MessageRepository
	convRepo *repository.ConversationRepository
	modRepo  *repository.ModerationRepository
	hidden   *hidelist.Store
}

func NewMessageHandler(msgRepo *repository.MessageRepository, convRepo *repository.ConversationRepository, modRepo *repository.ModerationRepository, hidden *hidelist.Store) *MessageHandler {
	return &MessageHandler{msgRepo: msgRepo, convRepo: convRepo, modRepo: modRepo, hidden: hidden}
}

func (h *MessageHandler) requireParticipant(w http.ResponseWriter, r *http.Request) (conversationID, userID string, ok bool) {
	conversationID = chi.URLParam(r, "conversationID")
	userID = middleware.GetUserID(r.Context())

	isParticipant, err := h.convRepo.IsParticipant(r.Context(), conversationID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return "", "", false
	}
	if !isParticipant {
		writeError(w, http.StatusForbidden, "not a participant")
		return "", "", false
	}
	return conversationID, userID, true
}

// GetMessages returns the newest window of a conversation in chronological
// order, with the caller's hidden messages removed.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, userID, ok := h.requireParticipant(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 100)
	if limit > 200 {
		limit = 200
	}

	messages, err := h.msgRepo.Window(r.Context(), conversationID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}

	// Window returns newest-first; clients render oldest-first.
	result := make([]model.Message, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		if h.hidden.IsHidden(userID, messages[i].ID) {
			continue
		}
		result = append(result, messages[i])
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	conversationID, userID, ok := h.requireParticipant(w, r)
	if !ok {
		return
	}

	if err := h.msgRepo.MarkRead(r.Context(), conversationID, userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *MessageHandler) MarkAsDelivered(w http.ResponseWriter, r *http.Request) {
	conversationID, userID, ok := h.requireParticipant(w, r)
	if !ok {
		return
	}

	if err := h.msgRepo.MarkDelivered(r.Context(), conversationID, userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark as delivered")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DeleteMessage removes a message for everyone. Allowed for the sender,
// or for users carrying the delete-messages moderation flag.
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	userID := middleware.GetUserID(r.Context())

	msg, err := h.msgRepo.GetByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}

	if msg.SenderID != userID {
		flags, err := h.modRepo.GetFlags(r.Context(), userID)
		if err != nil || !flags.DeleteMessages {
			writeError(w, http.StatusForbidden, "cannot delete this message")
			return
		}
	}

	if err := h.msgRepo.HardDelete(r.Context(), messageID, userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HideMessage hides a message for the caller only. Purely local: the row
// is untouched and other participants keep seeing the message.
func (h *MessageHandler) HideMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	userID := middleware.GetUserID(r.Context())

	if err := h.hidden.Hide(userID, messageID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hide message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *MessageHandler) UnhideMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	userID := middleware.GetUserID(r.Context())

	if err := h.hidden.Unhide(userID, messageID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to unhide message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
