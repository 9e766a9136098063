package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/xgaming627/chatter-nexus/internal/model"
	"github.com/xgaming627/chatter-nexus/internal/repository"
)

// InternalHandler serves service-to-service endpoints. Mounted behind the
// internal-only middleware; never reachable from the public edge.
type InternalHandler struct {
	msgRepo  *repository.MessageRepository
	convRepo *repository.ConversationRepository
}

func NewInternalHandler(msgRepo *repository.MessageRepository, convRepo *repository.ConversationRepository) *InternalHandler {
	return &InternalHandler{msgRepo: msgRepo, convRepo: convRepo}
}

type SystemMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// PostSystemMessage records a system-authored message (call started/ended
// and the like). The feed event it produces drives clients to refetch.
func (h *InternalHandler) PostSystemMessage(w http.ResponseWriter, r *http.Request) {
	var req SystemMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "conversation_id and content required")
		return
	}

	if _, err := h.convRepo.GetByID(r.Context(), req.ConversationID); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	now := time.Now().UTC()
	msg := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		SenderID:       model.SystemSenderID,
		Content:        req.Content,
		Timestamp:      now,
	}
	if err := h.msgRepo.Create(r.Context(), msg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create message")
		return
	}
	if err := h.convRepo.TouchUpdatedAt(r.Context(), req.ConversationID, now); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to bump conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
