package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/xgaming627/chatter-nexus/internal/middleware"
	"github.com/xgaming627/chatter-nexus/internal/model"
	"github.com/xgaming627/chatter-nexus/internal/repository"
)

type ConversationHandler struct {
	convRepo *repository.ConversationRepository
	userRepo *repository.UserRepository
	modRepo  *repository.ModerationRepository
}

func NewConversationHandler(convRepo *repository.ConversationRepository, userRepo *repository.UserRepository, modRepo *repository.ModerationRepository) *ConversationHandler {
	return &ConversationHandler{convRepo: convRepo, userRepo: userRepo, modRepo: modRepo}
}

type CreateDirectRequest struct {
	UserID string `json:"user_id"`
}

type CreateGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

type UpdateGroupRequest struct {
	Name     string `json:"name"`
	PhotoURL string `json:"photo_url"`
}

func (h *ConversationHandler) CreateDirect(w http.ResponseWriter, r *http.Request) {
	var req CreateDirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	currentUserID := middleware.GetUserID(r.Context())
	if req.UserID == currentUserID {
		writeError(w, http.StatusBadRequest, "cannot create conversation with yourself")
		return
	}

	// Re-opening an existing direct conversation is idempotent.
	existing, err := h.convRepo.FindDirect(r.Context(), currentUserID, req.UserID)
	if err == nil && existing != nil {
		view, err := h.convRepo.GetView(r.Context(), existing.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load conversation")
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if _, err := h.userRepo.GetByID(r.Context(), req.UserID); err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	blocked, err := h.modRepo.IsBlockedEither(r.Context(), currentUserID, req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check blocks")
		return
	}
	if blocked {
		writeError(w, http.StatusForbidden, "conversation not available")
		return
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:        uuid.New().String(),
		IsGroup:   false,
		CreatedBy: currentUserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.convRepo.Create(r.Context(), conv, []string{currentUserID, req.UserID}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	view, err := h.convRepo.GetView(r.Context(), conv.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	currentUserID := middleware.GetUserID(r.Context())
	now := time.Now().UTC()

	participants := []string{currentUserID}
	seen := map[string]bool{currentUserID: true}
	for _, uid := range req.MemberIDs {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		participants = append(participants, uid)
	}

	conv := &model.Conversation{
		ID:        uuid.New().String(),
		IsGroup:   true,
		Name:      req.Name,
		CreatedBy: currentUserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.convRepo.Create(r.Context(), conv, participants); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	view, err := h.convRepo.GetView(r.Context(), conv.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	limit := queryInt(r, "limit", 50)

	views, err := h.convRepo.ListForUser(ctx, userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get conversations")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "conversationID")
	userID := middleware.GetUserID(ctx)

	if ok, err := h.convRepo.IsParticipant(ctx, conversationID, userID); err != nil || !ok {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	view, err := h.convRepo.GetView(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *ConversationHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "conversationID")
	userID := middleware.GetUserID(ctx)

	var req UpdateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	conv, err := h.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if !conv.IsGroup {
		writeError(w, http.StatusBadRequest, "not a group conversation")
		return
	}
	if ok, err := h.convRepo.IsParticipant(ctx, conversationID, userID); err != nil || !ok {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	name := req.Name
	if name == "" {
		name = conv.Name
	}
	photo := req.PhotoURL
	if photo == "" {
		photo = conv.PhotoURL
	}
	if err := h.convRepo.UpdateGroupInfo(ctx, conversationID, name, photo); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update conversation")
		return
	}

	view, err := h.convRepo.GetView(ctx, conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "conversationID")
	userID := middleware.GetUserID(ctx)

	conv, err := h.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if conv.IsGroup && conv.CreatedBy != userID {
		writeError(w, http.StatusForbidden, "only the creator can delete a group")
		return
	}
	if !conv.IsGroup {
		if ok, err := h.convRepo.IsParticipant(ctx, conversationID, userID); err != nil || !ok {
			writeError(w, http.StatusForbidden, "not a participant")
			return
		}
	}

	if err := h.convRepo.Delete(ctx, conversationID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
