package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xgaming627/chatter-nexus/internal/middleware"
	"github.com/xgaming627/chatter-nexus/internal/model"
	"github.com/xgaming627/chatter-nexus/internal/repository"
)

type UserHandler struct {
	userRepo *repository.UserRepository
	modRepo  *repository.ModerationRepository
}

func NewUserHandler(userRepo *repository.UserRepository, modRepo *repository.ModerationRepository) *UserHandler {
	return &UserHandler{userRepo: userRepo, modRepo: modRepo}
}

type BlockRequest struct {
	UserID string `json:"user_id"`
}

type SetFlagsRequest struct {
	Moderator      bool `json:"moderator"`
	ForceEndCalls  bool `json:"force_end_calls"`
	DeleteMessages bool `json:"delete_messages"`
	BanUsers       bool `json:"ban_users"`
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	user, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userRepo.GetByID(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, user.ToPublic())
}

func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusOK, []model.UserPublic{})
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit > 50 {
		limit = 50
	}

	users, err := h.userRepo.SearchByUsername(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandler) Block(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	userID := middleware.GetUserID(r.Context())
	if req.UserID == userID {
		writeError(w, http.StatusBadRequest, "cannot block yourself")
		return
	}
	if _, err := h.userRepo.GetByID(r.Context(), req.UserID); err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.modRepo.Block(r.Context(), userID, req.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to block user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *UserHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	blockedID := chi.URLParam(r, "userID")

	if err := h.modRepo.Unblock(r.Context(), userID, blockedID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to unblock user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *UserHandler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	ids, err := h.modRepo.ListBlocked(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list blocked users")
		return
	}
	if len(ids) == 0 {
		writeJSON(w, http.StatusOK, []model.UserPublic{})
		return
	}

	users, err := h.userRepo.GetByIDs(r.Context(), ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load blocked users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandler) requireModerator(r *http.Request) bool {
	user, err := h.userRepo.GetByID(r.Context(), middleware.GetUserID(r.Context()))
	return err == nil && user.Role == model.RoleModerator
}

func (h *UserHandler) GetFlags(w http.ResponseWriter, r *http.Request) {
	if !h.requireModerator(r) {
		writeError(w, http.StatusForbidden, "moderator only")
		return
	}

	flags, err := h.modRepo.GetFlags(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get flags")
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

func (h *UserHandler) SetFlags(w http.ResponseWriter, r *http.Request) {
	if !h.requireModerator(r) {
		writeError(w, http.StatusForbidden, "moderator only")
		return
	}

	var req SetFlagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	flags := &model.ModerationFlags{
		UserID:         chi.URLParam(r, "userID"),
		Moderator:      req.Moderator,
		ForceEndCalls:  req.ForceEndCalls,
		DeleteMessages: req.DeleteMessages,
		BanUsers:       req.BanUsers,
	}
	if err := h.modRepo.SetFlags(r.Context(), flags); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to set flags")
		return
	}
	writeJSON(w, http.StatusOK, flags)
}
