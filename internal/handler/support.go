package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xgaming627/chatter-nexus/internal/middleware"
	"github.com/xgaming627/chatter-nexus/internal/model"
	"github.com/xgaming627/chatter-nexus/internal/repository"
	"github.com/xgaming627/chatter-nexus/internal/support"
)

type SupportHandler struct {
	engine   *support.Engine
	suppRepo *repository.SupportRepository
	userRepo *repository.UserRepository
}

func NewSupportHandler(engine *support.Engine, suppRepo *repository.SupportRepository, userRepo *repository.UserRepository) *SupportHandler {
	return &SupportHandler{engine: engine, suppRepo: suppRepo, userRepo: userRepo}
}

type SendSupportMessageRequest struct {
	Content string `json:"content"`
}

type RateSupportRequest struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

func supportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, support.ErrSessionEnded):
		writeError(w, http.StatusConflict, "session has ended")
	case errors.Is(err, support.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, support.ErrNotModerator), errors.Is(err, support.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not allowed")
	case errors.Is(err, support.ErrInvalidRating):
		writeError(w, http.StatusBadRequest, "rating must be between 1 and 5")
	case errors.Is(err, support.ErrNotEnded):
		writeError(w, http.StatusConflict, "session is still active")
	case errors.Is(err, support.ErrAlreadyRated):
		writeError(w, http.StatusConflict, "session already rated")
	default:
		writeError(w, http.StatusInternalServerError, "support operation failed")
	}
}

// canAccess allows the session owner and any moderator.
func (h *SupportHandler) canAccess(r *http.Request, sessionID string) (userID string, role model.SenderRole, ok bool) {
	userID = middleware.GetUserID(r.Context())
	session, err := h.suppRepo.GetSession(r.Context(), sessionID)
	if err != nil {
		return userID, "", false
	}
	if session.UserID == userID {
		return userID, model.SenderRoleUser, true
	}
	user, err := h.userRepo.GetByID(r.Context(), userID)
	if err == nil && user.Role == model.RoleModerator {
		return userID, model.SenderRoleModerator, true
	}
	return userID, "", false
}

func (h *SupportHandler) Open(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	session, err := h.engine.Open(r.Context(), userID)
	if err != nil {
		supportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *SupportHandler) Send(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req SendSupportMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	userID, role, ok := h.canAccess(r, sessionID)
	if !ok {
		writeError(w, http.StatusForbidden, "not allowed")
		return
	}

	msg, err := h.engine.Send(r.Context(), sessionID, userID, role, req.Content)
	if err != nil {
		supportError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *SupportHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, _, ok := h.canAccess(r, sessionID); !ok {
		writeError(w, http.StatusForbidden, "not allowed")
		return
	}

	limit := queryInt(r, "limit", 200)
	messages, err := h.engine.History(r.Context(), sessionID, limit)
	if err != nil {
		supportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *SupportHandler) RequestEnd(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := middleware.GetUserID(r.Context())

	if err := h.engine.RequestEnd(r.Context(), sessionID, userID); err != nil {
		supportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *SupportHandler) ConfirmEnd(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := middleware.GetUserID(r.Context())

	if err := h.engine.ConfirmEnd(r.Context(), sessionID, userID); err != nil {
		supportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *SupportHandler) ForceEnd(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := middleware.GetUserID(r.Context())

	if err := h.engine.ForceEnd(r.Context(), sessionID, userID); err != nil {
		supportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *SupportHandler) Rate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := middleware.GetUserID(r.Context())

	var req RateSupportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if err := h.engine.Rate(r.Context(), sessionID, userID, req.Rating, req.Feedback); err != nil {
		supportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
