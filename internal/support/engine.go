// Package support runs live support sessions between a user and the
// moderator pool. The lifecycle is active → requested_end → ended, with a
// moderator force-end shortcut, and a write-once rating after the end.
package support

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xgaming627/chatter-nexus/internal/clock"
	"github.com/xgaming627/chatter-nexus/internal/logger"
	"github.com/xgaming627/chatter-nexus/internal/model"
	"github.com/xgaming627/chatter-nexus/internal/ratelimit"
	"github.com/xgaming627/chatter-nexus/internal/repository"
)

var (
	ErrSessionEnded  = errors.New("support: session ended")
	ErrNotModerator  = errors.New("support: moderator required")
	ErrNotOwner      = errors.New("support: not the session owner")
	ErrInvalidRating = errors.New("support: rating must be 1-5")
	ErrNotEnded      = errors.New("support: session not ended")
	ErrAlreadyRated  = errors.New("support: session already rated")
	ErrRateLimited   = errors.New("support: too many messages")
)

const welcomeMessage = "You are connected to live support. A moderator will be with you shortly."

// SessionStore is the slice of SupportRepository the engine needs.
type SessionStore interface {
	CreateSession(ctx context.Context, s *model.SupportSession) error
	GetSession(ctx context.Context, id string) (*model.SupportSession, error)
	FindOpenForUser(ctx context.Context, userID string) (*model.SupportSession, error)
	TransitionStatus(ctx context.Context, id string, from []model.SupportStatus, to model.SupportStatus) (bool, error)
	SetRating(ctx context.Context, id string, rating int, feedback string) (bool, error)
	CreateMessage(ctx context.Context, m *model.SupportMessage) error
	SessionMessages(ctx context.Context, sessionID string, limit int) ([]model.SupportMessage, error)
}

// RoleChecker answers whether a user belongs to the moderator pool.
type RoleChecker interface {
	IsModerator(ctx context.Context, userID string) (bool, error)
}

// Prompter delivers the one-time rating prompt to the session owner.
type Prompter interface {
	PromptRating(userID, sessionID string)
}

type Engine struct {
	store    SessionStore
	roles    RoleChecker
	limiter  *ratelimit.Window
	prompter Prompter
	clk      clock.Clock
}

func NewEngine(store SessionStore, roles RoleChecker, limiter *ratelimit.Window, prompter Prompter, clk clock.Clock) *Engine {
	return &Engine{store: store, roles: roles, limiter: limiter, prompter: prompter, clk: clk}
}

// Open returns the user's open session, creating one only when none exists.
// A user never holds two live sessions.
func (e *Engine) Open(ctx context.Context, userID string) (*model.SupportSession, error) {
	defer logger.DeferLogDuration("support.Open", time.Now())()

	existing, err := e.store.FindOpenForUser(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	s := &model.SupportSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    model.SupportStatusActive,
		CreatedAt: e.clk.Now().UTC(),
	}
	if err := e.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}
	if err := e.postSystem(ctx, s.ID, welcomeMessage); err != nil {
		logger.Errorf("support welcome session=%s: %v", s.ID, err)
	}
	return s, nil
}

// Send appends a message to a live session. Sends are gated by the sliding
// window limiter; ended sessions reject everything.
func (e *Engine) Send(ctx context.Context, sessionID, senderID string, role model.SenderRole, content string) (*model.SupportMessage, error) {
	defer logger.DeferLogDuration("support.Send", time.Now())()

	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status == model.SupportStatusEnded {
		return nil, ErrSessionEnded
	}
	if role != model.SenderRoleSystem && !e.limiter.Allow(senderID) {
		return nil, fmt.Errorf("%w: retry in %s", ErrRateLimited, e.limiter.RetryAfter(senderID).Round(time.Second))
	}

	m := &model.SupportMessage{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		SenderID:   senderID,
		SenderRole: role,
		Content:    content,
		Timestamp:  e.clk.Now().UTC(),
	}
	if err := e.store.CreateMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (e *Engine) postSystem(ctx context.Context, sessionID, content string) error {
	return e.store.CreateMessage(ctx, &model.SupportMessage{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		SenderID:   model.SystemSenderID,
		SenderRole: model.SenderRoleSystem,
		Content:    content,
		Timestamp:  e.clk.Now().UTC(),
	})
}

// RequestEnd is the moderator asking the user to confirm closing. Only an
// active session can enter requested_end.
func (e *Engine) RequestEnd(ctx context.Context, sessionID, moderatorID string) error {
	if err := e.requireModerator(ctx, moderatorID); err != nil {
		return err
	}
	ok, err := e.store.TransitionStatus(ctx, sessionID,
		[]model.SupportStatus{model.SupportStatusActive}, model.SupportStatusRequestedEnd)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionEnded
	}
	if err := e.postSystem(ctx, sessionID, "The moderator has requested to end this session."); err != nil {
		logger.Errorf("support request-end message session=%s: %v", sessionID, err)
	}
	return nil
}

// ConfirmEnd is the user accepting the requested end.
func (e *Engine) ConfirmEnd(ctx context.Context, sessionID, userID string) error {
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.UserID != userID {
		return ErrNotOwner
	}
	ok, err := e.store.TransitionStatus(ctx, sessionID,
		[]model.SupportStatus{model.SupportStatusRequestedEnd}, model.SupportStatusEnded)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionEnded
	}
	e.finish(ctx, s)
	return nil
}

// ForceEnd closes a session unilaterally, moderator only.
func (e *Engine) ForceEnd(ctx context.Context, sessionID, moderatorID string) error {
	if err := e.requireModerator(ctx, moderatorID); err != nil {
		return err
	}
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	ok, err := e.store.TransitionStatus(ctx, sessionID,
		[]model.SupportStatus{model.SupportStatusActive, model.SupportStatusRequestedEnd},
		model.SupportStatusEnded)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionEnded
	}
	e.finish(ctx, s)
	return nil
}

// finish runs the ended side effects: closing system message plus the
// rating prompt for the owner. The prompt rides the one-shot transition, so
// it cannot fire twice for one session.
func (e *Engine) finish(ctx context.Context, s *model.SupportSession) {
	if err := e.postSystem(ctx, s.ID, "This support session has ended."); err != nil {
		logger.Errorf("support end message session=%s: %v", s.ID, err)
	}
	if e.prompter != nil {
		e.prompter.PromptRating(s.UserID, s.ID)
	}
}

// Rate records the owner's rating. Write-once: the second attempt fails even
// with the same value.
func (e *Engine) Rate(ctx context.Context, sessionID, userID string, rating int, feedback string) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.UserID != userID {
		return ErrNotOwner
	}
	if s.Status != model.SupportStatusEnded {
		return ErrNotEnded
	}
	ok, err := e.store.SetRating(ctx, sessionID, rating, feedback)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyRated
	}
	return nil
}

// History returns the session transcript, newest first.
func (e *Engine) History(ctx context.Context, sessionID string, limit int) ([]model.SupportMessage, error) {
	return e.store.SessionMessages(ctx, sessionID, limit)
}

func (e *Engine) requireModerator(ctx context.Context, userID string) error {
	mod, err := e.roles.IsModerator(ctx, userID)
	if err != nil {
		return err
	}
	if !mod {
		return ErrNotModerator
	}
	return nil
}
