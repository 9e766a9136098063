package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xgaming627/chatter-nexus/internal/feed"
	"github.com/xgaming627/chatter-nexus/internal/logger"
	"github.com/xgaming627/chatter-nexus/internal/model"
)

const sessionCols = `id, user_id, status, rating, COALESCE(feedback,''), created_at, ended_at`

type SupportRepository struct {
	pool *pgxpool.Pool
	pub  feed.Broker
}

func NewSupportRepository(pool *pgxpool.Pool, pub feed.Broker) *SupportRepository {
	return &SupportRepository{pool: pool, pub: pub}
}

func (r *SupportRepository) publish(ctx context.Context, table string, typ feed.EventType, row any) {
	if r.pub == nil {
		return
	}
	ev := feed.Event{Table: table, Type: typ, New: feed.MarshalRow(row)}
	if err := r.pub.Publish(ctx, ev); err != nil {
		logger.Errorf("supportRepo publish %s %s: %v", table, typ, err)
	}
}

func scanSession(s interface{ Scan(dest ...any) error }, ss *model.SupportSession) error {
	return s.Scan(&ss.ID, &ss.UserID, &ss.Status, &ss.Rating, &ss.Feedback, &ss.CreatedAt, &ss.EndedAt)
}

func (r *SupportRepository) CreateSession(ctx context.Context, s *model.SupportSession) error {
	defer logger.DeferLogDuration("support.CreateSession", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO support_sessions (id, user_id, status, created_at)
		 VALUES ($1, $2, $3, $4)`,
		s.ID, s.UserID, s.Status, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("supportRepo.CreateSession: %w", err)
	}
	r.publish(ctx, TableSupportSessions, feed.EventInsert, s)
	return nil
}

func (r *SupportRepository) GetSession(ctx context.Context, id string) (*model.SupportSession, error) {
	defer logger.DeferLogDuration("support.GetSession", time.Now())()
	s := &model.SupportSession{}
	row := r.pool.QueryRow(ctx, `SELECT `+sessionCols+` FROM support_sessions WHERE id = $1`, id)
	if err := scanSession(row, s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("supportRepo.GetSession: %w", err)
	}
	return s, nil
}

// FindOpenForUser returns the user's active or requested-end session, if
// any. Creation reuses this instead of opening a duplicate.
func (r *SupportRepository) FindOpenForUser(ctx context.Context, userID string) (*model.SupportSession, error) {
	defer logger.DeferLogDuration("support.FindOpenForUser", time.Now())()
	s := &model.SupportSession{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM support_sessions
		 WHERE user_id = $1 AND status IN ('active', 'requested_end')
		 ORDER BY created_at DESC
		 LIMIT 1`, userID,
	)
	if err := scanSession(row, s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("supportRepo.FindOpenForUser: %w", err)
	}
	return s, nil
}

// TransitionStatus moves a session between statuses, guarded by the allowed
// source set. Returns false when the session was not in any allowed status.
func (r *SupportRepository) TransitionStatus(ctx context.Context, id string, from []model.SupportStatus, to model.SupportStatus) (bool, error) {
	defer logger.DeferLogDuration("support.TransitionStatus", time.Now())()
	var endedAt *time.Time
	if to == model.SupportStatusEnded {
		now := time.Now().UTC()
		endedAt = &now
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE support_sessions SET status = $1, ended_at = COALESCE($2, ended_at)
		 WHERE id = $3 AND status = ANY($4)`,
		to, endedAt, id, statusStrings(from),
	)
	if err != nil {
		return false, fmt.Errorf("supportRepo.TransitionStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if s, err := r.GetSession(ctx, id); err == nil {
		r.publish(ctx, TableSupportSessions, feed.EventUpdate, s)
	}
	return true, nil
}

func statusStrings(in []model.SupportStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// SetRating stores the post-session rating exactly once. The WHERE clause
// enforces both the ended gate and write-once semantics.
func (r *SupportRepository) SetRating(ctx context.Context, id string, rating int, feedback string) (bool, error) {
	defer logger.DeferLogDuration("support.SetRating", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE support_sessions SET rating = $1, feedback = $2
		 WHERE id = $3 AND status = 'ended' AND rating IS NULL`,
		rating, feedback, id,
	)
	if err != nil {
		return false, fmt.Errorf("supportRepo.SetRating: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *SupportRepository) CreateMessage(ctx context.Context, m *model.SupportMessage) error {
	defer logger.DeferLogDuration("support.CreateMessage", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO support_messages (id, session_id, sender_id, sender_role, content, ts, read)
		 VALUES ($1, $2, $3, $4, $5, $6, false)`,
		m.ID, m.SessionID, m.SenderID, m.SenderRole, m.Content, m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("supportRepo.CreateMessage: %w", err)
	}
	r.publish(ctx, TableSupportMessages, feed.EventInsert, m)
	return nil
}

func (r *SupportRepository) SessionMessages(ctx context.Context, sessionID string, limit int) ([]model.SupportMessage, error) {
	defer logger.DeferLogDuration("support.SessionMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, sender_id, sender_role, content, ts, read
		 FROM support_messages
		 WHERE session_id = $1
		 ORDER BY ts DESC
		 LIMIT $2`, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("supportRepo.SessionMessages query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.SupportMessage, 0, limit)
	for rows.Next() {
		var m model.SupportMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.SenderRole, &m.Content, &m.Timestamp, &m.Read); err != nil {
			return nil, fmt.Errorf("supportRepo.SessionMessages scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("supportRepo.SessionMessages rows: %w", err)
	}
	return msgs, nil
}
