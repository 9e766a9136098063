package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xgaming627/chatter-nexus/internal/logger"
	"github.com/xgaming627/chatter-nexus/internal/model"
)

type ModerationRepository struct {
	pool *pgxpool.Pool
}

func NewModerationRepository(pool *pgxpool.Pool) *ModerationRepository {
	return &ModerationRepository{pool: pool}
}

// GetFlags returns the moderation flags for a user. A user with no row has
// every flag off.
func (r *ModerationRepository) GetFlags(ctx context.Context, userID string) (*model.ModerationFlags, error) {
	defer logger.DeferLogDuration("moderation.GetFlags", time.Now())()
	f := &model.ModerationFlags{UserID: userID}
	row := r.pool.QueryRow(ctx,
		`SELECT moderator, force_end_calls, delete_messages, ban_users, updated_at
		 FROM moderation_flags WHERE user_id = $1`, userID,
	)
	err := row.Scan(&f.Moderator, &f.ForceEndCalls, &f.DeleteMessages, &f.BanUsers, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return f, nil
		}
		return nil, fmt.Errorf("moderationRepo.GetFlags: %w", err)
	}
	return f, nil
}

func (r *ModerationRepository) SetFlags(ctx context.Context, f *model.ModerationFlags) error {
	defer logger.DeferLogDuration("moderation.SetFlags", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO moderation_flags (user_id, moderator, force_end_calls, delete_messages, ban_users, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (user_id) DO UPDATE SET
		   moderator = EXCLUDED.moderator,
		   force_end_calls = EXCLUDED.force_end_calls,
		   delete_messages = EXCLUDED.delete_messages,
		   ban_users = EXCLUDED.ban_users,
		   updated_at = now()`,
		f.UserID, f.Moderator, f.ForceEndCalls, f.DeleteMessages, f.BanUsers,
	)
	if err != nil {
		return fmt.Errorf("moderationRepo.SetFlags: %w", err)
	}
	return nil
}

func (r *ModerationRepository) Block(ctx context.Context, blockerID, blockedID string) error {
	defer logger.DeferLogDuration("moderation.Block", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO blocks (blocker_id, blocked_id, created_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (blocker_id, blocked_id) DO NOTHING`,
		blockerID, blockedID,
	)
	if err != nil {
		return fmt.Errorf("moderationRepo.Block: %w", err)
	}
	return nil
}

func (r *ModerationRepository) Unblock(ctx context.Context, blockerID, blockedID string) error {
	defer logger.DeferLogDuration("moderation.Unblock", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM blocks WHERE blocker_id = $1 AND blocked_id = $2`,
		blockerID, blockedID,
	)
	if err != nil {
		return fmt.Errorf("moderationRepo.Unblock: %w", err)
	}
	return nil
}

// IsBlockedEither reports whether either user has blocked the other.
// Message delivery and calls are rejected in both directions.
func (r *ModerationRepository) IsBlockedEither(ctx context.Context, a, b string) (bool, error) {
	defer logger.DeferLogDuration("moderation.IsBlockedEither", time.Now())()
	var blocked bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM blocks
		   WHERE (blocker_id = $1 AND blocked_id = $2)
		      OR (blocker_id = $2 AND blocked_id = $1)
		 )`, a, b,
	).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("moderationRepo.IsBlockedEither: %w", err)
	}
	return blocked, nil
}

func (r *ModerationRepository) ListBlocked(ctx context.Context, blockerID string) ([]string, error) {
	defer logger.DeferLogDuration("moderation.ListBlocked", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT blocked_id FROM blocks WHERE blocker_id = $1 ORDER BY created_at DESC`, blockerID,
	)
	if err != nil {
		return nil, fmt.Errorf("moderationRepo.ListBlocked query: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("moderationRepo.ListBlocked scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("moderationRepo.ListBlocked rows: %w", err)
	}
	return ids, nil
}
