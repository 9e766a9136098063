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

const convCols = `id, is_group, COALESCE(name,''), COALESCE(photo_url,''), created_by, created_at, updated_at`

type ConversationRepository struct {
	pool *pgxpool.Pool
	pub  feed.Broker
}

// NewConversationRepository creates the repository. pub may be nil, in which
// case no change events are published.
func NewConversationRepository(pool *pgxpool.Pool, pub feed.Broker) *ConversationRepository {
	return &ConversationRepository{pool: pool, pub: pub}
}

func (r *ConversationRepository) publish(ctx context.Context, typ feed.EventType, newRow, oldRow any) {
	if r.pub == nil {
		return
	}
	ev := feed.Event{Table: TableConversations, Type: typ, New: feed.MarshalRow(newRow), Old: feed.MarshalRow(oldRow)}
	if err := r.pub.Publish(ctx, ev); err != nil {
		logger.Errorf("convRepo publish %s: %v", typ, err)
	}
}

func scanConv(s interface{ Scan(dest ...any) error }, c *model.Conversation) error {
	return s.Scan(&c.ID, &c.IsGroup, &c.Name, &c.PhotoURL, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
}

// Create inserts the conversation and its participant set.
func (r *ConversationRepository) Create(ctx context.Context, c *model.Conversation, participantIDs []string) error {
	defer logger.DeferLogDuration("conv.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("convRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO conversations (id, is_group, name, photo_url, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.IsGroup, c.Name, c.PhotoURL, c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("convRepo.Create insert: %w", err)
	}
	for _, uid := range participantIDs {
		_, err = tx.Exec(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			c.ID, uid, c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("convRepo.Create participant: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("convRepo.Create commit: %w", err)
	}
	r.publish(ctx, feed.EventInsert, c, nil)
	return nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.Conversation{}
	row := r.pool.QueryRow(ctx, `SELECT `+convCols+` FROM conversations WHERE id = $1`, id)
	if err := scanConv(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	return c, nil
}

func (r *ConversationRepository) GetParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	defer logger.DeferLogDuration("conv.GetParticipantIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = $1 ORDER BY user_id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetParticipantIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("convRepo.GetParticipantIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.GetParticipantIDs rows: %w", err)
	}
	return ids, nil
}

func (r *ConversationRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	defer logger.DeferLogDuration("conv.IsParticipant", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)`,
		conversationID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("convRepo.IsParticipant: %w", err)
	}
	return exists, nil
}

// ListForUser returns the user's conversations with participant ids, most
// recently updated first, bounded to limit.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string, limit int) ([]model.ConversationView, error) {
	defer logger.DeferLogDuration("conv.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+convCols+` FROM conversations c
		 WHERE EXISTS (SELECT 1 FROM conversation_participants cp WHERE cp.conversation_id = c.id AND cp.user_id = $1)
		 ORDER BY c.updated_at DESC
		 LIMIT $2`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	views := make([]model.ConversationView, 0, limit)
	for rows.Next() {
		var v model.ConversationView
		if err := scanConv(rows, &v.Conversation); err != nil {
			return nil, fmt.Errorf("convRepo.ListForUser scan: %w", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser rows: %w", err)
	}
	for i := range views {
		ids, err := r.GetParticipantIDs(ctx, views[i].ID)
		if err != nil {
			return nil, err
		}
		views[i].Participants = ids
	}
	return views, nil
}

// GetView fetches a single conversation with its participant ids.
func (r *ConversationRepository) GetView(ctx context.Context, id string) (*model.ConversationView, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ids, err := r.GetParticipantIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.ConversationView{Conversation: *c, Participants: ids}, nil
}

// FindDirect finds the non-group conversation whose participant set is
// exactly {a, b}.
func (r *ConversationRepository) FindDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.FindDirect", time.Now())()
	c := &model.Conversation{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+convCols+` FROM conversations c
		 WHERE c.is_group = false
		   AND EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = c.id AND user_id = $1)
		   AND EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = c.id AND user_id = $2)
		 ORDER BY c.created_at
		 LIMIT 1`, a, b,
	)
	if err := scanConv(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("convRepo.FindDirect: %w", err)
	}
	return c, nil
}

// TouchUpdatedAt bumps the freshness timestamp. This is a separate write
// from the message insert; a crash between the two leaves the indicator
// stale but never corrupts message data.
func (r *ConversationRepository) TouchUpdatedAt(ctx context.Context, id string, t time.Time) error {
	defer logger.DeferLogDuration("conv.TouchUpdatedAt", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversations SET updated_at = $1 WHERE id = $2`, t, id,
	)
	if err != nil {
		return fmt.Errorf("convRepo.TouchUpdatedAt: %w", err)
	}
	r.publish(ctx, feed.EventUpdate, &model.Conversation{ID: id, UpdatedAt: t}, nil)
	return nil
}

func (r *ConversationRepository) UpdateGroupInfo(ctx context.Context, id, name, photoURL string) error {
	defer logger.DeferLogDuration("conv.UpdateGroupInfo", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversations SET name = $1, photo_url = $2 WHERE id = $3`, name, photoURL, id,
	)
	if err != nil {
		return fmt.Errorf("convRepo.UpdateGroupInfo: %w", err)
	}
	r.publish(ctx, feed.EventUpdate, &model.Conversation{ID: id, Name: name, PhotoURL: photoURL}, nil)
	return nil
}

// Delete removes the conversation, cascading to all of its messages.
// Irreversible by design: this is the explicit delete-chat action.
func (r *ConversationRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("conv.Delete", time.Now())()
	old, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("convRepo.Delete begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
		return fmt.Errorf("convRepo.Delete messages: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM conversation_participants WHERE conversation_id = $1`, id); err != nil {
		return fmt.Errorf("convRepo.Delete participants: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("convRepo.Delete conversation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("convRepo.Delete commit: %w", err)
	}
	r.publish(ctx, feed.EventDelete, nil, old)
	return nil
}
