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

const callCols = `id, caller_id, receiver_id, conversation_id, room_name, is_video_call, status, created_at`

type CallRepository struct {
	pool *pgxpool.Pool
	pub  feed.Broker
}

func NewCallRepository(pool *pgxpool.Pool, pub feed.Broker) *CallRepository {
	return &CallRepository{pool: pool, pub: pub}
}

func (r *CallRepository) publish(ctx context.Context, typ feed.EventType, row any) {
	if r.pub == nil {
		return
	}
	ev := feed.Event{Table: TableCallNotifications, Type: typ, New: feed.MarshalRow(row)}
	if err := r.pub.Publish(ctx, ev); err != nil {
		logger.Errorf("callRepo publish %s: %v", typ, err)
	}
}

func scanCall(s interface{ Scan(dest ...any) error }, n *model.CallNotification) error {
	return s.Scan(&n.ID, &n.CallerID, &n.ReceiverID, &n.ConversationID, &n.RoomName, &n.IsVideoCall, &n.Status, &n.CreatedAt)
}

func (r *CallRepository) Create(ctx context.Context, n *model.CallNotification) error {
	defer logger.DeferLogDuration("call.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO call_notifications (id, caller_id, receiver_id, conversation_id, room_name, is_video_call, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.CallerID, n.ReceiverID, n.ConversationID, n.RoomName, n.IsVideoCall, n.Status, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("callRepo.Create: %w", err)
	}
	r.publish(ctx, feed.EventInsert, n)
	return nil
}

func (r *CallRepository) GetByID(ctx context.Context, id string) (*model.CallNotification, error) {
	defer logger.DeferLogDuration("call.GetByID", time.Now())()
	n := &model.CallNotification{}
	row := r.pool.QueryRow(ctx, `SELECT `+callCols+` FROM call_notifications WHERE id = $1`, id)
	if err := scanCall(row, n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("callRepo.GetByID: %w", err)
	}
	return n, nil
}

// ResolveFromRinging applies a one-shot transition out of ringing. Returns
// false when the row already left ringing: the notification is inert and
// the caller must treat the attempt as lost.
func (r *CallRepository) ResolveFromRinging(ctx context.Context, id string, to model.CallStatus) (bool, error) {
	defer logger.DeferLogDuration("call.ResolveFromRinging", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE call_notifications SET status = $1 WHERE id = $2 AND status = 'ringing'`,
		to, id,
	)
	if err != nil {
		return false, fmt.Errorf("callRepo.ResolveFromRinging: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	n, err := r.GetByID(ctx, id)
	if err == nil {
		r.publish(ctx, feed.EventUpdate, n)
	}
	return true, nil
}

// PendingForReceiver returns the receiver's still-ringing notifications,
// oldest first, so a reconnecting client can rebuild its incoming set.
func (r *CallRepository) PendingForReceiver(ctx context.Context, receiverID string) ([]model.CallNotification, error) {
	defer logger.DeferLogDuration("call.PendingForReceiver", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+callCols+` FROM call_notifications
		 WHERE receiver_id = $1 AND status = 'ringing'
		 ORDER BY created_at`, receiverID,
	)
	if err != nil {
		return nil, fmt.Errorf("callRepo.PendingForReceiver query: %w", err)
	}
	defer rows.Close()

	out := make([]model.CallNotification, 0, 4)
	for rows.Next() {
		var n model.CallNotification
		if err := scanCall(rows, &n); err != nil {
			return nil, fmt.Errorf("callRepo.PendingForReceiver scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callRepo.PendingForReceiver rows: %w", err)
	}
	return out, nil
}
