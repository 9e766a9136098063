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

const msgCols = `id, conversation_id, sender_id, content, reply_to_id, COALESCE(reply_to_content,''), ts, read, delivered, deleted, deleted_by`

type MessageRepository struct {
	pool *pgxpool.Pool
	pub  feed.Broker
}

func NewMessageRepository(pool *pgxpool.Pool, pub feed.Broker) *MessageRepository {
	return &MessageRepository{pool: pool, pub: pub}
}

func (r *MessageRepository) publish(ctx context.Context, typ feed.EventType, newRow, oldRow any) {
	if r.pub == nil {
		return
	}
	ev := feed.Event{Table: TableMessages, Type: typ, New: feed.MarshalRow(newRow), Old: feed.MarshalRow(oldRow)}
	if err := r.pub.Publish(ctx, ev); err != nil {
		logger.Errorf("msgRepo publish %s: %v", typ, err)
	}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.ReplyToID, &m.ReplyToContent,
		&m.Timestamp, &m.Read, &m.Delivered, &m.Deleted, &m.DeletedBy)
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, reply_to_id, reply_to_content, ts, read, delivered, deleted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, false, false, false)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.ReplyToID, m.ReplyToContent, m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	r.publish(ctx, feed.EventInsert, m, nil)
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx, `SELECT `+msgCols+` FROM messages WHERE id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// Window returns the newest limit messages for a conversation, newest first.
// The sync engine reverses to chronological order before publishing.
func (r *MessageRepository) Window(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.Window", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+` FROM messages
		 WHERE conversation_id = $1
		 ORDER BY ts DESC
		 LIMIT $2`, conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Window query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.Window scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.Window rows: %w", err)
	}
	return messages, nil
}

func (r *MessageRepository) GetLastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetLastMessage", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+msgCols+` FROM messages
		 WHERE conversation_id = $1
		 ORDER BY ts DESC
		 LIMIT 1`, conversationID,
	)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("msgRepo.GetLastMessage: %w", err)
	}
	return m, nil
}

// MarkRead flips read false→true for messages the reader did not send.
// The sender guard and the one-way transition live in the predicate.
func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, readerID string) error {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET read = true
		 WHERE conversation_id = $1 AND sender_id != $2 AND read = false`,
		conversationID, readerID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	if tag.RowsAffected() > 0 {
		r.publish(ctx, feed.EventUpdate, &model.Message{ConversationID: conversationID, Read: true}, nil)
	}
	return nil
}

// MarkDelivered flips delivered for all undelivered messages to the receiver.
func (r *MessageRepository) MarkDelivered(ctx context.Context, conversationID, receiverID string) error {
	defer logger.DeferLogDuration("msg.MarkDelivered", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET delivered = true
		 WHERE conversation_id = $1 AND sender_id != $2 AND delivered = false`,
		conversationID, receiverID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkDelivered: %w", err)
	}
	if tag.RowsAffected() > 0 {
		r.publish(ctx, feed.EventUpdate, &model.Message{ConversationID: conversationID, Delivered: true}, nil)
	}
	return nil
}

// HardDelete removes the row permanently, for every viewer.
func (r *MessageRepository) HardDelete(ctx context.Context, id, deletedBy string) error {
	defer logger.DeferLogDuration("msg.HardDelete", time.Now())()
	old, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("msgRepo.HardDelete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	old.Deleted = true
	old.DeletedBy = &deletedBy
	r.publish(ctx, feed.EventDelete, nil, old)
	return nil
}
