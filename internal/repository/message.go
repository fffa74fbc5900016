package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/localmart/messaging/internal/logger"
	"github.com/localmart/messaging/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create persists a message and bumps the conversation's last activity in a
// single transaction. If either write fails, neither is visible to readers.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, message_type, media_urls, reply_to_id, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.Type, m.MediaURLs, m.ReplyToID, m.IsRead, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create insert: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE conversations SET last_activity_at = $1 WHERE id = $2`,
		m.CreatedAt, m.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create touch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Create commit: %w", err)
	}
	return nil
}

// GetRecent returns the most recent limit messages of a conversation in
// ascending chronological order. Content comes back as stored (ciphertext);
// decryption happens when preparing messages for transmission.
func (r *MessageRepository) GetRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetRecent", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.conversation_id, m.sender_id, m.content, m.message_type, m.media_urls, m.reply_to_id, m.is_read, m.created_at,
		        u.id, u.username, u.avatar_url, u.last_seen_at
		 FROM (
			SELECT * FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		 ) m
		 JOIN users u ON u.id = m.sender_id
		 ORDER BY m.created_at ASC`, conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetRecent query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		sender := &model.UserPublic{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &m.MediaURLs, &m.ReplyToID, &m.IsRead, &m.CreatedAt,
			&sender.ID, &sender.Username, &sender.AvatarURL, &sender.LastSeenAt); err != nil {
			return nil, fmt.Errorf("msgRepo.GetRecent scan: %w", err)
		}
		m.Sender = sender
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.GetRecent rows: %w", err)
	}
	return messages, nil
}

// MarkRead flips the read flag on messages addressed to userID.
func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, userID string) error {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = true
		 WHERE conversation_id = $1 AND sender_id != $2 AND is_read = false`,
		conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return nil
}
