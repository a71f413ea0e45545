package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkraev/chatsync/internal/models"
)

type messageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepo{pool: pool}
}

func (r *messageRepo) FetchMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, room_id, author_id, body, attachments, created_at, pinned, reply_to, reactions
		 FROM messages
		 WHERE room_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		roomID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		page = append(page, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query pages newest-first; callers want display order.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

func (r *messageRepo) FetchMessage(ctx context.Context, roomID, id string) (*models.Message, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, room_id, author_id, body, attachments, created_at, pinned, reply_to, reactions
		 FROM messages
		 WHERE room_id = $1 AND id = $2`,
		roomID, id,
	)
	m, err := scanMessage(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (r *messageRepo) InsertMessage(ctx context.Context, msg *models.Message) (string, error) {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return "", fmt.Errorf("encoding attachments: %w", err)
	}

	var id string
	err = r.pool.QueryRow(ctx,
		`INSERT INTO messages (room_id, author_id, body, attachments, created_at, reply_to)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		 RETURNING id`,
		msg.RoomID, msg.AuthorID, msg.Body, attachments, msg.CreatedAt, msg.ReplyTo,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *messageRepo) UpdateMessage(ctx context.Context, roomID, id string, patch MessagePatch) error {
	if patch.Pinned == nil {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET pinned = $3 WHERE room_id = $1 AND id = $2`,
		roomID, id, *patch.Pinned,
	)
	return err
}

// scanMessage reads one message row, decoding the JSONB attachment and
// reaction columns.
func scanMessage(row pgx.Row) (*models.Message, error) {
	var (
		m            models.Message
		attachments  []byte
		reactions    []byte
		replyTo      *string
	)
	if err := row.Scan(&m.ID, &m.RoomID, &m.AuthorID, &m.Body, &attachments, &m.CreatedAt, &m.Pinned, &replyTo, &reactions); err != nil {
		return nil, err
	}
	if replyTo != nil {
		m.ReplyTo = *replyTo
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, fmt.Errorf("decoding attachments: %w", err)
		}
	}
	if len(reactions) > 0 {
		if err := json.Unmarshal(reactions, &m.Reactions); err != nil {
			return nil, fmt.Errorf("decoding reactions: %w", err)
		}
	}
	return &m, nil
}
