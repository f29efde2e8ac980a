package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduforum/forum/internal/models"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

const messageColumns = `id, room_id, sender_id, body, reply_to_id, created_at`

func (s *MessageStore) Create(ctx context.Context, roomID, senderID uuid.UUID, body string, replyTo *int64) (*models.Message, error) {
	// bigserial id and now() are both assigned inside this single insert,
	// so persistence order and id order agree; that is the room's total
	// order. Client clocks never enter the picture.
	query := `
		INSERT INTO messages (room_id, sender_id, body, reply_to_id, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING ` + messageColumns

	var msg models.Message
	err := s.pool.QueryRow(ctx, query, roomID, senderID, body, replyTo).Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.SenderID,
		&msg.Body,
		&msg.ReplyToID,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func (s *MessageStore) ListByRoom(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]models.Message, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE room_id = $1`, roomID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE room_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, roomID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

func (s *MessageStore) ListRecent(ctx context.Context, roomID uuid.UUID, n int) ([]models.Message, error) {
	// Grab the newest n descending, then flip to ascending so the client
	// appends them in display order.
	query := `
		SELECT ` + messageColumns + `
		FROM (
			SELECT ` + messageColumns + `
			FROM messages
			WHERE room_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id`

	rows, err := s.pool.Query(ctx, query, roomID, n)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *MessageStore) UnreadCount(ctx context.Context, roomID, userID uuid.UUID, afterID int64) (int, error) {
	query := `
		SELECT count(*)
		FROM messages
		WHERE room_id = $1 AND id > $2 AND sender_id <> $3`

	var count int
	err := s.pool.QueryRow(ctx, query, roomID, afterID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *MessageStore) LastByRoom(ctx context.Context, roomID uuid.UUID) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE room_id = $1
		ORDER BY id DESC
		LIMIT 1`

	var msg models.Message
	err := s.pool.QueryRow(ctx, query, roomID).Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.SenderID,
		&msg.Body,
		&msg.ReplyToID,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last message: %w", err)
	}
	return &msg, nil
}

func scanMessages(rows pgx.Rows) ([]models.Message, error) {
	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.SenderID,
			&msg.Body,
			&msg.ReplyToID,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
