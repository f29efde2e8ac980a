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

type ParticipantStore struct {
	pool *pgxpool.Pool
}

func NewParticipantStore(pool *pgxpool.Pool) *ParticipantStore {
	return &ParticipantStore{pool: pool}
}

func (s *ParticipantStore) Add(ctx context.Context, roomID, userID uuid.UUID) error {
	// (room_id, user_id) is the primary key; ON CONFLICT DO NOTHING makes
	// the add idempotent. Concurrent self-healing backfills for the same
	// user both succeed and produce one row.
	query := `
		INSERT INTO participants (room_id, user_id, joined_at, last_read_message_id)
		VALUES ($1, $2, now(), 0)
		ON CONFLICT (room_id, user_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query, roomID, userID)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

func (s *ParticipantStore) Get(ctx context.Context, roomID, userID uuid.UUID) (*models.Participant, error) {
	query := `
		SELECT room_id, user_id, joined_at, last_read_message_id
		FROM participants
		WHERE room_id = $1 AND user_id = $2`

	var p models.Participant
	err := s.pool.QueryRow(ctx, query, roomID, userID).Scan(
		&p.RoomID,
		&p.UserID,
		&p.JoinedAt,
		&p.LastReadMessageID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return &p, nil
}

func (s *ParticipantStore) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	query := `
		SELECT room_id, user_id, joined_at, last_read_message_id
		FROM participants
		WHERE room_id = $1
		ORDER BY joined_at`

	rows, err := s.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	participants := make([]models.Participant, 0)
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.JoinedAt, &p.LastReadMessageID); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}

	return participants, nil
}

func (s *ParticipantStore) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	// EXISTS stops at the first match; this runs before every send and
	// every subscribe.
	query := `
		SELECT EXISTS (
			SELECT 1 FROM participants
			WHERE room_id = $1 AND user_id = $2
		)`

	var exists bool
	err := s.pool.QueryRow(ctx, query, roomID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

func (s *ParticipantStore) SetLastRead(ctx context.Context, roomID, userID uuid.UUID, messageID int64) error {
	// GREATEST keeps the marker monotonic: a stale mark-read from a client
	// catching up out of order cannot rewind it.
	query := `
		UPDATE participants
		SET last_read_message_id = GREATEST(last_read_message_id, $3)
		WHERE room_id = $1 AND user_id = $2`

	_, err := s.pool.Exec(ctx, query, roomID, userID, messageID)
	if err != nil {
		return fmt.Errorf("set last read: %w", err)
	}
	return nil
}
