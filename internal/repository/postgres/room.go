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

type RoomStore struct {
	pool *pgxpool.Pool
}

func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

const roomColumns = `id, type, is_active, enrollment_id, auto_delete_after_days, created_at`

// EnsureForEnrollment creates or reactivates the (enrollment, type) room.
//
// chat_rooms carries UNIQUE (enrollment_id, type), so two concurrent
// provisioner runs for the same enrollment both land on the same row: the
// loser of the insert race takes the DO UPDATE arm, which flips the room
// back to active. Check-then-act would leak duplicate rooms here; the
// constraint is the guarantee.
func (s *RoomStore) EnsureForEnrollment(ctx context.Context, enrollmentID uuid.UUID, roomType models.RoomType) (*models.ChatRoom, error) {
	query := `
		INSERT INTO chat_rooms (id, type, is_active, enrollment_id, created_at)
		VALUES (uuid_generate_v4(), $1, true, $2, now())
		ON CONFLICT (enrollment_id, type) WHERE enrollment_id IS NOT NULL
		DO UPDATE SET is_active = true
		RETURNING ` + roomColumns

	var r models.ChatRoom
	err := s.pool.QueryRow(ctx, query, roomType, enrollmentID).Scan(
		&r.ID,
		&r.Type,
		&r.IsActive,
		&r.EnrollmentID,
		&r.AutoDeleteAfterDays,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure room: %w", err)
	}
	return &r, nil
}

func (s *RoomStore) GetByID(ctx context.Context, roomID uuid.UUID) (*models.ChatRoom, error) {
	query := `SELECT ` + roomColumns + ` FROM chat_rooms WHERE id = $1`

	var r models.ChatRoom
	err := s.pool.QueryRow(ctx, query, roomID).Scan(
		&r.ID,
		&r.Type,
		&r.IsActive,
		&r.EnrollmentID,
		&r.AutoDeleteAfterDays,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return &r, nil
}

func (s *RoomStore) SetEnrollment(ctx context.Context, roomID, enrollmentID uuid.UUID) error {
	// Only fills a missing link. A concurrent backfill that already set it
	// wins; this call then changes nothing, which is the idempotency the
	// self-healing path relies on.
	query := `
		UPDATE chat_rooms
		SET enrollment_id = $2
		WHERE id = $1 AND enrollment_id IS NULL`

	_, err := s.pool.Exec(ctx, query, roomID, enrollmentID)
	if err != nil {
		return fmt.Errorf("set room enrollment: %w", err)
	}
	return nil
}

func (s *RoomStore) DeactivateByEnrollment(ctx context.Context, enrollmentID uuid.UUID) error {
	query := `UPDATE chat_rooms SET is_active = false WHERE enrollment_id = $1`

	_, err := s.pool.Exec(ctx, query, enrollmentID)
	if err != nil {
		return fmt.Errorf("deactivate rooms: %w", err)
	}
	return nil
}

func (s *RoomStore) DeleteByEnrollment(ctx context.Context, enrollmentID uuid.UUID) error {
	// Messages and participants go with the room via ON DELETE CASCADE.
	query := `DELETE FROM chat_rooms WHERE enrollment_id = $1`

	_, err := s.pool.Exec(ctx, query, enrollmentID)
	if err != nil {
		return fmt.Errorf("delete rooms: %w", err)
	}
	return nil
}

// PurgeExpired removes rooms whose retention window elapsed without a
// new message. The window is measured from the newest message, or from
// room creation when the room never saw one. Cascades take the
// messages and participants along.
func (s *RoomStore) PurgeExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM chat_rooms r
		WHERE r.auto_delete_after_days > 0
		  AND COALESCE(
			(SELECT max(m.created_at) FROM messages m WHERE m.room_id = r.id),
			r.created_at
		  ) < now() - make_interval(days => r.auto_delete_after_days)`

	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("purge expired rooms: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *RoomStore) ListByParticipant(ctx context.Context, userID uuid.UUID) ([]models.ChatRoom, error) {
	query := `
		SELECT r.id, r.type, r.is_active, r.enrollment_id, r.auto_delete_after_days, r.created_at
		FROM chat_rooms r
		JOIN participants p ON p.room_id = r.id
		WHERE p.user_id = $1
		ORDER BY r.created_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]models.ChatRoom, 0)
	for rows.Next() {
		var r models.ChatRoom
		if err := rows.Scan(
			&r.ID,
			&r.Type,
			&r.IsActive,
			&r.EnrollmentID,
			&r.AutoDeleteAfterDays,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}

	return rooms, nil
}
