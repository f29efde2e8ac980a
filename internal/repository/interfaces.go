package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/eduforum/forum/internal/models"
)

// Every method takes a context because every method does I/O: request
// cancellation propagates into the query. Lookups return nil, nil when
// the row does not exist; callers translate that to their own not-found.

// UserRepository handles platform accounts.
type UserRepository interface {
	Create(ctx context.Context, email, displayName, passwordHash string, role models.Role) (*models.User, error)
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// EnrollmentRepository stores the forum's mirror of enrollments, synced
// from lifecycle events emitted by the scheduling side.
type EnrollmentRepository interface {
	// Upsert inserts or replaces the mirror row for the enrollment.
	Upsert(ctx context.Context, e models.Enrollment) error

	GetByID(ctx context.Context, enrollmentID uuid.UUID) (*models.Enrollment, error)

	// FindActiveByPair returns any active enrollment linking the teacher
	// to the student, regardless of subject. Backing query for the access
	// resolver's fallback search, so it must stay on an index.
	FindActiveByPair(ctx context.Context, teacherID, studentID uuid.UUID) (*models.Enrollment, error)

	Delete(ctx context.Context, enrollmentID uuid.UUID) error
}

// RoomRepository handles chat rooms. Subject and tutor rooms are written
// only through the provisioner; the uniqueness constraint on
// (enrollment_id, type) is what makes concurrent provisioning safe.
type RoomRepository interface {
	// EnsureForEnrollment creates the room for (enrollment, type) or
	// reactivates the existing one. Idempotent: a second call returns the
	// same room.
	EnsureForEnrollment(ctx context.Context, enrollmentID uuid.UUID, roomType models.RoomType) (*models.ChatRoom, error)

	GetByID(ctx context.Context, roomID uuid.UUID) (*models.ChatRoom, error)

	// SetEnrollment backfills the enrollment link on a room that lost or
	// never had one. Only sets, never clears.
	SetEnrollment(ctx context.Context, roomID, enrollmentID uuid.UUID) error

	DeactivateByEnrollment(ctx context.Context, enrollmentID uuid.UUID) error

	// DeleteByEnrollment hard-deletes the enrollment's rooms; messages and
	// participants cascade.
	DeleteByEnrollment(ctx context.Context, enrollmentID uuid.UUID) error

	// ListByParticipant returns rooms the user is a member of, newest first.
	ListByParticipant(ctx context.Context, userID uuid.UUID) ([]models.ChatRoom, error)

	// PurgeExpired hard-deletes rooms whose auto_delete_after_days window
	// has passed with no message activity, returning how many were
	// removed. Rooms with a zero window are kept forever.
	PurgeExpired(ctx context.Context) (int64, error)
}

// ParticipantRepository handles room membership.
type ParticipantRepository interface {
	// Add is an idempotent upsert on the (room, user) primary key. Safe to
	// call concurrently from the access resolver's self-healing path.
	Add(ctx context.Context, roomID, userID uuid.UUID) error

	Get(ctx context.Context, roomID, userID uuid.UUID) (*models.Participant, error)
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error)

	// IsMember is the hot-path membership check, run before every send and
	// every websocket subscribe.
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)

	// SetLastRead advances the user's read marker. Never moves it backwards.
	SetLastRead(ctx context.Context, roomID, userID uuid.UUID, messageID int64) error
}

// MessageRepository handles message persistence and ordered retrieval.
type MessageRepository interface {
	Create(ctx context.Context, roomID, senderID uuid.UUID, body string, replyTo *int64) (*models.Message, error)

	// ListByRoom returns one page oldest-first plus the room's total count.
	ListByRoom(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]models.Message, int, error)

	// ListRecent returns the newest n messages in ascending order, used for
	// the reconnect resync window.
	ListRecent(ctx context.Context, roomID uuid.UUID, n int) ([]models.Message, error)

	// UnreadCount counts messages after the user's read marker, excluding
	// the user's own.
	UnreadCount(ctx context.Context, roomID, userID uuid.UUID, afterID int64) (int, error)

	// LastByRoom returns the newest message, for list previews.
	LastByRoom(ctx context.Context, roomID uuid.UUID) (*models.Message, error)
}

// DeliveryRepository is the outbound dispatcher's bookkeeping.
type DeliveryRepository interface {
	Create(ctx context.Context, messageID int64) (*models.DeliveryAttempt, error)
	GetByID(ctx context.Context, attemptID int64) (*models.DeliveryAttempt, error)
	MarkSucceeded(ctx context.Context, attemptID int64) error
	MarkFailed(ctx context.Context, attemptID int64, lastError string) error

	// RecordAttempt bumps the attempt counter after a transient failure and
	// notes when the queue will retry.
	RecordAttempt(ctx context.Context, attemptID int64, nextRetryInSeconds int, lastError string) error
}
