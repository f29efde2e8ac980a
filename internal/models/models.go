package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a user's platform role. It is carried in the JWT and drives
// chat access decisions; it is not per-room (a teacher is a teacher in
// every room they can see).
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleTutor   Role = "tutor"
	RoleParent  Role = "parent"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleTutor, RoleParent, RoleAdmin:
		return true
	}
	return false
}

// User is a platform account. The forum core only cares about ID and Role;
// the rest exists for the auth endpoints.
type User struct {
	ID           uuid.UUID `json:"id"`
	Role         Role      `json:"role"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Enrollment is the (teacher, student, subject) relationship owned by the
// platform's scheduling side. The forum keeps a local mirror of it, synced
// from enrollment lifecycle events, because every chat access decision is
// derived from it.
type Enrollment struct {
	ID        uuid.UUID  `json:"id"`
	TeacherID uuid.UUID  `json:"teacher_id"`
	StudentID uuid.UUID  `json:"student_id"`
	SubjectID uuid.UUID  `json:"subject_id"`
	TutorID   *uuid.UUID `json:"tutor_id"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
}

// RoomType is a closed set. Access control switches exhaustively on it.
type RoomType string

const (
	RoomSubject RoomType = "subject" // teacher + student, owned by the provisioner
	RoomTutor   RoomType = "tutor"   // tutor + student, owned by the provisioner
	RoomDirect  RoomType = "direct"
	RoomGroup   RoomType = "group"
	RoomSupport RoomType = "support"
)

// ChatRoom is a conversation context.
//
// EnrollmentID is nil for direct/group/support rooms, and may be nil on
// legacy subject rooms that predate their enrollment link; the access
// resolver backfills it when it can prove the link.
type ChatRoom struct {
	ID           uuid.UUID  `json:"id"`
	Type         RoomType   `json:"type"`
	IsActive     bool       `json:"is_active"`
	EnrollmentID *uuid.UUID `json:"enrollment_id"`
	// AutoDeleteAfterDays purges the room after this many days of
	// inactivity. Zero means keep forever.
	AutoDeleteAfterDays int       `json:"auto_delete_after_days"`
	CreatedAt           time.Time `json:"created_at"`
}

// Participant is the membership edge between a user and a room.
// LastReadMessageID is the read marker: everything with a higher message
// ID counts as unread. One row per (room, user), updated in place.
type Participant struct {
	RoomID            uuid.UUID `json:"room_id"`
	UserID            uuid.UUID `json:"user_id"`
	JoinedAt          time.Time `json:"joined_at"`
	LastReadMessageID int64     `json:"last_read_message_id"`
}

// Message is a single chat message. IDs are bigserial: assignment order is
// persistence order, which is the ordering contract for history and for
// the read marker. Body is stored exactly as sent.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    uuid.UUID `json:"room_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Body      string    `json:"body"`
	ReplyToID *int64    `json:"reply_to_id"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryStatus is the lifecycle of an outbound notification attempt.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySucceeded DeliveryStatus = "succeeded"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryAttempt tracks one message's outbound notification. Terminal on
// success or once retries are exhausted; a succeeded row is never re-sent,
// which is what makes delivery idempotent across worker restarts.
type DeliveryAttempt struct {
	ID          int64          `json:"id"`
	MessageID   int64          `json:"message_id"`
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	NextRetryAt *time.Time     `json:"next_retry_at"`
	LastError   string         `json:"last_error"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// RoomSummary is what the room list endpoint returns per room: the room
// itself plus derived read-state for the requesting user.
type RoomSummary struct {
	Room        ChatRoom `json:"room"`
	UnreadCount int      `json:"unread_count"`
	LastMessage *Message `json:"last_message"`
}
