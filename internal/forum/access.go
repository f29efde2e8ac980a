package forum

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eduforum/forum/internal/models"
	"github.com/eduforum/forum/internal/repository"
)

// AccessResolver decides, per request, whether a user may use a room.
// Nothing is cached between requests: a deactivated enrollment locks its
// rooms on the very next call.
//
// Read and write share one rule set; the message service layers the
// room-active requirement on top for writes.
type AccessResolver struct {
	rooms        repository.RoomRepository
	participants repository.ParticipantRepository
	enrollments  repository.EnrollmentRepository
	logger       *zap.Logger
}

func NewAccessResolver(
	rooms repository.RoomRepository,
	participants repository.ParticipantRepository,
	enrollments repository.EnrollmentRepository,
	logger *zap.Logger,
) *AccessResolver {
	return &AccessResolver{
		rooms:        rooms,
		participants: participants,
		enrollments:  enrollments,
		logger:       logger,
	}
}

// Authorize resolves access for (user, room). It returns the room on
// grant, ErrNotFound for an unknown room ID, and ErrAccessDenied for
// everything else; a denied caller learns nothing beyond "denied".
func (r *AccessResolver) Authorize(ctx context.Context, user models.User, roomID uuid.UUID) (*models.ChatRoom, error) {
	room, err := r.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	if room == nil {
		return nil, ErrNotFound
	}

	switch room.Type {
	case models.RoomDirect, models.RoomGroup, models.RoomSupport:
		// These rooms are provisioned elsewhere; membership is the whole
		// check.
		return r.requireMember(ctx, room, user.ID)

	case models.RoomTutor:
		// The tutor relationship itself is the authorization: membership
		// suffices, no enrollment check. Non-participants with the tutor
		// role get nothing either.
		return r.requireMember(ctx, room, user.ID)

	case models.RoomSubject:
		return r.authorizeSubject(ctx, room, user)

	default:
		return nil, ErrAccessDenied
	}
}

func (r *AccessResolver) requireMember(ctx context.Context, room *models.ChatRoom, userID uuid.UUID) (*models.ChatRoom, error) {
	ok, err := r.participants.IsMember(ctx, room.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return nil, ErrAccessDenied
	}
	return room, nil
}

// authorizeSubject implements the subject-room state machine: direct
// enrollment check first, then the fallback search over co-participants
// with self-healing backfill.
//
// The fallback exists because rooms and enrollments can desynchronize:
// a room created before its enrollment link, or an enrollment edited
// afterwards. The resolver repairs the link instead of locking out a
// legitimate teacher. The fallback only ever widens access; anything the
// direct check grants, it grants too.
func (r *AccessResolver) authorizeSubject(ctx context.Context, room *models.ChatRoom, user models.User) (*models.ChatRoom, error) {
	// A closed room keeps its roster: members can still read the frozen
	// history (and get a room-inactive error on send), everyone else is
	// denied. The enrollment machinery below only governs live rooms.
	if !room.IsActive {
		return r.requireMember(ctx, room, user.ID)
	}

	if room.EnrollmentID != nil {
		enr, err := r.enrollments.GetByID(ctx, *room.EnrollmentID)
		if err != nil {
			return nil, fmt.Errorf("load enrollment: %w", err)
		}
		if enr != nil && enr.IsActive {
			// Teacher side is role-gated: an account without the teacher
			// role never passes as the enrollment's teacher.
			if user.Role == models.RoleTeacher && enr.TeacherID == user.ID {
				return room, nil
			}
			// Students need membership as a baseline on top of the
			// enrollment match. An enrolled student missing from the
			// roster falls through to the fallback, which backfills the
			// membership instead of locking them out.
			if enr.StudentID == user.ID {
				granted, err := r.requireMember(ctx, room, user.ID)
				if err == nil {
					return granted, nil
				}
				if !errors.Is(err, ErrAccessDenied) {
					return nil, err
				}
			}
		}
	}

	return r.fallbackSubject(ctx, room, user)
}

// fallbackSubject searches the room's other participants for any active
// enrollment linking them to the requester (requester as teacher if they
// hold the teacher role, as student otherwise). A hit grants access and
// backfills the room's enrollment link plus the requester's membership.
func (r *AccessResolver) fallbackSubject(ctx context.Context, room *models.ChatRoom, user models.User) (*models.ChatRoom, error) {
	others, err := r.participants.ListByRoom(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	for _, p := range others {
		if p.UserID == user.ID {
			continue
		}

		var enr *models.Enrollment
		switch user.Role {
		case models.RoleTeacher:
			enr, err = r.enrollments.FindActiveByPair(ctx, user.ID, p.UserID)
		case models.RoleStudent:
			enr, err = r.enrollments.FindActiveByPair(ctx, p.UserID, user.ID)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fallback enrollment search: %w", err)
		}
		if enr == nil {
			continue
		}

		r.heal(ctx, room, user.ID, enr)
		return room, nil
	}

	return nil, ErrAccessDenied
}

// heal backfills room.enrollment and the requester's membership. Both
// writes are idempotent upserts, so concurrent heals from parallel
// requests converge on one row. A failed heal is retried once and then
// only logged: access was already proven, and a bookkeeping race must
// not turn into a spurious deny.
func (r *AccessResolver) heal(ctx context.Context, room *models.ChatRoom, userID uuid.UUID, enr *models.Enrollment) {
	if room.EnrollmentID == nil {
		if err := retryOnce(func() error {
			return r.rooms.SetEnrollment(ctx, room.ID, enr.ID)
		}); err != nil {
			r.logger.Warn("enrollment backfill failed",
				zap.String("room_id", room.ID.String()),
				zap.String("enrollment_id", enr.ID.String()),
				zap.Error(err),
			)
		} else {
			id := enr.ID
			room.EnrollmentID = &id
		}
	}

	if err := retryOnce(func() error {
		return r.participants.Add(ctx, room.ID, userID)
	}); err != nil {
		r.logger.Warn("participant backfill failed",
			zap.String("room_id", room.ID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
}

func retryOnce(fn func() error) error {
	if err := fn(); err != nil {
		return fn()
	}
	return nil
}
