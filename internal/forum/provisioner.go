package forum

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eduforum/forum/internal/models"
	"github.com/eduforum/forum/internal/repository"
)

// EnrollmentEventType enumerates the lifecycle events the scheduling side
// emits for an enrollment.
type EnrollmentEventType string

const (
	EnrollmentCreated     EnrollmentEventType = "created"
	EnrollmentReactivated EnrollmentEventType = "reactivated"
	EnrollmentDeactivated EnrollmentEventType = "deactivated"
	EnrollmentDeleted     EnrollmentEventType = "deleted"
)

// EnrollmentEvent is the payload delivered to the provisioner, whether
// over the events webhook or in-process.
type EnrollmentEvent struct {
	Type       EnrollmentEventType `json:"type" binding:"required"`
	Enrollment models.Enrollment   `json:"enrollment"`
}

// Provisioner keeps the set of subject and tutor rooms consistent with
// the set of active enrollments. It is the only writer of those rooms.
//
// Reuse policy: deactivating an enrollment deactivates its rooms but
// keeps them, and reactivation flips the same rooms back to active, so
// an active→inactive→active toggle preserves message history and never
// leaks a second room set. Hard deletion of the enrollment is the one
// path that discards rooms and their messages.
type Provisioner struct {
	enrollments  repository.EnrollmentRepository
	rooms        repository.RoomRepository
	participants repository.ParticipantRepository
	logger       *zap.Logger
}

func NewProvisioner(
	enrollments repository.EnrollmentRepository,
	rooms repository.RoomRepository,
	participants repository.ParticipantRepository,
	logger *zap.Logger,
) *Provisioner {
	return &Provisioner{
		enrollments:  enrollments,
		rooms:        rooms,
		participants: participants,
		logger:       logger,
	}
}

// HandleEvent dispatches one enrollment lifecycle event.
func (p *Provisioner) HandleEvent(ctx context.Context, ev EnrollmentEvent) error {
	switch ev.Type {
	case EnrollmentCreated, EnrollmentReactivated:
		return p.provision(ctx, ev.Enrollment)
	case EnrollmentDeactivated:
		return p.deactivate(ctx, ev.Enrollment)
	case EnrollmentDeleted:
		return p.remove(ctx, ev.Enrollment)
	default:
		return fmt.Errorf("%w: unknown enrollment event type %q", ErrValidation, ev.Type)
	}
}

// provision ensures the room set for an enrollment: a subject room for
// teacher+student, and a tutor room for tutor+student when a tutor is
// assigned. Safe to invoke any number of times: the (enrollment, type)
// uniqueness constraint guarantees one room per pair no matter how the
// calls race.
func (p *Provisioner) provision(ctx context.Context, e models.Enrollment) error {
	e.IsActive = true
	if err := p.enrollments.Upsert(ctx, e); err != nil {
		return fmt.Errorf("sync enrollment: %w", err)
	}

	subject, err := p.rooms.EnsureForEnrollment(ctx, e.ID, models.RoomSubject)
	if err != nil {
		return fmt.Errorf("ensure subject room: %w", err)
	}
	if err := p.addParticipants(ctx, subject.ID, e.TeacherID, e.StudentID); err != nil {
		return err
	}

	if e.TutorID != nil {
		tutor, err := p.rooms.EnsureForEnrollment(ctx, e.ID, models.RoomTutor)
		if err != nil {
			return fmt.Errorf("ensure tutor room: %w", err)
		}
		if err := p.addParticipants(ctx, tutor.ID, *e.TutorID, e.StudentID); err != nil {
			return err
		}
	}

	p.logger.Info("enrollment provisioned",
		zap.String("enrollment_id", e.ID.String()),
		zap.Bool("has_tutor", e.TutorID != nil),
	)
	return nil
}

func (p *Provisioner) addParticipants(ctx context.Context, roomID uuid.UUID, userIDs ...uuid.UUID) error {
	for _, id := range userIDs {
		if err := p.participants.Add(ctx, roomID, id); err != nil {
			return fmt.Errorf("add participant: %w", err)
		}
	}
	return nil
}

func (p *Provisioner) deactivate(ctx context.Context, e models.Enrollment) error {
	e.IsActive = false
	if err := p.enrollments.Upsert(ctx, e); err != nil {
		return fmt.Errorf("sync enrollment: %w", err)
	}
	if err := p.rooms.DeactivateByEnrollment(ctx, e.ID); err != nil {
		return fmt.Errorf("deactivate rooms: %w", err)
	}

	p.logger.Info("enrollment rooms deactivated",
		zap.String("enrollment_id", e.ID.String()),
	)
	return nil
}

func (p *Provisioner) remove(ctx context.Context, e models.Enrollment) error {
	// Rooms first: their messages and participants cascade with them.
	if err := p.rooms.DeleteByEnrollment(ctx, e.ID); err != nil {
		return fmt.Errorf("delete rooms: %w", err)
	}
	if err := p.enrollments.Delete(ctx, e.ID); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}

	p.logger.Info("enrollment rooms deleted",
		zap.String("enrollment_id", e.ID.String()),
	)
	return nil
}
