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

// EnrollmentStore mirrors enrollments owned by the scheduling side. Rows
// arrive through lifecycle events, never through user requests, so the
// writer set is the event handler alone.
type EnrollmentStore struct {
	pool *pgxpool.Pool
}

func NewEnrollmentStore(pool *pgxpool.Pool) *EnrollmentStore {
	return &EnrollmentStore{pool: pool}
}

func (s *EnrollmentStore) Upsert(ctx context.Context, e models.Enrollment) error {
	// The event payload replaces the mirror row wholesale. Events can
	// arrive more than once; the upsert keeps redelivery harmless.
	query := `
		INSERT INTO enrollments (id, teacher_id, student_id, subject_id, tutor_id, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			teacher_id = EXCLUDED.teacher_id,
			student_id = EXCLUDED.student_id,
			subject_id = EXCLUDED.subject_id,
			tutor_id   = EXCLUDED.tutor_id,
			is_active  = EXCLUDED.is_active`

	_, err := s.pool.Exec(ctx, query, e.ID, e.TeacherID, e.StudentID, e.SubjectID, e.TutorID, e.IsActive)
	if err != nil {
		return fmt.Errorf("upsert enrollment: %w", err)
	}
	return nil
}

func (s *EnrollmentStore) GetByID(ctx context.Context, enrollmentID uuid.UUID) (*models.Enrollment, error) {
	query := `
		SELECT id, teacher_id, student_id, subject_id, tutor_id, is_active, created_at
		FROM enrollments
		WHERE id = $1`

	var e models.Enrollment
	err := s.pool.QueryRow(ctx, query, enrollmentID).Scan(
		&e.ID,
		&e.TeacherID,
		&e.StudentID,
		&e.SubjectID,
		&e.TutorID,
		&e.IsActive,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return &e, nil
}

func (s *EnrollmentStore) FindActiveByPair(ctx context.Context, teacherID, studentID uuid.UUID) (*models.Enrollment, error) {
	// Any subject qualifies. LIMIT 1 with the (teacher_id, student_id)
	// partial index keeps the access-resolver fallback an indexed lookup.
	query := `
		SELECT id, teacher_id, student_id, subject_id, tutor_id, is_active, created_at
		FROM enrollments
		WHERE teacher_id = $1 AND student_id = $2 AND is_active
		ORDER BY created_at
		LIMIT 1`

	var e models.Enrollment
	err := s.pool.QueryRow(ctx, query, teacherID, studentID).Scan(
		&e.ID,
		&e.TeacherID,
		&e.StudentID,
		&e.SubjectID,
		&e.TutorID,
		&e.IsActive,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find enrollment by pair: %w", err)
	}
	return &e, nil
}

func (s *EnrollmentStore) Delete(ctx context.Context, enrollmentID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM enrollments WHERE id = $1`, enrollmentID)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}
