package forum

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eduforum/forum/internal/models"
)

type testEnv struct {
	enrollments  *fakeEnrollments
	rooms        *fakeRooms
	participants *fakeParticipants
	messages     *fakeMessages
	notifier     *fakeNotifier
	broadcaster  *fakeBroadcaster

	resolver    *AccessResolver
	provisioner *Provisioner
	service     *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	participants := newFakeParticipants()
	messages := newFakeMessages()
	rooms := newFakeRooms(participants, messages)
	enrollments := newFakeEnrollments()
	notifier := &fakeNotifier{}
	broadcaster := &fakeBroadcaster{}

	logger := zap.NewNop()
	resolver := NewAccessResolver(rooms, participants, enrollments, logger)

	return &testEnv{
		enrollments:  enrollments,
		rooms:        rooms,
		participants: participants,
		messages:     messages,
		notifier:     notifier,
		broadcaster:  broadcaster,
		resolver:     resolver,
		provisioner:  NewProvisioner(enrollments, rooms, participants, logger),
		service: NewService(
			resolver, rooms, participants, messages,
			notifier, broadcaster, nil, logger,
		),
	}
}

func enrollment(teacher, student uuid.UUID, tutor *uuid.UUID) models.Enrollment {
	return models.Enrollment{
		ID:        uuid.New(),
		TeacherID: teacher,
		StudentID: student,
		SubjectID: uuid.New(),
		TutorID:   tutor,
		IsActive:  true,
	}
}

func mustProvision(t *testing.T, env *testEnv, evType EnrollmentEventType, e models.Enrollment) {
	t.Helper()
	if err := env.provisioner.HandleEvent(context.Background(), EnrollmentEvent{Type: evType, Enrollment: e}); err != nil {
		t.Fatalf("HandleEvent(%s): %v", evType, err)
	}
}

func TestProvisionCreatesSubjectRoom(t *testing.T) {
	env := newTestEnv(t)
	teacher, student := uuid.New(), uuid.New()
	e := enrollment(teacher, student, nil)

	mustProvision(t, env, EnrollmentCreated, e)

	if got := env.rooms.activeCount(e.ID, models.RoomSubject); got != 1 {
		t.Fatalf("active subject rooms = %d, want 1", got)
	}
	if got := env.rooms.activeCount(e.ID, models.RoomTutor); got != 0 {
		t.Fatalf("active tutor rooms = %d, want 0", got)
	}

	room, _ := env.rooms.EnsureForEnrollment(context.Background(), e.ID, models.RoomSubject)
	for _, id := range []uuid.UUID{teacher, student} {
		ok, _ := env.participants.IsMember(context.Background(), room.ID, id)
		if !ok {
			t.Errorf("user %s not a participant of the subject room", id)
		}
	}
}

func TestProvisionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	e := enrollment(uuid.New(), uuid.New(), nil)

	mustProvision(t, env, EnrollmentCreated, e)
	mustProvision(t, env, EnrollmentCreated, e)

	if got := env.rooms.activeCount(e.ID, models.RoomSubject); got != 1 {
		t.Fatalf("after double provisioning: active subject rooms = %d, want 1", got)
	}
}

func TestProvisionWithTutorCreatesTwoRooms(t *testing.T) {
	env := newTestEnv(t)
	teacher, student, tutor := uuid.New(), uuid.New(), uuid.New()
	e := enrollment(teacher, student, &tutor)

	mustProvision(t, env, EnrollmentCreated, e)

	if got := env.rooms.activeCount(e.ID, models.RoomSubject); got != 1 {
		t.Fatalf("active subject rooms = %d, want 1", got)
	}
	if got := env.rooms.activeCount(e.ID, models.RoomTutor); got != 1 {
		t.Fatalf("active tutor rooms = %d, want 1", got)
	}

	tutorRoom, _ := env.rooms.EnsureForEnrollment(context.Background(), e.ID, models.RoomTutor)
	for _, want := range []struct {
		user uuid.UUID
		in   bool
	}{
		{tutor, true},
		{student, true},
		{teacher, false},
	} {
		ok, _ := env.participants.IsMember(context.Background(), tutorRoom.ID, want.user)
		if ok != want.in {
			t.Errorf("membership of %s in tutor room = %v, want %v", want.user, ok, want.in)
		}
	}
}

func TestDeactivationClosesRooms(t *testing.T) {
	env := newTestEnv(t)
	teacher, student := uuid.New(), uuid.New()
	e := enrollment(teacher, student, nil)
	mustProvision(t, env, EnrollmentCreated, e)

	room, _ := env.rooms.EnsureForEnrollment(context.Background(), e.ID, models.RoomSubject)
	mustProvision(t, env, EnrollmentDeactivated, e)

	got, _ := env.rooms.GetByID(context.Background(), room.ID)
	if got.IsActive {
		t.Fatal("room still active after enrollment deactivation")
	}

	// Sending into a closed room is RoomInactive, not silent success and
	// not AccessDenied.
	sender := models.User{ID: teacher, Role: models.RoleTeacher}
	_, err := env.service.Send(context.Background(), sender, room.ID, "hello?", nil)
	if !errors.Is(err, ErrRoomInactive) {
		t.Fatalf("Send to closed room: err = %v, want ErrRoomInactive", err)
	}
}

func TestToggleReusesRoomAndKeepsHistory(t *testing.T) {
	env := newTestEnv(t)
	teacher, student := uuid.New(), uuid.New()
	e := enrollment(teacher, student, nil)
	mustProvision(t, env, EnrollmentCreated, e)

	room, _ := env.rooms.EnsureForEnrollment(context.Background(), e.ID, models.RoomSubject)
	sender := models.User{ID: student, Role: models.RoleStudent}
	if _, err := env.service.Send(context.Background(), sender, room.ID, "before the toggle", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	mustProvision(t, env, EnrollmentDeactivated, e)
	mustProvision(t, env, EnrollmentReactivated, e)

	if got := env.rooms.activeCount(e.ID, models.RoomSubject); got != 1 {
		t.Fatalf("after toggle: active subject rooms = %d, want 1", got)
	}

	reactivated, _ := env.rooms.EnsureForEnrollment(context.Background(), e.ID, models.RoomSubject)
	if reactivated.ID != room.ID {
		t.Fatal("reactivation created a fresh room instead of reusing the old one")
	}

	page, err := env.service.History(context.Background(), sender, room.ID, 10, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].Body != "before the toggle" {
		t.Fatalf("history lost across toggle: %+v", page.Messages)
	}
}

func TestDeletionRemovesRoomsAndMessages(t *testing.T) {
	env := newTestEnv(t)
	teacher, student := uuid.New(), uuid.New()
	e := enrollment(teacher, student, nil)
	mustProvision(t, env, EnrollmentCreated, e)

	room, _ := env.rooms.EnsureForEnrollment(context.Background(), e.ID, models.RoomSubject)
	sender := models.User{ID: student, Role: models.RoleStudent}
	if _, err := env.service.Send(context.Background(), sender, room.ID, "doomed", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	mustProvision(t, env, EnrollmentDeleted, e)

	got, _ := env.rooms.GetByID(context.Background(), room.ID)
	if got != nil {
		t.Fatal("room survived enrollment deletion")
	}
	if _, err := env.service.History(context.Background(), sender, room.ID, 10, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("History on deleted room: err = %v, want ErrNotFound", err)
	}
}

func TestTwoTeachersSameSubjectGetIndependentRooms(t *testing.T) {
	env := newTestEnv(t)
	student := uuid.New()
	e1 := enrollment(uuid.New(), student, nil)
	e2 := enrollment(uuid.New(), student, nil)

	mustProvision(t, env, EnrollmentCreated, e1)
	mustProvision(t, env, EnrollmentCreated, e2)

	r1, _ := env.rooms.EnsureForEnrollment(context.Background(), e1.ID, models.RoomSubject)
	r2, _ := env.rooms.EnsureForEnrollment(context.Background(), e2.ID, models.RoomSubject)
	if r1.ID == r2.ID {
		t.Fatal("distinct enrollments share a subject room")
	}
}

func TestUnknownEventTypeIsValidationError(t *testing.T) {
	env := newTestEnv(t)
	err := env.provisioner.HandleEvent(context.Background(), EnrollmentEvent{
		Type:       "exploded",
		Enrollment: enrollment(uuid.New(), uuid.New(), nil),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}
