package forum

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eduforum/forum/internal/models"
)

// In-memory repository fakes. They honor the same contracts as the pgx
// stores: nil, nil for missing rows, idempotent upserts, monotonic read
// markers, and the (enrollment, type) uniqueness that EnsureForEnrollment
// leans on.

type fakeEnrollments struct {
	mu   sync.Mutex
	rows map[uuid.UUID]models.Enrollment
}

func newFakeEnrollments() *fakeEnrollments {
	return &fakeEnrollments{rows: make(map[uuid.UUID]models.Enrollment)}
}

func (f *fakeEnrollments) Upsert(_ context.Context, e models.Enrollment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[e.ID] = e
	return nil
}

func (f *fakeEnrollments) GetByID(_ context.Context, id uuid.UUID) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (f *fakeEnrollments) FindActiveByPair(_ context.Context, teacherID, studentID uuid.UUID) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.rows {
		if e.IsActive && e.TeacherID == teacherID && e.StudentID == studentID {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeEnrollments) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

type roomKey struct {
	enrollment uuid.UUID
	roomType   models.RoomType
}

type fakeRooms struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]models.ChatRoom
	byPair map[roomKey]uuid.UUID

	participants *fakeParticipants
	messages     *fakeMessages
}

func newFakeRooms(participants *fakeParticipants, messages *fakeMessages) *fakeRooms {
	return &fakeRooms{
		rows:         make(map[uuid.UUID]models.ChatRoom),
		byPair:       make(map[roomKey]uuid.UUID),
		participants: participants,
		messages:     messages,
	}
}

func (f *fakeRooms) EnsureForEnrollment(_ context.Context, enrollmentID uuid.UUID, roomType models.RoomType) (*models.ChatRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := roomKey{enrollment: enrollmentID, roomType: roomType}
	if id, ok := f.byPair[key]; ok {
		room := f.rows[id]
		room.IsActive = true
		f.rows[id] = room
		return &room, nil
	}

	eid := enrollmentID
	room := models.ChatRoom{
		ID:           uuid.New(),
		Type:         roomType,
		IsActive:     true,
		EnrollmentID: &eid,
		CreatedAt:    time.Now(),
	}
	f.rows[room.ID] = room
	f.byPair[key] = room.ID
	return &room, nil
}

// addRoom seeds an arbitrary room, for tests exercising rooms the
// provisioner does not own (direct/support, legacy subject rooms).
func (f *fakeRooms) addRoom(room models.ChatRoom) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[room.ID] = room
	if room.EnrollmentID != nil {
		f.byPair[roomKey{enrollment: *room.EnrollmentID, roomType: room.Type}] = room.ID
	}
}

func (f *fakeRooms) GetByID(_ context.Context, roomID uuid.UUID) (*models.ChatRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rows[roomID]
	if !ok {
		return nil, nil
	}
	return &room, nil
}

func (f *fakeRooms) SetEnrollment(_ context.Context, roomID, enrollmentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rows[roomID]
	if !ok || room.EnrollmentID != nil {
		return nil
	}
	eid := enrollmentID
	room.EnrollmentID = &eid
	f.rows[roomID] = room
	f.byPair[roomKey{enrollment: enrollmentID, roomType: room.Type}] = roomID
	return nil
}

func (f *fakeRooms) DeactivateByEnrollment(_ context.Context, enrollmentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, room := range f.rows {
		if room.EnrollmentID != nil && *room.EnrollmentID == enrollmentID {
			room.IsActive = false
			f.rows[id] = room
		}
	}
	return nil
}

func (f *fakeRooms) DeleteByEnrollment(ctx context.Context, enrollmentID uuid.UUID) error {
	f.mu.Lock()
	var doomed []uuid.UUID
	for id, room := range f.rows {
		if room.EnrollmentID != nil && *room.EnrollmentID == enrollmentID {
			doomed = append(doomed, id)
			delete(f.rows, id)
			delete(f.byPair, roomKey{enrollment: enrollmentID, roomType: room.Type})
		}
	}
	f.mu.Unlock()

	// Cascade, as the FK does in Postgres.
	for _, id := range doomed {
		f.participants.deleteByRoom(id)
		f.messages.deleteByRoom(id)
	}
	return nil
}

func (f *fakeRooms) PurgeExpired(_ context.Context) (int64, error) {
	f.mu.Lock()
	now := time.Now()
	var doomed []uuid.UUID
	for id, room := range f.rows {
		if room.AutoDeleteAfterDays <= 0 {
			continue
		}
		lastActivity := room.CreatedAt
		if t, ok := f.messages.lastCreatedAt(id); ok {
			lastActivity = t
		}
		if now.Sub(lastActivity) > time.Duration(room.AutoDeleteAfterDays)*24*time.Hour {
			doomed = append(doomed, id)
			delete(f.rows, id)
			if room.EnrollmentID != nil {
				delete(f.byPair, roomKey{enrollment: *room.EnrollmentID, roomType: room.Type})
			}
		}
	}
	f.mu.Unlock()

	for _, id := range doomed {
		f.participants.deleteByRoom(id)
		f.messages.deleteByRoom(id)
	}
	return int64(len(doomed)), nil
}

func (f *fakeRooms) ListByParticipant(ctx context.Context, userID uuid.UUID) ([]models.ChatRoom, error) {
	memberOf := f.participants.roomsOf(userID)

	f.mu.Lock()
	defer f.mu.Unlock()
	rooms := make([]models.ChatRoom, 0)
	for _, roomID := range memberOf {
		if room, ok := f.rows[roomID]; ok {
			rooms = append(rooms, room)
		}
	}
	return rooms, nil
}

func (f *fakeRooms) activeCount(enrollmentID uuid.UUID, roomType models.RoomType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, room := range f.rows {
		if room.IsActive && room.Type == roomType &&
			room.EnrollmentID != nil && *room.EnrollmentID == enrollmentID {
			n++
		}
	}
	return n
}

type participantKey struct {
	room uuid.UUID
	user uuid.UUID
}

type fakeParticipants struct {
	mu   sync.Mutex
	rows map[participantKey]models.Participant
}

func newFakeParticipants() *fakeParticipants {
	return &fakeParticipants{rows: make(map[participantKey]models.Participant)}
}

func (f *fakeParticipants) Add(_ context.Context, roomID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := participantKey{room: roomID, user: userID}
	if _, ok := f.rows[key]; ok {
		return nil
	}
	f.rows[key] = models.Participant{RoomID: roomID, UserID: userID, JoinedAt: time.Now()}
	return nil
}

func (f *fakeParticipants) Get(_ context.Context, roomID, userID uuid.UUID) (*models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[participantKey{room: roomID, user: userID}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeParticipants) ListByRoom(_ context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	participants := make([]models.Participant, 0)
	for _, p := range f.rows {
		if p.RoomID == roomID {
			participants = append(participants, p)
		}
	}
	return participants, nil
}

func (f *fakeParticipants) IsMember(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[participantKey{room: roomID, user: userID}]
	return ok, nil
}

func (f *fakeParticipants) SetLastRead(_ context.Context, roomID, userID uuid.UUID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := participantKey{room: roomID, user: userID}
	p, ok := f.rows[key]
	if !ok {
		return nil
	}
	if messageID > p.LastReadMessageID {
		p.LastReadMessageID = messageID
		f.rows[key] = p
	}
	return nil
}

func (f *fakeParticipants) roomsOf(userID uuid.UUID) []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rooms []uuid.UUID
	for _, p := range f.rows {
		if p.UserID == userID {
			rooms = append(rooms, p.RoomID)
		}
	}
	return rooms
}

func (f *fakeParticipants) deleteByRoom(roomID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.rows {
		if key.room == roomID {
			delete(f.rows, key)
		}
	}
}

type fakeMessages struct {
	mu     sync.Mutex
	nextID int64
	rows   []models.Message
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{nextID: 1}
}

func (f *fakeMessages) Create(_ context.Context, roomID, senderID uuid.UUID, body string, replyTo *int64) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := models.Message{
		ID:        f.nextID,
		RoomID:    roomID,
		SenderID:  senderID,
		Body:      body,
		ReplyToID: replyTo,
		CreatedAt: time.Now(),
	}
	f.nextID++
	f.rows = append(f.rows, msg)
	return &msg, nil
}

func (f *fakeMessages) ListByRoom(_ context.Context, roomID uuid.UUID, limit, offset int) ([]models.Message, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.byRoomLocked(roomID)
	total := len(all)

	if offset >= total {
		return []models.Message{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := make([]models.Message, end-offset)
	copy(page, all[offset:end])
	return page, total, nil
}

func (f *fakeMessages) ListRecent(_ context.Context, roomID uuid.UUID, n int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.byRoomLocked(roomID)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (f *fakeMessages) UnreadCount(_ context.Context, roomID, userID uuid.UUID, afterID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, msg := range f.rows {
		if msg.RoomID == roomID && msg.ID > afterID && msg.SenderID != userID {
			count++
		}
	}
	return count, nil
}

func (f *fakeMessages) LastByRoom(_ context.Context, roomID uuid.UUID) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.byRoomLocked(roomID)
	if len(all) == 0 {
		return nil, nil
	}
	last := all[len(all)-1]
	return &last, nil
}

// addMessage seeds a message with an explicit timestamp, for tests
// that need activity in the past.
func (f *fakeMessages) addMessage(roomID, senderID uuid.UUID, body string, createdAt time.Time) models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := models.Message{
		ID:        f.nextID,
		RoomID:    roomID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: createdAt,
	}
	f.nextID++
	f.rows = append(f.rows, msg)
	return msg
}

func (f *fakeMessages) lastCreatedAt(roomID uuid.UUID) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last time.Time
	found := false
	for _, msg := range f.rows {
		if msg.RoomID == roomID && msg.CreatedAt.After(last) {
			last = msg.CreatedAt
			found = true
		}
	}
	return last, found
}

func (f *fakeMessages) byRoomLocked(roomID uuid.UUID) []models.Message {
	var out []models.Message
	for _, msg := range f.rows {
		if msg.RoomID == roomID {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeMessages) deleteByRoom(roomID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.rows[:0]
	for _, msg := range f.rows {
		if msg.RoomID != roomID {
			kept = append(kept, msg)
		}
	}
	f.rows = kept
}

// fakeNotifier records Notify calls and optionally fails them, for the
// notification-isolation tests.
type fakeNotifier struct {
	mu         sync.Mutex
	calls      int
	recipients [][]uuid.UUID
	err        error
}

func (f *fakeNotifier) Notify(_ context.Context, _ models.Message, _ models.ChatRoom, recipientIDs []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.recipients = append(f.recipients, recipientIDs)
	return f.err
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []models.Message
	typing   []uuid.UUID
	err      error
}

func (f *fakeBroadcaster) MessageCreated(_ context.Context, msg models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return f.err
}

func (f *fakeBroadcaster) Typing(_ context.Context, _, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, userID)
	return f.err
}
