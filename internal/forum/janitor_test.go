package forum

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eduforum/forum/internal/models"
)

func TestSweepPurgesIdleExpiredRoom(t *testing.T) {
	ctx := context.Background()
	participants := newFakeParticipants()
	messages := newFakeMessages()
	rooms := newFakeRooms(participants, messages)
	janitor := NewJanitor(rooms, time.Hour, zap.NewNop())

	alice, bob := uuid.New(), uuid.New()

	expired := models.ChatRoom{
		ID:                  uuid.New(),
		Type:                models.RoomDirect,
		IsActive:            true,
		AutoDeleteAfterDays: 30,
		CreatedAt:           time.Now().AddDate(0, 0, -60),
	}
	rooms.addRoom(expired)
	participants.Add(ctx, expired.ID, alice)
	participants.Add(ctx, expired.ID, bob)
	messages.addMessage(expired.ID, alice, "old", time.Now().AddDate(0, 0, -40))

	active := models.ChatRoom{
		ID:                  uuid.New(),
		Type:                models.RoomDirect,
		IsActive:            true,
		AutoDeleteAfterDays: 30,
		CreatedAt:           time.Now().AddDate(0, 0, -60),
	}
	rooms.addRoom(active)
	participants.Add(ctx, active.ID, alice)
	messages.addMessage(active.ID, alice, "fresh", time.Now().AddDate(0, 0, -1))

	keeper := models.ChatRoom{
		ID:        uuid.New(),
		Type:      models.RoomSupport,
		IsActive:  true,
		CreatedAt: time.Now().AddDate(-2, 0, 0),
	}
	rooms.addRoom(keeper)

	purged, err := janitor.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged %d rooms, want 1", purged)
	}

	if room, _ := rooms.GetByID(ctx, expired.ID); room != nil {
		t.Fatal("expired room survived the sweep")
	}
	if member, _ := participants.IsMember(ctx, expired.ID, alice); member {
		t.Fatal("membership survived the purged room")
	}
	if msgs, _, _ := messages.ListByRoom(ctx, expired.ID, 10, 0); len(msgs) != 0 {
		t.Fatalf("purged room still has %d messages", len(msgs))
	}

	// A recent message resets the clock; a zero window opts out entirely.
	if room, _ := rooms.GetByID(ctx, active.ID); room == nil {
		t.Fatal("recently active room was purged")
	}
	if room, _ := rooms.GetByID(ctx, keeper.ID); room == nil {
		t.Fatal("room without a retention window was purged")
	}

	purged, err = janitor.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if purged != 0 {
		t.Fatalf("second sweep purged %d rooms, want 0", purged)
	}
}

func TestSweepMeasuresFromCreationWhenRoomIsSilent(t *testing.T) {
	ctx := context.Background()
	participants := newFakeParticipants()
	messages := newFakeMessages()
	rooms := newFakeRooms(participants, messages)
	janitor := NewJanitor(rooms, time.Hour, zap.NewNop())

	silent := models.ChatRoom{
		ID:                  uuid.New(),
		Type:                models.RoomGroup,
		IsActive:            true,
		AutoDeleteAfterDays: 7,
		CreatedAt:           time.Now().AddDate(0, 0, -8),
	}
	rooms.addRoom(silent)

	purged, err := janitor.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged %d rooms, want 1", purged)
	}
}
