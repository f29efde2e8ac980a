package forum

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eduforum/forum/internal/models"
	"github.com/eduforum/forum/internal/repository"
)

// Notifier enqueues an outbound notification for a persisted message.
// Implementations must be fast and must own their own failure handling;
// the service only logs a returned error and never unwinds the send.
type Notifier interface {
	Notify(ctx context.Context, msg models.Message, room models.ChatRoom, recipientIDs []uuid.UUID) error
}

// Broadcaster pushes a persisted message or a typing event to connected
// clients. Same isolation contract as Notifier.
type Broadcaster interface {
	MessageCreated(ctx context.Context, msg models.Message) error
	Typing(ctx context.Context, roomID, userID uuid.UUID) error
}

// RecipientPolicy selects who an outbound notification covers.
type RecipientPolicy string

const (
	// NotifyOthers notifies every participant except the sender.
	NotifyOthers RecipientPolicy = "others"
	// NotifyAll notifies every participant, sender included.
	NotifyAll RecipientPolicy = "all"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// HistoryPage is one slice of a room's ordered history plus the total
// count, so clients can build pagination without a second request.
type HistoryPage struct {
	Messages []models.Message `json:"messages"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// Service is the message store and history front: sending, paginated
// retrieval, read markers, and the per-user room list. All operations go
// through the access resolver first.
type Service struct {
	access       *AccessResolver
	rooms        repository.RoomRepository
	participants repository.ParticipantRepository
	messages     repository.MessageRepository
	notifier     Notifier
	broadcaster  Broadcaster
	// recipientPolicies overrides the notification audience per room
	// type; room types not present use NotifyOthers.
	recipientPolicies map[models.RoomType]RecipientPolicy
	logger            *zap.Logger
}

func NewService(
	access *AccessResolver,
	rooms repository.RoomRepository,
	participants repository.ParticipantRepository,
	messages repository.MessageRepository,
	notifier Notifier,
	broadcaster Broadcaster,
	recipientPolicies map[models.RoomType]RecipientPolicy,
	logger *zap.Logger,
) *Service {
	return &Service{
		access:            access,
		rooms:             rooms,
		participants:      participants,
		messages:          messages,
		notifier:          notifier,
		broadcaster:       broadcaster,
		recipientPolicies: recipientPolicies,
		logger:            logger,
	}
}

// Send persists a message and fans out its side effects.
//
// Order of checks matters for the error contract: authorization first
// (unknown room → not found, no right → denied), then the active flag
// (closed conversation → ErrRoomInactive), then body validation. The
// body is stored exactly as received; trimming is only a validation
// probe, never a transformation.
//
// Notification and broadcast run after the insert and cannot fail it; a
// message is "sent" the moment the insert commits.
func (s *Service) Send(ctx context.Context, user models.User, roomID uuid.UUID, body string, replyTo *int64) (*models.Message, error) {
	room, err := s.access.Authorize(ctx, user, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, ErrRoomInactive
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: message body is empty", ErrValidation)
	}

	msg, err := s.messages.Create(ctx, room.ID, user.ID, body, replyTo)
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	s.dispatch(ctx, *msg, *room)

	return msg, nil
}

// dispatch runs the post-persistence side effects. Failures are logged
// and swallowed here so the caller's send has already succeeded.
//
// Insert and broadcast are not serialized per room: two concurrent
// sends can publish in the opposite of id order. The id is the ordering
// authority; clients slot frames by message id, and a resync replays
// the window id-ascending, so the inversion never survives a render.
func (s *Service) dispatch(ctx context.Context, msg models.Message, room models.ChatRoom) {
	if s.broadcaster != nil {
		if err := s.broadcaster.MessageCreated(ctx, msg); err != nil {
			s.logger.Warn("realtime broadcast failed",
				zap.Int64("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	if s.notifier == nil {
		return
	}
	recipients, err := s.recipients(ctx, msg, room)
	if err != nil {
		s.logger.Warn("recipient resolution failed",
			zap.Int64("message_id", msg.ID),
			zap.Error(err),
		)
		return
	}
	if err := s.notifier.Notify(ctx, msg, room, recipients); err != nil {
		s.logger.Warn("notification enqueue failed",
			zap.Int64("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) recipients(ctx context.Context, msg models.Message, room models.ChatRoom) ([]uuid.UUID, error) {
	members, err := s.participants.ListByRoom(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	policy := s.recipientPolicies[room.Type]
	if policy == "" {
		policy = NotifyOthers
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		if policy == NotifyOthers && m.UserID == msg.SenderID {
			continue
		}
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

// History returns one page of a room's messages, oldest first. An offset
// past the end yields an empty page with the real total, not an error.
func (s *Service) History(ctx context.Context, user models.User, roomID uuid.UUID, limit, offset int) (*HistoryPage, error) {
	if _, err := s.access.Authorize(ctx, user, roomID); err != nil {
		return nil, err
	}

	if limit == 0 {
		limit = defaultHistoryLimit
	}
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must be non-negative", ErrValidation)
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	messages, total, err := s.messages.ListByRoom(ctx, roomID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	return &HistoryPage{
		Messages: messages,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}, nil
}

// CheckRead runs the access resolver for (user, room) without touching
// any messages. The realtime layer calls this on every subscribe.
func (s *Service) CheckRead(ctx context.Context, user models.User, roomID uuid.UUID) error {
	_, err := s.access.Authorize(ctx, user, roomID)
	return err
}

// Recent returns the newest n messages in ascending order, the resync
// window a reconnecting realtime client reconciles against.
func (s *Service) Recent(ctx context.Context, user models.User, roomID uuid.UUID, n int) ([]models.Message, error) {
	if _, err := s.access.Authorize(ctx, user, roomID); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = defaultHistoryLimit
	}

	messages, err := s.messages.ListRecent(ctx, roomID, n)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	return messages, nil
}

// MarkRead advances the user's read marker to upTo. The marker is a
// single per-participant row, so unread bookkeeping costs one update
// regardless of how many messages it covers.
func (s *Service) MarkRead(ctx context.Context, user models.User, roomID uuid.UUID, upTo int64) error {
	if _, err := s.access.Authorize(ctx, user, roomID); err != nil {
		return err
	}
	if upTo <= 0 {
		return fmt.Errorf("%w: message id must be positive", ErrValidation)
	}

	if err := s.participants.SetLastRead(ctx, roomID, user.ID, upTo); err != nil {
		return fmt.Errorf("set read marker: %w", err)
	}
	return nil
}

// NotifyTyping relays an ephemeral typing event for a room the user can
// read. Nothing is persisted.
func (s *Service) NotifyTyping(ctx context.Context, user models.User, roomID uuid.UUID) error {
	if _, err := s.access.Authorize(ctx, user, roomID); err != nil {
		return err
	}
	if s.broadcaster == nil {
		return nil
	}
	return s.broadcaster.Typing(ctx, roomID, user.ID)
}

// ListRooms returns the rooms the user participates in, each with unread
// count and last-message preview. A user with no participant rows (a
// parent, say) gets an empty list, whatever their family ties.
func (s *Service) ListRooms(ctx context.Context, user models.User) ([]models.RoomSummary, error) {
	rooms, err := s.rooms.ListByParticipant(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	summaries := make([]models.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		p, err := s.participants.Get(ctx, room.ID, user.ID)
		if err != nil {
			return nil, fmt.Errorf("load participant: %w", err)
		}
		var lastRead int64
		if p != nil {
			lastRead = p.LastReadMessageID
		}

		unread, err := s.messages.UnreadCount(ctx, room.ID, user.ID, lastRead)
		if err != nil {
			return nil, fmt.Errorf("count unread: %w", err)
		}

		last, err := s.messages.LastByRoom(ctx, room.ID)
		if err != nil {
			return nil, fmt.Errorf("load last message: %w", err)
		}

		summaries = append(summaries, models.RoomSummary{
			Room:        room,
			UnreadCount: unread,
			LastMessage: last,
		})
	}

	return summaries, nil
}
