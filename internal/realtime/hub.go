package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eduforum/forum/internal/models"
)

const roomChannelPrefix = "forum:room:"

// envelope is what travels over Redis Pub/Sub: the already-encoded client
// frame plus the user to exclude from fan-out, if any.
type envelope struct {
	RoomID  uuid.UUID       `json:"room_id"`
	Exclude *uuid.UUID      `json:"exclude,omitempty"`
	Frame   json.RawMessage `json:"frame"`
}

// Hub bridges the in-process Router to Redis Pub/Sub so every server
// instance sees every room event, whichever instance accepted the
// sender's connection. Redis preserves publish order per channel and the
// single subscriber goroutine relays in receive order, so per-room
// delivery order survives the hop.
//
// With a nil Redis client the hub degrades to local-only fan-out, which
// is what single-node deployments and the tests use.
type Hub struct {
	router *Router
	rdb    *redis.Client
	logger *zap.Logger
}

func NewHub(router *Router, rdb *redis.Client, logger *zap.Logger) *Hub {
	return &Hub{
		router: router,
		rdb:    rdb,
		logger: logger,
	}
}

// Router exposes the hub's connection router to the websocket handler.
func (h *Hub) Router() *Router {
	return h.router
}

// MessageCreated broadcasts a persisted message to the room's
// subscribers. The sender's own connection receives it too: the echo is
// the client's delivery confirmation. Callers publish after their own
// insert commits; across concurrent senders the id, not arrival order,
// decides where the frame sorts.
func (h *Hub) MessageCreated(ctx context.Context, msg models.Message) error {
	return h.publish(ctx, msg.RoomID, messageCreatedFrame(msg), nil)
}

// Typing broadcasts an ephemeral typing event to everyone in the room
// except the typist. Nothing is persisted.
func (h *Hub) Typing(ctx context.Context, roomID, userID uuid.UUID) error {
	return h.publish(ctx, roomID, typingFrame(roomID, userID), &userID)
}

func (h *Hub) publish(ctx context.Context, roomID uuid.UUID, frame []byte, exclude *uuid.UUID) error {
	if h.rdb == nil {
		h.router.Broadcast(roomID, frame, exclude)
		return nil
	}

	payload, err := json.Marshal(envelope{RoomID: roomID, Exclude: exclude, Frame: frame})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := h.rdb.Publish(ctx, roomChannelPrefix+roomID.String(), payload).Err(); err != nil {
		return fmt.Errorf("publish room event: %w", err)
	}
	return nil
}

// Run subscribes to all room channels and relays events to the local
// router until the context is canceled. Each instance runs exactly one
// of these.
func (h *Hub) Run(ctx context.Context) error {
	if h.rdb == nil {
		<-ctx.Done()
		return nil
	}

	sub := h.rdb.PSubscribe(ctx, roomChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.relay(msg)
		}
	}
}

func (h *Hub) relay(msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		h.logger.Warn("malformed room event",
			zap.String("channel", msg.Channel),
			zap.Error(err),
		)
		return
	}
	if !strings.HasPrefix(msg.Channel, roomChannelPrefix) {
		return
	}
	h.router.Broadcast(env.RoomID, env.Frame, env.Exclude)
}
