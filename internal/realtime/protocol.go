package realtime

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/eduforum/forum/internal/models"
)

// Wire protocol for the realtime channel. One JSON frame per websocket
// text message, discriminated by Type.

// Client → server frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSend        = "send"
	FrameTyping      = "typing"
	FrameResync      = "resync"
)

// Server → client frame types.
const (
	FrameMessageCreated = "message_created"
	FrameError          = "error"
)

// ClientFrame is anything the client sends.
type ClientFrame struct {
	Type    string    `json:"type"`
	RoomID  uuid.UUID `json:"room_id"`
	Body    string    `json:"body,omitempty"`
	ReplyTo *int64    `json:"reply_to,omitempty"`
}

// ServerFrame is anything the server pushes. Exactly the fields for the
// frame's type are set; the rest stay omitted.
type ServerFrame struct {
	Type     string           `json:"type"`
	RoomID   uuid.UUID        `json:"room_id,omitempty"`
	Message  *models.Message  `json:"message,omitempty"`
	Messages []models.Message `json:"messages,omitempty"`
	UserID   uuid.UUID        `json:"user_id,omitempty"`
	Code     string           `json:"code,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func encodeFrame(f ServerFrame) []byte {
	// ServerFrame marshals from plain scalars and models; this cannot fail
	// at runtime.
	b, _ := json.Marshal(f)
	return b
}

func messageCreatedFrame(msg models.Message) []byte {
	return encodeFrame(ServerFrame{
		Type:    FrameMessageCreated,
		RoomID:  msg.RoomID,
		Message: &msg,
	})
}

func typingFrame(roomID, userID uuid.UUID) []byte {
	return encodeFrame(ServerFrame{
		Type:   FrameTyping,
		RoomID: roomID,
		UserID: userID,
	})
}

func resyncFrame(roomID uuid.UUID, messages []models.Message) []byte {
	return encodeFrame(ServerFrame{
		Type:     FrameResync,
		RoomID:   roomID,
		Messages: messages,
	})
}

func errorFrame(code, message string) []byte {
	return encodeFrame(ServerFrame{
		Type:  FrameError,
		Code:  code,
		Error: message,
	})
}
