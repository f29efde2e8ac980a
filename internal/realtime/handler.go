package realtime

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eduforum/forum/internal/auth"
	"github.com/eduforum/forum/internal/forum"
	"github.com/eduforum/forum/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browsers cannot set an Authorization header on a websocket, so the
	// credential rides in the query string and origin checking is left to
	// the fronting proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler owns the websocket endpoint: upgrade, per-connection auth, and
// the read loop dispatching client frames.
type Handler struct {
	hub          *Hub
	service      *forum.Service
	jwtSecret    string
	resyncWindow int
	logger       *zap.Logger
}

func NewHandler(hub *Hub, service *forum.Service, jwtSecret string, resyncWindow int, logger *zap.Logger) *Handler {
	return &Handler{
		hub:          hub,
		service:      service,
		jwtSecret:    jwtSecret,
		resyncWindow: resyncWindow,
		logger:       logger,
	}
}

// Serve handles GET /v1/ws?token=<jwt>.
//
// The token is validated before the upgrade, and the access resolver is
// re-run on every subscribe; a connection is never trusted just because
// an earlier HTTP request from the same client succeeded.
func (h *Handler) Serve(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := auth.ParseToken(token, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error to the client.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	user := models.User{ID: claims.UserID, Role: claims.Role, Email: claims.Email}
	conn := NewConnection(user, ws)

	router := h.hub.Router()
	router.Attach(conn)
	defer func() {
		router.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "bye")
	}()

	h.readLoop(c, conn)
}

func (h *Handler) readLoop(c *gin.Context, conn *Connection) {
	for {
		payload, err := conn.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed unexpectedly",
					zap.String("user_id", conn.User.ID.String()),
					zap.Error(err),
				)
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			_ = conn.Send(errorFrame("bad_frame", "malformed frame"))
			continue
		}

		if closed := h.handleFrame(c, conn, frame); closed {
			return
		}
	}
}

// handleFrame dispatches one client frame. Returns true when the
// connection must be torn down (failed subscribe authorization).
func (h *Handler) handleFrame(c *gin.Context, conn *Connection, frame ClientFrame) bool {
	ctx := c.Request.Context()
	router := h.hub.Router()

	switch frame.Type {
	case FrameSubscribe:
		// Full read check on every subscribe, against live enrollment
		// state. A failed subscribe closes the connection outright rather
		// than leaving the client half-attached.
		if err := h.service.CheckRead(ctx, conn.User, frame.RoomID); err != nil {
			_ = conn.Send(errorFrame(errCode(err), "subscribe refused"))
			conn.Close(websocket.ClosePolicyViolation, "subscribe refused")
			return true
		}
		router.Join(frame.RoomID, conn)

	case FrameUnsubscribe:
		router.Leave(frame.RoomID, conn)

	case FrameSend:
		msg, err := h.service.Send(ctx, conn.User, frame.RoomID, frame.Body, frame.ReplyTo)
		if err != nil {
			_ = conn.Send(errorFrame(errCode(err), "send rejected"))
			return false
		}
		_ = msg // delivery, sender echo included, happens via the hub broadcast

	case FrameTyping:
		if !router.IsJoined(frame.RoomID, conn) {
			_ = conn.Send(errorFrame("not_subscribed", "subscribe before typing"))
			return false
		}
		if err := h.service.NotifyTyping(ctx, conn.User, frame.RoomID); err != nil {
			_ = conn.Send(errorFrame(errCode(err), "typing rejected"))
		}

	case FrameResync:
		recent, err := h.service.Recent(ctx, conn.User, frame.RoomID, h.resyncWindow)
		if err != nil {
			_ = conn.Send(errorFrame(errCode(err), "resync refused"))
			return false
		}
		_ = conn.Send(resyncFrame(frame.RoomID, recent))

	default:
		_ = conn.Send(errorFrame("bad_frame", "unknown frame type"))
	}

	return false
}

func errCode(err error) string {
	switch {
	case errors.Is(err, forum.ErrNotFound):
		return "not_found"
	case errors.Is(err, forum.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, forum.ErrRoomInactive):
		return "room_inactive"
	case errors.Is(err, forum.ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}
