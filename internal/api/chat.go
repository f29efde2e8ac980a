package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eduforum/forum/internal/forum"
	"github.com/eduforum/forum/internal/middleware"
)

// ChatHandler serves the room list, message history, send, and read
// marker endpoints. All authorization lives in the forum service; the
// handler only parses and maps errors.
type ChatHandler struct {
	service *forum.Service
	logger  *zap.Logger
}

func NewChatHandler(service *forum.Service, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{service: service, logger: logger}
}

// List handles GET /v1/chats/
func (h *ChatHandler) List(c *gin.Context) {
	user := middleware.GetUser(c)

	summaries, err := h.service.ListRooms(c.Request.Context(), user)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, summaries)
}

// History handles GET /v1/chats/:id/messages?limit=&offset=
func (h *ChatHandler) History(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}

	user := middleware.GetUser(c)
	page, err := h.service.History(c.Request.Context(), user, roomID, limit, offset)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

type sendMessageRequest struct {
	Body    string `json:"body" binding:"required"`
	ReplyTo *int64 `json:"reply_to"`
}

// Send handles POST /v1/chats/:id/messages
func (h *ChatHandler) Send(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := middleware.GetUser(c)
	msg, err := h.service.Send(c.Request.Context(), user, roomID, req.Body, req.ReplyTo)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

type markReadRequest struct {
	UpTo int64 `json:"up_to" binding:"required"`
}

// MarkRead handles POST /v1/chats/:id/read
func (h *ChatHandler) MarkRead(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := middleware.GetUser(c)
	if err := h.service.MarkRead(c.Request.Context(), user, roomID, req.UpTo); err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// queryInt reads a non-negative integer query parameter, responding with
// 400 itself on bad input.
func queryInt(c *gin.Context, name string, defaultValue int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return defaultValue, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid '" + name + "' parameter"})
		return 0, false
	}
	return n, true
}
