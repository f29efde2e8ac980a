package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eduforum/forum/internal/forum"
)

// writeError maps forum sentinel errors onto HTTP responses. Anything
// outside the taxonomy is logged and collapsed into a generic 500 so
// internals never leak to clients.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, forum.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, forum.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, forum.ErrRoomInactive):
		c.JSON(http.StatusConflict, gin.H{"error": "this conversation is closed", "code": "room_inactive"})
	case errors.Is(err, forum.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
