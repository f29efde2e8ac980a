package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eduforum/forum/internal/forum"
	"github.com/eduforum/forum/internal/middleware"
	"github.com/eduforum/forum/internal/models"
)

// EnrollmentHandler receives enrollment lifecycle events from the
// scheduling side of the platform and feeds them to the provisioner.
type EnrollmentHandler struct {
	provisioner *forum.Provisioner
	logger      *zap.Logger
}

func NewEnrollmentHandler(provisioner *forum.Provisioner, logger *zap.Logger) *EnrollmentHandler {
	return &EnrollmentHandler{provisioner: provisioner, logger: logger}
}

// HandleEvent handles POST /v1/enrollments/events. Admin-only: the
// emitting service authenticates with an admin-role token.
func (h *EnrollmentHandler) HandleEvent(c *gin.Context) {
	if middleware.GetRole(c) != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	var ev forum.EnrollmentEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.provisioner.HandleEvent(c.Request.Context(), ev); err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}
