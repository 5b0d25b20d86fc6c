package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/tariel-x/tutorlive/internal/models"
	"github.com/tariel-x/tutorlive/internal/presence"

	"github.com/gin-gonic/gin"
)

type listCallsResponse struct {
	Status models.CallStatus    `json:"status"`
	Calls  []models.CallAttempt `json:"calls"`
}

// ListCalls lists recorded call attempts with the requested status. Admin only.
func (h *Handlers) ListCalls(c *gin.Context) {
	status := models.CallStatus(c.DefaultQuery("status", string(models.CallStatusRinging)))
	switch status {
	case models.CallStatusRinging, models.CallStatusActive, models.CallStatusEnded:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	calls := h.calls.ListByStatus(status, limit, h.nowFn())
	if calls == nil {
		calls = []models.CallAttempt{}
	}
	c.JSON(http.StatusOK, listCallsResponse{Status: status, Calls: calls})
}

// GetCall returns one attempt to either party or to an admin.
func (h *Handlers) GetCall(c *gin.Context) {
	call, err := h.calls.GetByID(c.Param("call_id"), h.nowFn())
	if err != nil {
		if errors.Is(err, ErrCallNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	id := requestIdentity(c)
	if id.Role != presence.RoleAdmin && !call.Involves(id.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, call)
}
