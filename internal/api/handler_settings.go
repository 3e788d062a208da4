package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"table-status-backend/internal/mw"
)

// GetDemoMode reports whether the geofence is bypassed.
func (h *Handler) GetDemoMode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": h.demo.Enabled()})
}

type demoModeRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// PutDemoMode switches demo mode for every session and persists the choice.
func (h *Handler) PutDemoMode(c *gin.Context) {
	var req demoModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.demo.Set(c.Request.Context(), *req.Enabled); err != nil {
		h.writeError(c, err)
		return
	}
	h.log.WithField("user_id", mw.IdentityFrom(c).UserID).WithField("enabled", *req.Enabled).Info("demo mode updated")
	c.JSON(http.StatusOK, gin.H{"enabled": h.demo.Enabled()})
}
