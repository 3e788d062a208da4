package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"table-status-backend/internal/admission"
	"table-status-backend/internal/model"
	"table-status-backend/internal/mw"
)

type reportRequest struct {
	Issue string `json:"issue"`
}

// PostReport records an issue reported by a guest or staff member.
func (h *Handler) PostReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	issue := strings.TrimSpace(req.Issue)
	if issue == "" {
		h.writeError(c, fmt.Errorf("%w: please describe the issue", admission.ErrValidation))
		return
	}

	r := &model.Report{Issue: issue, ReportedAt: h.now().UTC()}
	if id := mw.IdentityFrom(c); id != nil {
		r.ReportedBy = id.UserID
	}
	if err := h.store.AddReport(c.Request.Context(), r); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Issue reported successfully!", "report": r})
}
