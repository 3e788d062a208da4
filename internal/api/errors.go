package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"table-status-backend/internal/admission"
	"table-status-backend/internal/auth"
	"table-status-backend/internal/store"
)

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{admission.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "unauthenticated"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{admission.ErrForbidden, http.StatusForbidden, "forbidden"},
	{admission.ErrOffSite, http.StatusForbidden, "off_site"},
	{admission.ErrNotFound, http.StatusNotFound, "not_found"},
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
	{admission.ErrConflict, http.StatusConflict, "conflict"},
	{auth.ErrEmailTaken, http.StatusConflict, "email_taken"},
	{admission.ErrValidation, http.StatusBadRequest, "validation_error"},
	{auth.ErrInvalidEmail, http.StatusBadRequest, "validation_error"},
	{auth.ErrWeakPassword, http.StatusBadRequest, "validation_error"},
	{admission.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{admission.ErrLocationUnavailable, http.StatusUnprocessableEntity, "location_unavailable"},
	{admission.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
}

// writeError renders err as {"error": code, "message": text} with the matching status.
// Unknown errors are logged and reported as unavailable.
func (h *Handler) writeError(c *gin.Context, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			if e.status >= 500 {
				h.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
			}
			c.JSON(e.status, gin.H{"error": e.code, "message": err.Error()})
			return
		}
	}
	h.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	_ = c.Error(err)
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable", "message": admission.ErrStoreUnavailable.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
}
