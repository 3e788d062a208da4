package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"table-status-backend/internal/admission"
	"table-status-backend/internal/mw"
)

type signUpRequest struct {
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
	StaffCode string `json:"staffCode"`
}

// SignUp registers an account and returns a session.
func (h *Handler) SignUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.auth.SignUp(c.Request.Context(), req.Email, req.Password, req.StaffCode)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.log.WithField("user_id", sess.Identity.UserID).WithField("role", sess.Identity.Role).Info("account created")
	c.JSON(http.StatusCreated, sess)
}

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SignIn returns a session for valid credentials.
func (h *Handler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// SignOut revokes the presented token.
func (h *Handler) SignOut(c *gin.Context) {
	if err := h.auth.SignOut(mw.BearerToken(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully!"})
}

// Me returns the identity of the current session.
func (h *Handler) Me(c *gin.Context) {
	id := mw.IdentityFrom(c)
	if id == nil {
		h.writeError(c, admission.ErrUnauthenticated)
		return
	}
	c.JSON(http.StatusOK, id)
}
