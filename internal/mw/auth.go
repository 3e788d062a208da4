package mw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"table-status-backend/internal/auth"
)

const identityKey = "identity"

// Verifier resolves a session token to an identity.
type Verifier interface {
	Verify(token string) (*auth.Identity, error)
}

// Authenticate attaches the identity of a valid bearer token to the request. Requests
// without a token pass through anonymously; a token that fails verification is rejected.
// Browsers cannot set headers on WebSocket upgrades, so a "token" query parameter is
// accepted as well.
func Authenticate(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			c.Next()
			return
		}
		id, err := v.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": err.Error()})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireAuth rejects anonymous requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IdentityFrom(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "sign in to continue"})
			return
		}
		c.Next()
	}
}

// RequireStaff rejects requests that are not made by staff.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := IdentityFrom(c)
		if id == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "sign in to continue"})
			return
		}
		if !id.IsStaff() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "staff only"})
			return
		}
		c.Next()
	}
}

// IdentityFrom returns the identity attached by Authenticate, or nil.
func IdentityFrom(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*auth.Identity)
	return id
}

// BearerToken extracts the session token from the Authorization header or the token
// query parameter.
func BearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query("token")
}
