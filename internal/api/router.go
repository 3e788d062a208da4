package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"table-status-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(mw.Logger(d.Log), gin.Recovery())

	handler := NewHandler(d)

	limit, burst := d.RateLimit, d.RateBurst
	if limit <= 0 {
		limit = rate.Limit(10)
	}
	if burst <= 0 {
		burst = 5
	}
	rateLimiter := mw.RateLimiter(limit, burst)

	ttl := d.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(rateLimiter, mw.Authenticate(d.Auth))
	{
		api.POST("/auth/signup", handler.SignUp)
		api.POST("/auth/signin", handler.SignIn)
		api.POST("/auth/signout", handler.SignOut)

		api.GET("/tables", handler.GetTables)
		api.GET("/tables/:id", handler.GetTable)
		api.GET("/settings/demo", handler.GetDemoMode)
		api.POST("/reports", handler.PostReport)
		api.GET("/stream", handler.Stream)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
		api.GET("/subscriptions", handler.GetSubscription)
	}

	signedIn := api.Group("", mw.RequireAuth())
	{
		signedIn.GET("/auth/me", handler.Me)
		signedIn.POST("/tables/:id/claim", handler.ClaimTable)
		signedIn.GET("/claims/quota", handler.GetClaimQuota)
	}

	staff := api.Group("", mw.RequireStaff())
	{
		staff.POST("/tables", handler.CreateTable)
		staff.PUT("/tables/:id", handler.UpdateTable)
		staff.PUT("/tables/:id/note", handler.PutTableNote)
		staff.DELETE("/tables/:id", handler.DeleteTable)
		staff.POST("/tables/:id/toggle", handler.ToggleTable)
		staff.POST("/tables/:id/queue/reorder", handler.ReorderQueue)
		staff.PUT("/settings/demo", handler.PutDemoMode)
		staff.GET("/analytics", caching, handler.GetAnalytics)
		staff.PUT("/subscriptions", handler.PutSubscription)
		staff.DELETE("/subscriptions", handler.DeleteSubscription)
	}

	return r
}
