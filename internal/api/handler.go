package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"table-status-backend/internal/admission"
	"table-status-backend/internal/auth"
	"table-status-backend/internal/registry"
	"table-status-backend/internal/settings"
	"table-status-backend/internal/store"
)

// Deps are the collaborators of the API handlers.
type Deps struct {
	Store     store.Store
	Registry  *registry.Registry
	Admission *admission.Controller
	Auth      *auth.Service
	Demo      *settings.DemoMode
	Webpush   *webpush.Options
	Log       logrus.FieldLogger
	// CacheTTL is how long cacheable GET responses are served from memory.
	CacheTTL time.Duration
	// RateLimit and RateBurst bound requests per client IP.
	RateLimit rate.Limit
	RateBurst int
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	registry  *registry.Registry
	admission *admission.Controller
	auth      *auth.Service
	demo      *settings.DemoMode
	webpush   *webpush.Options
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		store:     d.Store,
		registry:  d.Registry,
		admission: d.Admission,
		auth:      d.Auth,
		demo:      d.Demo,
		webpush:   d.Webpush,
		log:       d.Log,
		now:       time.Now,
	}
}
