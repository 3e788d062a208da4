// Package admission decides who may change a table's status.
//
// A customer claim passes, in order: authentication, the per-user attempt limit, the
// availability branch (a busy table queues the user instead), the geofence, and finally a
// compare-and-swap commit against the version of the table that was read. Staff toggles and
// queue reorders are committed the same way, so concurrent writers are detected instead of
// silently overwriting each other.
package admission

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"table-status-backend/internal/auth"
	"table-status-backend/internal/events"
	"table-status-backend/internal/geo"
	"table-status-backend/internal/model"
	"table-status-backend/internal/ratelimit"
	"table-status-backend/internal/store"
)

// Outcome is the kind of successful result.
type Outcome string

const (
	OutcomeClaimed   Outcome = "claimed"
	OutcomeQueued    Outcome = "queued"
	OutcomeToggled   Outcome = "toggled"
	OutcomeReordered Outcome = "reordered"
	// OutcomeNoop is an informational result that changed nothing.
	OutcomeNoop Outcome = "noop"
)

// Result is the answer to a successful admission request.
type Result struct {
	Outcome Outcome      `json:"outcome"`
	Message string       `json:"message"`
	Table   *model.Table `json:"table,omitempty"`
	// Remaining is the number of claim attempts left in the window, for claims only.
	Remaining  *int  `json:"remaining,omitempty"`
	ClaimCount int64 `json:"claimCount,omitempty"`
}

// ClaimRequest asks to claim a table, or to queue for it if it is busy.
type ClaimRequest struct {
	TableID string
	User    *auth.Identity
	// Site names the venue to check against. Empty selects the default site.
	Site    string
	Locator Locator
}

// ToggleRequest asks to flip a table between Available and Occupied.
type ToggleRequest struct {
	TableID string
	User    *auth.Identity
	Site    string
	Locator Locator
}

// Quota describes the claim attempts a user has left.
type Quota struct {
	Remaining int        `json:"remaining"`
	Max       int        `json:"max"`
	Window    string     `json:"window"`
	RetryAt   *time.Time `json:"retryAt,omitempty"`
}

// Controller is the claim admission controller.
type Controller struct {
	tables          store.TableStore
	limiter         *ratelimit.Limiter
	fence           *geo.Fence
	events          events.Publisher
	locationTimeout time.Duration
	log             logrus.FieldLogger

	now  func() time.Time
	zone *time.Location
	intn func(n int) int
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithTimezone sets the zone used for human-readable history entries.
func WithTimezone(loc *time.Location) Option {
	return func(c *Controller) { c.zone = loc }
}

// WithRandom replaces the source of randomness used to reorder queues.
// intn must return a uniform integer in [0, n).
func WithRandom(intn func(n int) int) Option {
	return func(c *Controller) { c.intn = intn }
}

// New creates a controller.
func New(tables store.TableStore, limiter *ratelimit.Limiter, fence *geo.Fence, pub events.Publisher,
	locationTimeout time.Duration, log logrus.FieldLogger, opts ...Option) *Controller {
	c := &Controller{
		tables:          tables,
		limiter:         limiter,
		fence:           fence,
		events:          pub,
		locationTimeout: locationTimeout,
		log:             log,
		now:             time.Now,
		zone:            time.Local,
		intn:            rand.Intn,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AttemptClaim claims an Available table for the user or queues the user for a busy one.
// Every call that gets past the rate limit consumes one attempt, whatever its outcome.
func (c *Controller) AttemptClaim(ctx context.Context, req ClaimRequest) (*Result, error) {
	if req.User == nil {
		return nil, ErrUnauthenticated
	}
	logger := c.log.WithFields(logrus.Fields{"table_id": req.TableID, "user_id": req.User.UserID})
	now := c.now().UTC()

	remaining, err := c.limiter.Admit(ctx, req.User.UserID, now)
	if errors.Is(err, ratelimit.ErrLimited) {
		logger.Info("claim attempt rate limited")
		return nil, ErrRateLimited
	}
	if err != nil {
		return nil, storeError(err)
	}

	t, err := c.tables.GetTable(ctx, req.TableID)
	if err != nil {
		return nil, storeError(err)
	}

	if t.Status != model.StatusAvailable {
		queued, err := c.tables.AppendToQueue(ctx, t.ID, req.User.UserID, now)
		if err != nil {
			return nil, storeError(err)
		}
		logger.WithField("outcome", OutcomeQueued).Info("user joined table queue")
		c.publish(ctx, events.KindTableQueued, queued, req.User.UserID, now)
		return &Result{
			Outcome:   OutcomeQueued,
			Message:   fmt.Sprintf("%s is %s. You have been added to its queue.", queued.Name, queued.Status),
			Table:     queued,
			Remaining: &remaining,
		}, nil
	}

	if err := c.checkSite(ctx, req.Site, req.Locator); err != nil {
		logger.WithError(err).Info("claim rejected by geofence")
		return nil, err
	}

	res, err := c.tables.ClaimTable(ctx, t.ID, t.Version, req.User.UserID, now)
	if errors.Is(err, store.ErrConflict) {
		logger.WithField("outcome", "conflict").Info("claim lost to a concurrent change")
		return nil, ErrConflict
	}
	if err != nil {
		return nil, storeError(err)
	}

	logger.WithField("outcome", OutcomeClaimed).Info("table claimed")
	c.publish(ctx, events.KindTableClaimed, &res.Table, req.User.UserID, now)
	return &Result{
		Outcome:    OutcomeClaimed,
		Message:    fmt.Sprintf("You claimed %s!", res.Table.Name),
		Table:      &res.Table,
		Remaining:  &remaining,
		ClaimCount: res.ClaimCount,
	}, nil
}

// ToggleStatus flips a table between Available and Occupied for staff. A Claimed table
// goes back to Available. The change is appended to the table history.
func (c *Controller) ToggleStatus(ctx context.Context, req ToggleRequest) (*Result, error) {
	if err := requireStaff(req.User); err != nil {
		return nil, err
	}
	t, err := c.tables.GetTable(ctx, req.TableID)
	if err != nil {
		return nil, storeError(err)
	}
	if err := c.checkSite(ctx, req.Site, req.Locator); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	observed := t.Version
	next := model.StatusAvailable
	if t.Status == model.StatusAvailable {
		next = model.StatusOccupied
	}

	t.Status = next
	t.LastUpdated = now
	t.ClaimedAt = nil
	t.ClaimedBy = ""
	t.OccupiedAt = nil
	if next == model.StatusOccupied {
		t.OccupiedAt = &now
	}
	t.History = append(t.History, fmt.Sprintf("%s at %s", next, now.In(c.zone).Format("15:04:05")))

	err = c.tables.UpdateTableIfVersion(ctx, t, observed,
		"status", "claimed_at", "claimed_by", "occupied_at", "last_updated", "history")
	if errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("%w: %s changed while you were updating it", ErrConflict, t.Name)
	}
	if err != nil {
		return nil, storeError(err)
	}

	c.log.WithFields(logrus.Fields{"table_id": t.ID, "user_id": req.User.UserID, "status": next}).Info("table status toggled")
	c.publish(ctx, events.KindTableStatusChanged, t, req.User.UserID, now)
	return &Result{
		Outcome: OutcomeToggled,
		Message: fmt.Sprintf("Table %s is now %s", t.Name, next),
		Table:   t,
	}, nil
}

// ReorderQueue randomly permutes a table's queue for staff. Queues shorter than two entries
// are left alone.
func (c *Controller) ReorderQueue(ctx context.Context, tableID string, user *auth.Identity) (*Result, error) {
	if err := requireStaff(user); err != nil {
		return nil, err
	}
	t, err := c.tables.GetTable(ctx, tableID)
	if err != nil {
		return nil, storeError(err)
	}
	if len(t.Queue) < 2 {
		return &Result{Outcome: OutcomeNoop, Message: "Queue does not require reordering.", Table: t}, nil
	}

	now := c.now().UTC()
	observed := t.Version
	t.Queue = Shuffle(t.Queue, c.intn)
	t.LastUpdated = now
	err = c.tables.UpdateTableIfVersion(ctx, t, observed, "queue", "last_updated")
	if errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("%w: the queue of %s changed while you were reordering it", ErrConflict, t.Name)
	}
	if err != nil {
		return nil, storeError(err)
	}

	c.publish(ctx, events.KindQueueReordered, t, user.UserID, now)
	return &Result{
		Outcome: OutcomeReordered,
		Message: fmt.Sprintf("Reservation queue for %s has been reordered.", t.Name),
		Table:   t,
	}, nil
}

// Quota reports the claim attempts the user has left in the current window.
func (c *Controller) Quota(ctx context.Context, user *auth.Identity) (*Quota, error) {
	if user == nil {
		return nil, ErrUnauthenticated
	}
	now := c.now().UTC()
	remaining, err := c.limiter.AttemptsRemaining(ctx, user.UserID, now)
	if err != nil {
		return nil, storeError(err)
	}
	q := &Quota{Remaining: remaining, Max: c.limiter.Max(), Window: c.limiter.Window().String()}
	if remaining == 0 {
		retry, err := c.limiter.RetryAt(ctx, user.UserID, now)
		if err != nil {
			return nil, storeError(err)
		}
		if !retry.IsZero() {
			q.RetryAt = &retry
		}
	}
	return q, nil
}

// Shuffle returns a uniformly random permutation of queue using the Fisher-Yates algorithm.
// The input is not modified.
func Shuffle(queue []string, intn func(n int) int) []string {
	out := append([]string(nil), queue...)
	for i := len(out) - 1; i > 0; i-- {
		j := intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// checkSite enforces the geofence for site. In demo mode no position is requested.
func (c *Controller) checkSite(ctx context.Context, siteName string, l Locator) error {
	site, err := c.fence.Site(siteName)
	if err != nil {
		return fmt.Errorf("%w: unknown site %q", ErrValidation, siteName)
	}
	if c.fence.DemoMode() {
		return nil
	}
	if l == nil {
		return fmt.Errorf("%w: %v", ErrLocationUnavailable, errNoPosition)
	}

	lctx, cancel := context.WithTimeout(ctx, c.locationTimeout)
	defer cancel()
	pos, err := locate(lctx, l)
	if err != nil {
		return err
	}

	distance, ok := c.fence.Check(site, pos)
	if !ok {
		return fmt.Errorf("%w: %.2f km from %s", ErrOffSite, distance, site.Name)
	}
	return nil
}

func (c *Controller) publish(ctx context.Context, kind events.Kind, t *model.Table, userID string, at time.Time) {
	e := events.Event{
		Kind:      kind,
		TableID:   t.ID,
		TableName: t.Name,
		Status:    string(t.Status),
		UserID:    userID,
		At:        at,
	}
	if err := c.events.Publish(ctx, e); err != nil {
		c.log.WithError(err).WithField("kind", kind).Warn("failed to publish table event")
	}
}

func requireStaff(user *auth.Identity) error {
	if user == nil {
		return ErrUnauthenticated
	}
	if !user.IsStaff() {
		return ErrForbidden
	}
	return nil
}

// storeError maps store failures onto admission errors.
func storeError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrConflict):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
