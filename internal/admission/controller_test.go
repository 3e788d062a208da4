package admission

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"table-status-backend/config"
	"table-status-backend/internal/auth"
	"table-status-backend/internal/events"
	"table-status-backend/internal/geo"
	"table-status-backend/internal/logging"
	"table-status-backend/internal/model"
	"table-status-backend/internal/ratelimit"
	"table-status-backend/internal/store"
	"table-status-backend/internal/store/storetest"
)

var (
	brewpub  = config.Site{Name: "brewpub", Lat: 32.3487522, Lon: -95.3008154}
	onSite   = geo.Position{Lat: brewpub.Lat, Lon: brewpub.Lon}
	offSite  = geo.Position{Lat: brewpub.Lat + 2.5/geo.EarthRadiusKm*180/math.Pi, Lon: brewpub.Lon}
	customer = &auth.Identity{UserID: "u1", Email: "guest@example.com", Role: model.RoleCustomer}
	staff    = &auth.Identity{UserID: "s1", Email: "host@example.com", Role: model.RoleStaff}
	fixedNow = time.Date(2024, 5, 1, 18, 30, 5, 0, time.UTC)
)

type demoSwitch bool

func (d demoSwitch) Enabled() bool { return bool(d) }

type recorder struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) Close() error { return nil }

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Kind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	ctrl    *Controller
	store   store.Store
	limiter *ratelimit.Limiter
	events  *recorder
}

func newFixture(t *testing.T, demo bool, opts ...Option) *fixture {
	t.Helper()
	s := storetest.NewSQLite(t)
	return newFixtureWith(t, s, s, demo, opts...)
}

func newFixtureWith(t *testing.T, s store.Store, tables store.TableStore, demo bool, opts ...Option) *fixture {
	t.Helper()
	lim := ratelimit.New(s, time.Hour, 3)
	fence := geo.NewFence([]config.Site{brewpub}, 2, demoSwitch(demo))
	rec := &recorder{}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow }), WithTimezone(time.UTC)}, opts...)
	return &fixture{
		ctrl:    New(tables, lim, fence, rec, 50*time.Millisecond, logging.Discard(), opts...),
		store:   s,
		limiter: lim,
		events:  rec,
	}
}

func (f *fixture) table(t *testing.T, name string, status model.TableStatus, queue ...string) *model.Table {
	t.Helper()
	tbl := &model.Table{Name: name, Capacity: 4, Status: status, Queue: queue}
	require.NoError(t, f.store.CreateTable(context.Background(), tbl))
	return tbl
}

func at(pos geo.Position) Locator { return ReportedPosition(&pos) }

// mustNotLocate fails the test if a position is requested.
func mustNotLocate(t *testing.T) Locator {
	return LocatorFunc(func(context.Context) (geo.Position, error) {
		t.Error("position must not be requested")
		return geo.Position{}, errors.New("unexpected")
	})
}

func TestController_AttemptClaim(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name        string
		demo        bool
		status      model.TableStatus
		user        *auth.Identity
		locator     func(t *testing.T) Locator
		expectedErr error
		outcome     Outcome
		finalStatus model.TableStatus
	}{
		{
			name:        "Available table on site is claimed",
			status:      model.StatusAvailable,
			user:        customer,
			locator:     func(*testing.T) Locator { return at(onSite) },
			outcome:     OutcomeClaimed,
			finalStatus: model.StatusClaimed,
		},
		{
			name:        "Off site by 2.5 km is rejected",
			status:      model.StatusAvailable,
			user:        customer,
			locator:     func(*testing.T) Locator { return at(offSite) },
			expectedErr: ErrOffSite,
			finalStatus: model.StatusAvailable,
		},
		{
			name:        "Demo mode admits off site users without asking for a position",
			demo:        true,
			status:      model.StatusAvailable,
			user:        customer,
			locator:     mustNotLocate,
			outcome:     OutcomeClaimed,
			finalStatus: model.StatusClaimed,
		},
		{
			name:        "Occupied table queues without a geofence check",
			status:      model.StatusOccupied,
			user:        customer,
			locator:     mustNotLocate,
			outcome:     OutcomeQueued,
			finalStatus: model.StatusOccupied,
		},
		{
			name:        "Claimed table queues without a geofence check",
			status:      model.StatusClaimed,
			user:        customer,
			locator:     mustNotLocate,
			outcome:     OutcomeQueued,
			finalStatus: model.StatusClaimed,
		},
		{
			name:        "Missing position is location unavailable",
			status:      model.StatusAvailable,
			user:        customer,
			locator:     func(*testing.T) Locator { return ReportedPosition(nil) },
			expectedErr: ErrLocationUnavailable,
			finalStatus: model.StatusAvailable,
		},
		{
			name:        "Anonymous user is unauthenticated",
			status:      model.StatusAvailable,
			locator:     mustNotLocate,
			expectedErr: ErrUnauthenticated,
			finalStatus: model.StatusAvailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.demo)
			tbl := f.table(t, "Table 1", tc.status)

			res, err := f.ctrl.AttemptClaim(ctx, ClaimRequest{TableID: tbl.ID, User: tc.user, Locator: tc.locator(t)})

			stored, getErr := f.store.GetTable(ctx, tbl.ID)
			require.NoError(t, getErr)
			assert.Equal(t, tc.finalStatus, stored.Status)

			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
				assert.Nil(t, res)
				assert.Empty(t, f.events.kinds(), "failed attempts publish nothing")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.outcome, res.Outcome)
			require.NotNil(t, res.Remaining)
			assert.Equal(t, 2, *res.Remaining)
		})
	}
}

func TestController_AttemptClaim_CommitsClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	tbl := f.table(t, "Table 1", model.StatusAvailable)

	res, err := f.ctrl.AttemptClaim(ctx, ClaimRequest{TableID: tbl.ID, User: customer, Locator: at(onSite)})
	require.NoError(t, err)

	assert.Equal(t, "You claimed Table 1!", res.Message)
	assert.Equal(t, int64(1), res.ClaimCount)
	stored, err := f.store.GetTable(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClaimed, stored.Status)
	assert.Equal(t, customer.UserID, stored.ClaimedBy)
	require.NotNil(t, stored.ClaimedAt)
	assert.True(t, fixedNow.Equal(*stored.ClaimedAt))
	assert.True(t, fixedNow.Equal(stored.LastUpdated))

	stats, err := f.store.GetUserStats(ctx, customer.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ClaimCount)
	assert.Equal(t, []events.Kind{events.KindTableClaimed}, f.events.kinds())
}

func TestController_AttemptClaim_QueueKeepsDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	tbl := f.table(t, "Table 3", model.StatusOccupied)

	for i := 0; i < 2; i++ {
		res, err := f.ctrl.AttemptClaim(ctx, ClaimRequest{TableID: tbl.ID, User: customer, Locator: mustNotLocate(t)})
		require.NoError(t, err)
		assert.Equal(t, OutcomeQueued, res.Outcome)
	}

	stored, err := f.store.GetTable(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u1"}, stored.Queue)

	stats, err := f.store.GetUserStats(ctx, customer.UserID)
	require.NoError(t, err)
	assert.Zero(t, stats.ClaimCount, "queueing is not a claim")
}

func TestController_AttemptClaim_RateLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	tbl := f.table(t, "Table 1", model.StatusAvailable)

	for i := 3; i > 0; i-- {
		require.NoError(t, f.limiter.RecordAttempt(ctx, customer.UserID, fixedNow.Add(-time.Duration(i)*time.Minute)))
	}

	_, err := f.ctrl.AttemptClaim(ctx, ClaimRequest{TableID: tbl.ID, User: customer, Locator: mustNotLocate(t)})
	assert.ErrorIs(t, err, ErrRateLimited)

	stored, err := f.store.GetTable(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, stored.Status)

	attempts, err := f.store.GetClaimAttempts(ctx, customer.UserID)
	require.NoError(t, err)
	assert.Len(t, attempts, 3, "a rejected attempt is not recorded")
}

func TestController_AttemptClaim_FailedAttemptsConsumeQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	tbl := f.table(t, "Table 1", model.StatusAvailable)

	for i := 0; i < 3; i++ {
		_, err := f.ctrl.AttemptClaim(ctx, ClaimRequest{TableID: tbl.ID, User: customer, Locator: at(offSite)})
		assert.ErrorIs(t, err, ErrOffSite)
	}
	_, err := f.ctrl.AttemptClaim(ctx, ClaimRequest{TableID: tbl.ID, User: customer, Locator: at(onSite)})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestController_AttemptClaim_LocationTimeout(t *testing.T) {
	f := newFixture(t, false)
	tbl := f.table(t, "Table 1", model.StatusAvailable)

	slow := LocatorFunc(func(ctx context.Context) (geo.Position, error) {
		<-ctx.Done()
		return geo.Position{}, ctx.Err()
	})
	start := time.Now()
	_, err := f.ctrl.AttemptClaim(context.Background(), ClaimRequest{TableID: tbl.ID, User: customer, Locator: slow})
	assert.ErrorIs(t, err, ErrLocationUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)

	stored, err := f.store.GetTable(context.Background(), tbl.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, stored.Status, "no mutation on location failure")
}

func TestController_AttemptClaim_UnknownTableAndSite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	_, err := f.ctrl.AttemptClaim(ctx, ClaimRequest{TableID: "missing", User: customer, Locator: at(onSite)})
	assert.ErrorIs(t, err, ErrNotFound)

	tbl := f.table(t, "Table 1", model.StatusAvailable)
	_, err = f.ctrl.AttemptClaim(ctx, ClaimRequest{TableID: tbl.ID, User: customer, Site: "taproom", Locator: at(onSite)})
	assert.ErrorIs(t, err, ErrValidation)
}

// racingTables lets a rival session commit between the read and the commit of a claim.
type racingTables struct {
	store.TableStore
	rival func()
}

func (r *racingTables) ClaimTable(ctx context.Context, id string, expectedVersion int64, userID string, now time.Time) (*store.ClaimResult, error) {
	if r.rival != nil {
		r.rival()
		r.rival = nil
	}
	return r.TableStore.ClaimTable(ctx, id, expectedVersion, userID, now)
}

func TestController_AttemptClaim_SecondCommitterGetsConflict(t *testing.T) {
	ctx := context.Background()
	s := storetest.NewSQLite(t)
	racing := &racingTables{TableStore: s}
	f := newFixtureWith(t, s, racing, false)
	tbl := f.table(t, "Table 1", model.StatusAvailable)

	racing.rival = func() {
		_, err := s.ClaimTable(ctx, tbl.ID, tbl.Version, "rival", fixedNow)
		require.NoError(t, err)
	}

	_, err := f.ctrl.AttemptClaim(ctx, ClaimRequest{TableID: tbl.ID, User: customer, Locator: at(onSite)})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "table no longer available", err.Error())

	stored, err := s.GetTable(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Equal(t, "rival", stored.ClaimedBy, "the first committer keeps the table")

	stats, err := s.GetUserStats(ctx, customer.UserID)
	require.NoError(t, err)
	assert.Zero(t, stats.ClaimCount)
}

func TestController_AttemptClaim_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, false)
	f.events.err = errors.New("broker down")
	tbl := f.table(t, "Table 1", model.StatusAvailable)

	res, err := f.ctrl.AttemptClaim(context.Background(), ClaimRequest{TableID: tbl.ID, User: customer, Locator: at(onSite)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeClaimed, res.Outcome)
}

func TestController_ToggleStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	tbl := f.table(t, "Table 2", model.StatusAvailable)

	_, err := f.ctrl.ToggleStatus(ctx, ToggleRequest{TableID: tbl.ID, User: customer, Locator: at(onSite)})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.ctrl.ToggleStatus(ctx, ToggleRequest{TableID: tbl.ID, Locator: at(onSite)})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	res, err := f.ctrl.ToggleStatus(ctx, ToggleRequest{TableID: tbl.ID, User: staff, Locator: at(onSite)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeToggled, res.Outcome)
	assert.Equal(t, "Table Table 2 is now Occupied", res.Message)
	assert.Equal(t, model.StatusOccupied, res.Table.Status)
	require.NotNil(t, res.Table.OccupiedAt)
	assert.Equal(t, []string{"Occupied at 18:30:05"}, res.Table.History)

	res, err = f.ctrl.ToggleStatus(ctx, ToggleRequest{TableID: tbl.ID, User: staff, Locator: at(onSite)})
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, res.Table.Status)

	stored, err := f.store.GetTable(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, stored.Status)
	assert.Nil(t, stored.OccupiedAt)
	assert.Equal(t, []string{"Occupied at 18:30:05", "Available at 18:30:05"}, stored.History)
	assert.Equal(t, []events.Kind{events.KindTableStatusChanged, events.KindTableStatusChanged}, f.events.kinds())
}

func TestController_ToggleStatus_ClaimedReturnsToAvailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	tbl := f.table(t, "Table 1", model.StatusAvailable)
	_, err := f.store.ClaimTable(ctx, tbl.ID, tbl.Version, "u9", fixedNow)
	require.NoError(t, err)

	res, err := f.ctrl.ToggleStatus(ctx, ToggleRequest{TableID: tbl.ID, User: staff, Locator: at(onSite)})
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, res.Table.Status)

	stored, err := f.store.GetTable(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ClaimedBy)
	assert.Nil(t, stored.ClaimedAt)
}

func TestController_ToggleStatus_Geofence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	tbl := f.table(t, "Table 1", model.StatusAvailable)

	_, err := f.ctrl.ToggleStatus(ctx, ToggleRequest{TableID: tbl.ID, User: staff, Locator: at(offSite)})
	assert.ErrorIs(t, err, ErrOffSite)

	stored, err := f.store.GetTable(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, stored.Status)
	assert.Empty(t, stored.History)

	demo := newFixture(t, true)
	tbl = demo.table(t, "Table 1", model.StatusAvailable)
	res, err := demo.ctrl.ToggleStatus(ctx, ToggleRequest{TableID: tbl.ID, User: staff, Locator: mustNotLocate(t)})
	require.NoError(t, err)
	assert.Equal(t, model.StatusOccupied, res.Table.Status)
}

func TestController_ReorderQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("Short queue is a no-op", func(t *testing.T) {
		f := newFixture(t, false)
		for _, queue := range [][]string{nil, {"a"}} {
			tbl := f.table(t, "Table", model.StatusOccupied, queue...)
			res, err := f.ctrl.ReorderQueue(ctx, tbl.ID, staff)
			require.NoError(t, err)
			assert.Equal(t, OutcomeNoop, res.Outcome)
			assert.Equal(t, "Queue does not require reordering.", res.Message)

			stored, err := f.store.GetTable(ctx, tbl.ID)
			require.NoError(t, err)
			assert.Equal(t, tbl.Version, stored.Version, "no write for a no-op")
		}
	})

	t.Run("Queue is permuted and persisted", func(t *testing.T) {
		f := newFixture(t, false, WithRandom(func(int) int { return 0 }))
		tbl := f.table(t, "Table 3", model.StatusOccupied, "a", "b", "c", "a")

		res, err := f.ctrl.ReorderQueue(ctx, tbl.ID, staff)
		require.NoError(t, err)
		assert.Equal(t, OutcomeReordered, res.Outcome)
		assert.Equal(t, "Reservation queue for Table 3 has been reordered.", res.Message)

		stored, err := f.store.GetTable(ctx, tbl.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b", "c", "a"}, stored.Queue)
		assert.Equal(t, Shuffle([]string{"a", "b", "c", "a"}, func(int) int { return 0 }), stored.Queue)
	})

	t.Run("Customers may not reorder", func(t *testing.T) {
		f := newFixture(t, false)
		tbl := f.table(t, "Table 3", model.StatusOccupied, "a", "b")
		_, err := f.ctrl.ReorderQueue(ctx, tbl.ID, customer)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestShuffle(t *testing.T) {
	in := []string{"a", "b", "c"}

	out := Shuffle(in, func(int) int { return 0 })
	assert.Equal(t, []string{"b", "c", "a"}, out)
	assert.Equal(t, []string{"a", "b", "c"}, in, "input is not modified")

	// Every permutation of three entries shows up with a fair source.
	seen := map[string]int{}
	for i := 0; i < 6000; i++ {
		seen[strings.Join(Shuffle(in, rand.Intn), "")]++
	}
	assert.Len(t, seen, 6)
	for perm, n := range seen {
		assert.Greater(t, n, 700, "permutation %s is underrepresented", perm)
	}
}

func TestController_Quota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	q, err := f.ctrl.Quota(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, 3, q.Remaining)
	assert.Nil(t, q.RetryAt)

	for i := 3; i > 0; i-- {
		require.NoError(t, f.limiter.RecordAttempt(ctx, customer.UserID, fixedNow.Add(-time.Duration(i)*time.Minute)))
	}
	q, err = f.ctrl.Quota(ctx, customer)
	require.NoError(t, err)
	assert.Zero(t, q.Remaining)
	require.NotNil(t, q.RetryAt)
	assert.True(t, fixedNow.Add(-3*time.Minute).Add(time.Hour).Equal(*q.RetryAt))

	_, err = f.ctrl.Quota(ctx, nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
