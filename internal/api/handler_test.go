package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"table-status-backend/config"
	"table-status-backend/internal/admission"
	"table-status-backend/internal/auth"
	"table-status-backend/internal/events"
	"table-status-backend/internal/geo"
	"table-status-backend/internal/logging"
	"table-status-backend/internal/ratelimit"
	"table-status-backend/internal/registry"
	"table-status-backend/internal/settings"
	"table-status-backend/internal/store"
	"table-status-backend/internal/store/storetest"
)

const staffCode = "brew-staff"

var brewpub = config.Site{Name: "brewpub", Lat: 32.3487522, Lon: -95.3008154}

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	store  store.Store
	demo   *settings.DemoMode
	deps   Deps
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logging.Discard()
	s := storetest.NewSQLite(t)

	hub := registry.NewHub(s, time.Hour, time.Hour, log)
	reg := registry.New(s, hub, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	demo := settings.NewDemoMode(s, false, log)
	fence := geo.NewFence([]config.Site{brewpub}, 2, demo)
	ctrl := admission.New(reg, ratelimit.New(s, time.Hour, 3), fence, events.NopPublisher{}, time.Second, log,
		admission.WithTimezone(time.UTC))
	authSvc := auth.NewService(s, config.AuthConfig{
		JWTSecret:       "test-secret",
		TokenTTL:        time.Hour,
		BcryptCost:      bcrypt.MinCost,
		StaffSignupCode: staffCode,
	})

	deps := Deps{
		Store:     s,
		Registry:  reg,
		Admission: ctrl,
		Auth:      authSvc,
		Demo:      demo,
		Log:       log,
		CacheTTL:  time.Minute,
		RateLimit: rate.Inf,
		RateBurst: 1,
	}
	return &testServer{router: NewRouter(deps), store: s, demo: demo, deps: deps}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) signUp(t *testing.T, email, code string) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/auth/signup", "", gin.H{"email": email, "password": "secret123", "staffCode": code})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sess auth.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	return sess.Token
}

func (ts *testServer) createTable(t *testing.T, token, name string, capacity int) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/tables", token, gin.H{"name": name, "capacity": capacity})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.ID
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func onSiteBody() gin.H {
	return gin.H{"lat": brewpub.Lat, "lon": brewpub.Lon}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)

	staffToken := ts.signUp(t, "host@example.com", staffCode)
	guestToken := ts.signUp(t, "guest@example.com", "wrong-code")

	w := ts.do(t, http.MethodGet, "/api/auth/me", staffToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "staff", decode(t, w)["role"])

	w = ts.do(t, http.MethodGet, "/api/auth/me", guestToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "customer", decode(t, w)["role"])

	w = ts.do(t, http.MethodPost, "/api/auth/signup", "", gin.H{"email": "guest@example.com", "password": "secret123"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "email_taken", decode(t, w)["error"])

	w = ts.do(t, http.MethodPost, "/api/auth/signin", "", gin.H{"email": "guest@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/auth/signin", "", gin.H{"email": "guest@example.com", "password": "secret123"})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/api/auth/signout", guestToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/auth/me", guestToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestClaimTable(t *testing.T) {
	ts := newTestServer(t)
	staffToken := ts.signUp(t, "host@example.com", staffCode)
	first := ts.signUp(t, "first@example.com", "")
	second := ts.signUp(t, "second@example.com", "")
	id := ts.createTable(t, staffToken, "Patio 1", 4)

	w := ts.do(t, http.MethodPost, "/api/tables/"+id+"/claim", "", onSiteBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/tables/"+id+"/claim", first, gin.H{"lat": brewpub.Lat + 1, "lon": brewpub.Lon})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "off_site", decode(t, w)["error"])

	w = ts.do(t, http.MethodPost, "/api/tables/"+id+"/claim", first, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do(t, http.MethodPost, "/api/tables/"+id+"/claim", first, onSiteBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, "claimed", res["outcome"])
	assert.Equal(t, "You claimed Patio 1!", res["message"])
	assert.EqualValues(t, 0, res["remaining"])

	w = ts.do(t, http.MethodPost, "/api/tables/"+id+"/claim", second, onSiteBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "queued", decode(t, w)["outcome"])

	w = ts.do(t, http.MethodPost, "/api/tables/"+id+"/claim", first, onSiteBody())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = ts.do(t, http.MethodGet, "/api/claims/quota", first, nil)
	require.Equal(t, http.StatusOK, w.Code)
	quota := decode(t, w)
	assert.EqualValues(t, 0, quota["remaining"])
	assert.EqualValues(t, 3, quota["max"])
	assert.NotEmpty(t, quota["retryAt"])

	w = ts.do(t, http.MethodGet, "/api/tables/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	table := decode(t, w)
	assert.Equal(t, "Claimed", table["status"])
	assert.Len(t, table["queue"], 1)

	w = ts.do(t, http.MethodPost, "/api/tables/missing/claim", second, onSiteBody())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClaimTable_DemoMode(t *testing.T) {
	ts := newTestServer(t)
	staffToken := ts.signUp(t, "host@example.com", staffCode)
	guest := ts.signUp(t, "guest@example.com", "")
	id := ts.createTable(t, staffToken, "Bar 2", 2)

	w := ts.do(t, http.MethodPut, "/api/settings/demo", guest, gin.H{"enabled": true})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPut, "/api/settings/demo", staffToken, gin.H{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"enabled":true}`, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/settings/demo", "", nil)
	assert.JSONEq(t, `{"enabled":true}`, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/tables/"+id+"/claim", guest, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "claimed", decode(t, w)["outcome"])

	raw, err := ts.store.GetSetting(context.Background(), "demo_mode")
	require.NoError(t, err)
	assert.Equal(t, "true", raw)
}

func TestStaffTableManagement(t *testing.T) {
	ts := newTestServer(t)
	staffToken := ts.signUp(t, "host@example.com", staffCode)
	guest := ts.signUp(t, "guest@example.com", "")

	w := ts.do(t, http.MethodPost, "/api/tables", guest, gin.H{"name": "Nope", "capacity": 2})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/api/tables", staffToken, gin.H{"name": "", "capacity": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	id := ts.createTable(t, staffToken, "Booth 3", 6)

	w = ts.do(t, http.MethodPut, "/api/tables/"+id, staffToken, gin.H{"capacity": 8, "customWaitMessage": "Ask the host"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 8, decode(t, w)["capacity"])

	w = ts.do(t, http.MethodPut, "/api/tables/"+id+"/note", staffToken, gin.H{"note": "wobbly leg"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Note updated for Booth 3", decode(t, w)["message"])

	w = ts.do(t, http.MethodPost, "/api/tables/"+id+"/toggle", staffToken, onSiteBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, "toggled", res["outcome"])
	assert.Equal(t, "Table Booth 3 is now Occupied", res["message"])

	w = ts.do(t, http.MethodGet, "/api/tables/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	table := decode(t, w)
	assert.Equal(t, "Ask the host", table["waitMessage"])
	assert.Equal(t, "wobbly leg", table["note"])

	w = ts.do(t, http.MethodPost, "/api/tables/"+id+"/queue/reorder", staffToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "noop", decode(t, w)["outcome"])

	w = ts.do(t, http.MethodGet, "/api/analytics", staffToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	w = ts.do(t, http.MethodGet, "/api/analytics", staffToken, nil)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.EqualValues(t, 1, decode(t, w)["occupiedTables"])

	w = ts.do(t, http.MethodGet, "/api/analytics", guest, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/tables/"+id, staffToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(t, http.MethodGet, "/api/tables/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTables(t *testing.T) {
	ts := newTestServer(t)
	staffToken := ts.signUp(t, "host@example.com", staffCode)
	ts.createTable(t, staffToken, "b", 4)
	ts.createTable(t, staffToken, "a", 2)
	ts.createTable(t, staffToken, "c", 4)

	w := ts.do(t, http.MethodGet, "/api/tables?sort=name", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var views []struct {
		Name        string `json:"name"`
		WaitMessage string `json:"waitMessage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{views[0].Name, views[1].Name, views[2].Name})
	assert.Equal(t, "Free now", views[0].WaitMessage)

	w = ts.do(t, http.MethodGet, "/api/tables?capacity=4", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	assert.Len(t, views, 2)

	w = ts.do(t, http.MethodGet, "/api/tables?capacity=All", "", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	assert.Len(t, views, 3)

	w = ts.do(t, http.MethodGet, "/api/tables?capacity=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/tables?sort=colour", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostReport(t *testing.T) {
	ts := newTestServer(t)
	guest := ts.signUp(t, "guest@example.com", "")

	w := ts.do(t, http.MethodPost, "/api/reports", "", gin.H{"issue": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/reports", guest, gin.H{"issue": "Table 4 is sticky"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	report := decode(t, w)["report"].(map[string]any)
	assert.Equal(t, "Table 4 is sticky", report["issue"])
	assert.NotEmpty(t, report["id"])
	assert.NotEmpty(t, report["reportedBy"])
}

func TestGetVAPIDPublicKey(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/vapid_public_key", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestClaimTable_EmptyChunkedBody(t *testing.T) {
	ts := newTestServer(t)
	staffToken := ts.signUp(t, "host@example.com", staffCode)
	guest := ts.signUp(t, "guest@example.com", "")
	id := ts.createTable(t, staffToken, "Corner", 2)
	require.NoError(t, ts.demo.Set(context.Background(), true))

	req := httptest.NewRequest(http.MethodPost, "/api/tables/"+id+"/claim", strings.NewReader(""))
	req.ContentLength = -1
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+guest)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "claimed", decode(t, w)["outcome"])

	req = httptest.NewRequest(http.MethodPost, "/api/tables/"+id+"/toggle", strings.NewReader("{"))
	req.ContentLength = -1
	req.Header.Set("Authorization", "Bearer "+staffToken)
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code, "a malformed body is still rejected")
}
