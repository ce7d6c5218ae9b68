package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"postback-engine/internal/attribution"
	"postback-engine/internal/postback"
	"postback-engine/internal/registry"
	"postback-engine/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
	server *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	db := testutil.NewTestDB(t)
	h := testutil.CreateHouse(t, db, "betmax", "tok", nil)
	testutil.CreateLink(t, db, 1, h.ID, "eadavid", true)

	p := postback.NewPipeline(db, registry.New(db, log), attribution.NewResolver(db, log), log, postback.Options{})
	s := NewServer(db, log, p)
	return &testEnv{db: db, router: NewRouter(s), server: s}
}

func (e *testEnv) do(t *testing.T, method, target string, body io.Reader) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestPostback_AcceptsAndReplays(t *testing.T) {
	env := newTestEnv(t)
	target := "/postback/deposit?house=betmax&token=tok&subid=eadavid&customer_id=12345&value=200.00"

	w, body := env.do(t, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, false, body["duplicate"])
	id := body["conversion_id"]

	w, body = env.do(t, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["duplicate"])
	assert.Equal(t, id, body["conversion_id"])
}

func TestPostback_HouseInPathAndForm(t *testing.T) {
	env := newTestEnv(t)
	form := url.Values{"token": {"tok"}, "subid": {"eadavid"}, "customer_id": {"9"}}

	w, body := env.do(t, http.MethodPost, "/houses/betmax/postback/register", strings.NewReader(form.Encode()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "accepted", body["status"])
}

func TestPostback_ReasonCodes(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		target string
		status int
		reason string
	}{
		{"/postback/click?house=nope&token=tok&subid=eadavid", http.StatusNotFound, "unknown_house"},
		{"/postback/click?house=betmax&token=wrong&subid=eadavid", http.StatusForbidden, "invalid_token"},
		{"/postback/deposit?house=betmax&token=tok&subid=eadavid&customer_id=1", http.StatusBadRequest, "malformed_event"},
		{"/postback/click?house=betmax&token=tok&subid=stranger", http.StatusUnprocessableEntity, "unresolved_affiliate"},
	}
	for _, tc := range cases {
		w, body := env.do(t, http.MethodGet, tc.target, nil)
		assert.Equal(t, tc.status, w.Code, tc.target)
		assert.Equal(t, "rejected", body["status"], tc.target)
		assert.Equal(t, tc.reason, body["reason"], tc.target)
	}
}

func TestReports_AffiliateAndHouse(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/postback/deposit?house=betmax&token=tok&subid=eadavid&customer_id=1&value=100", nil)

	w, body := env.do(t, http.MethodGet, "/api/v1/reports/affiliates/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	totals := body["totals"].(map[string]any)
	assert.Equal(t, float64(1), totals["deposits"])
	assert.Equal(t, "25", totals["commission"])
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w, body = env.do(t, http.MethodGet, "/api/v1/reports/affiliates/1?days=30", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(30), body["days"])
	assert.Equal(t, "25", body["totals"].(map[string]any)["commission"])

	w, body = env.do(t, http.MethodGet, "/api/v1/reports/houses/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["totals"].(map[string]any)["conversions"])

	w, _ = env.do(t, http.MethodGet, "/api/v1/reports/affiliates/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = env.do(t, http.MethodGet, "/api/v1/reports/affiliates/1?days=-2", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReports_LeadAndLists(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/postback/register?house=betmax&token=tok&subid=eadavid&customer_id=12345", nil)
	env.do(t, http.MethodGet, "/postback/deposit?house=betmax&token=tok&subid=eadavid&customer_id=12345&value=40", nil)
	env.do(t, http.MethodGet, "/postback/click?house=betmax&token=bad&subid=eadavid", nil)

	w, body := env.do(t, http.MethodGet, "/api/v1/reports/leads/12345", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["timeline"], 2)

	w, _ = env.do(t, http.MethodGet, "/api/v1/reports/leads/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = env.do(t, http.MethodGet, "/api/v1/reports/conversions?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["conversions"], 1)
	assert.Equal(t, float64(1), body["meta"].(map[string]any)["limit"])

	w, body = env.do(t, http.MethodGet, "/api/v1/reports/rejections?reason=invalid_token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["rejections"], 1)

	w, _ = env.do(t, http.MethodGet, "/api/v1/reports/conversions?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)
	env.server.nowFn = func() time.Time { return time.Unix(1700000000, 0) }

	w, body := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1700000000), body["timestamp"])

	w, body = env.do(t, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])

	sqlDB, err := env.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w, _ = env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/postback/click?house=betmax&token=tok&subid=eadavid", nil)

	w, _ := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "postbacks_received_total")
}

func TestRouter_PreflightOnReports(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/reports/affiliates/1", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "GET")
}

func TestReports_ConversionByID(t *testing.T) {
	env := newTestEnv(t)
	_, accepted := env.do(t, http.MethodGet, "/postback/deposit?house=betmax&token=tok&subid=eadavid&customer_id=7&value=80", nil)
	id := accepted["conversion_id"].(string)

	w, body := env.do(t, http.MethodGet, "/api/v1/reports/conversions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "deposit", body["type"])
	assert.Equal(t, "20", body["commission"])

	w, _ = env.do(t, http.MethodGet, "/api/v1/reports/conversions/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReports_HouseIncludesHouseAndHidesToken(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/api/v1/reports/houses/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	house := body["house"].(map[string]any)
	assert.Equal(t, "betmax", house["slug"])
	assert.NotContains(t, w.Body.String(), `"tok"`)

	w, _ = env.do(t, http.MethodGet, "/api/v1/reports/houses/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
