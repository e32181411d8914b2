package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func authRouter(cfg AuthConfig) *gin.Engine {
	router := gin.New()
	router.Use(Auth(cfg))
	router.GET("/api/v1/sources", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(AuthSubjectKey))
	})
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestAuth(t *testing.T) {
	const secret = "s3cret"
	router := authRouter(DefaultAuthConfig(secret))

	valid, err := IssueToken(secret, "ops@facolos", "", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(secret, "ops@facolos", "", -time.Hour)
	require.NoError(t, err)
	wrongKey, err := IssueToken("other", "ops@facolos", "", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{name: "valid token", path: "/api/v1/sources", header: "Bearer " + valid, wantStatus: http.StatusOK, wantBody: "ops@facolos"},
		{name: "missing header", path: "/api/v1/sources", wantStatus: http.StatusUnauthorized},
		{name: "not bearer", path: "/api/v1/sources", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "expired", path: "/api/v1/sources", header: "Bearer " + expired, wantStatus: http.StatusUnauthorized},
		{name: "wrong key", path: "/api/v1/sources", header: "Bearer " + wrongKey, wantStatus: http.StatusUnauthorized},
		{name: "skip path", path: "/healthz", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			w := serve(router, req)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), "ERR_UNAUTHORIZED")
				assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestAuth_DisabledWithoutSecret(t *testing.T) {
	w := serve(authRouter(DefaultAuthConfig("")), httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_Issuer(t *testing.T) {
	cfg := DefaultAuthConfig("s3cret")
	cfg.Issuer = "facolos-etl"
	router := authRouter(cfg)

	good, err := IssueToken("s3cret", "ops", "facolos-etl", time.Hour)
	require.NoError(t, err)
	bad, err := IssueToken("s3cret", "ops", "someone-else", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil)
	req.Header.Set(AuthHeaderKey, "Bearer "+good)
	assert.Equal(t, http.StatusOK, serve(router, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil)
	req.Header.Set(AuthHeaderKey, "Bearer "+bad)
	assert.Equal(t, http.StatusUnauthorized, serve(router, req).Code)
}

// ---------------------------------------------------------------------------
// RateLimiter
// ---------------------------------------------------------------------------

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, wait := rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	ok, _ = rl.Allow("10.0.0.2")
	assert.True(t, ok, "keys are limited independently")

	now = now.Add(time.Second)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok, "a token refills after one second")
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(11 * time.Minute)
	rl.Allow("b")

	assert.Len(t, rl.clients, 1)
	assert.Contains(t, rl.clients, "b")
}

func TestRateLimit_Middleware(t *testing.T) {
	router := gin.New()
	router.POST("/api/v1/runs", RateLimit(NewRateLimiter(0.5, 1)), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(router, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)).Code)

	w := serve(router, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "ERR_RATE_LIMITED")
}

// ---------------------------------------------------------------------------
// BodyLimit, Secure
// ---------------------------------------------------------------------------

func TestBodyLimit(t *testing.T) {
	router := gin.New()
	router.Use(BodyLimit(16))
	router.POST("/api/v1/runs", func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := serve(router, httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"source_id":"a"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "ERR_REQUEST_TOO_LARGE")

	w = serve(router, httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSecure(t *testing.T) {
	router := gin.New()
	router.Use(Secure())
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

// ---------------------------------------------------------------------------
// HTTPMetrics
// ---------------------------------------------------------------------------

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewHTTPMetrics(reg, "etl")

	router := gin.New()
	router.Use(metrics.Handler())
	router.GET("/api/v1/batches/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/batches/a", nil))
	serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/batches/b", nil))
	serve(router, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.requests.WithLabelValues("/api/v1/batches/:id", "GET", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("unmatched", "GET", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.inflight))

	n, err := testutil.GatherAndCount(reg, "etl_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
