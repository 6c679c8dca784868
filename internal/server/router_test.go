package server

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-coverage/internal/auth"
	"github.com/telhawk-systems/telhawk-coverage/internal/handlers"
	"github.com/telhawk-systems/telhawk-coverage/internal/logging"
	"github.com/telhawk-systems/telhawk-coverage/internal/middleware"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
)

type stubAPI struct{}

func (stubAPI) Correlate(context.Context, models.CorrelateRequest) (*models.CoverageReport, error) {
	return &models.CoverageReport{Success: true, OperationID: "op-1"}, nil
}

func (stubAPI) DashboardSummary(context.Context, models.CorrelateRequest) (*models.DashboardSummary, error) {
	return &models.DashboardSummary{Success: true}, nil
}

func (stubAPI) Health(context.Context) models.HealthStatus {
	return models.HealthStatus{Plugin: "healthy", WazuhIndexer: "green"}
}

type denyAll struct{ keys []string }

func (d *denyAll) Allow(_ context.Context, key string) (bool, error) {
	d.keys = append(d.keys, key)
	return false, nil
}

func (d *denyAll) Close() error { return nil }

func newRouter(opts Options) http.Handler {
	logger := logging.NewWithWriter(&bytes.Buffer{}, slog.LevelInfo, "json")
	return NewRouter(handlers.New(stubAPI{}, logger), opts)
}

func serve(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.9:40000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterRoutes(t *testing.T) {
	var logs bytes.Buffer
	h := NewRouter(handlers.New(stubAPI{}, nil), Options{
		Logger: logging.NewWithWriter(&logs, slog.LevelInfo, "json"),
	})

	rec := serve(h, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	assert.Contains(t, logs.String(), `"path":"/api/health"`)

	rec = serve(h, http.MethodPost, "/api/correlate", `{"operation_id":"op-1"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"operation_id":"op-1"`)

	rec = serve(h, http.MethodPost, "/api/dashboard/summary", `{}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, http.MethodGet, "/api/correlate", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterAuth(t *testing.T) {
	h := newRouter(Options{Auth: auth.NewValidator("secret")})

	rec := serve(h, http.MethodPost, "/api/correlate", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: "u-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	rec = serve(h, http.MethodPost, "/api/correlate", `{}`, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterRateLimitKeys(t *testing.T) {
	limiter := &denyAll{}
	h := newRouter(Options{Limiter: limiter})

	rec := serve(h, http.MethodPost, "/api/correlate", `{}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, []string{"ip:203.0.113.9"}, limiter.keys)

	rec = serve(h, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterCORSPreflight(t *testing.T) {
	h := newRouter(Options{CORS: middleware.CORSConfig{
		AllowedOrigins: []string{"https://caldera.local"},
		AllowedMethods: []string{"POST"},
		AllowedHeaders: []string{"Content-Type"},
	}})

	rec := serve(h, http.MethodOptions, "/api/correlate", "", map[string]string{"Origin": "https://caldera.local"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://caldera.local", rec.Header().Get("Access-Control-Allow-Origin"))
}
