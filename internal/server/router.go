package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/telhawk-coverage/internal/auth"
	"github.com/telhawk-systems/telhawk-coverage/internal/handlers"
	"github.com/telhawk-systems/telhawk-coverage/internal/logging"
	"github.com/telhawk-systems/telhawk-coverage/internal/middleware"
	"github.com/telhawk-systems/telhawk-coverage/internal/ratelimit"
)

// Options configures the optional router middleware.
type Options struct {
	Logger *logging.Logger
	// CORS is applied when AllowedOrigins is non-empty.
	CORS middleware.CORSConfig
	// Limiter throttles the correlation endpoints when set.
	Limiter ratelimit.RateLimiter
	// Auth requires bearer tokens on the correlation endpoints when set.
	Auth *auth.Validator
}

// NewRouter constructs a ServeMux with the coverage API routes registered.
func NewRouter(h *handlers.Handler, opts Options) http.Handler {
	mux := http.NewServeMux()

	protect := func(fn http.HandlerFunc) http.Handler {
		var next http.Handler = fn
		if opts.Limiter != nil {
			next = ratelimit.Middleware(opts.Limiter, limiterKey)(next)
		}
		return auth.Middleware(opts.Auth, "")(next)
	}

	mux.Handle("POST /api/correlate", protect(h.Correlate))
	mux.Handle("POST /api/dashboard/summary", protect(h.DashboardSummary))

	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /healthz", h.Health)

	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	if len(opts.CORS.AllowedOrigins) > 0 {
		handler = middleware.CORS(opts.CORS)(handler)
	}
	if opts.Logger != nil {
		handler = accessLog(opts.Logger)(handler)
	}
	return middleware.RequestID(handler)
}

// limiterKey throttles authenticated callers by user and anonymous callers by
// address.
func limiterKey(r *http.Request) string {
	if subject := auth.Subject(r.Context()); subject != "" {
		return "user:" + subject
	}
	return "ip:" + ratelimit.ClientIP(r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func accessLog(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.WithContext(r.Context()).Info("request",
				logging.Method(r.Method),
				logging.Path(r.URL.Path),
				logging.Status(rec.status),
				logging.Duration(time.Since(started)))
		})
	}
}
