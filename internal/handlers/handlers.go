package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/telhawk-systems/telhawk-coverage/internal/correlation"
	"github.com/telhawk-systems/telhawk-coverage/internal/httputil"
	"github.com/telhawk-systems/telhawk-coverage/internal/logging"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
	"github.com/telhawk-systems/telhawk-coverage/internal/service"
)

// CoverageAPI is the service surface exposed over HTTP.
type CoverageAPI interface {
	Correlate(ctx context.Context, req models.CorrelateRequest) (*models.CoverageReport, error)
	DashboardSummary(ctx context.Context, req models.CorrelateRequest) (*models.DashboardSummary, error)
	Health(ctx context.Context) models.HealthStatus
}

// Handler wires HTTP routes to the coverage service.
type Handler struct {
	svc    CoverageAPI
	logger *logging.Logger
}

// New creates a Handler instance.
func New(svc CoverageAPI, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.New(slog.LevelInfo, "json")
	}
	return &Handler{svc: svc, logger: logger}
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.svc.Health(r.Context()))
}

// Correlate handles POST /api/correlate.
func (h *Handler) Correlate(w http.ResponseWriter, r *http.Request) {
	var req models.CorrelateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.svc.Correlate(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// DashboardSummary handles POST /api/dashboard/summary.
func (h *Handler) DashboardSummary(w http.ResponseWriter, r *http.Request) {
	var req models.CorrelateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.svc.DashboardSummary(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidationFailed):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, correlation.ErrFallbackUnavailable):
		httputil.WriteError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		httputil.WriteError(w, http.StatusGatewayTimeout, "correlation timed out")
	default:
		h.logger.WithContext(r.Context()).Error("request failed",
			logging.Path(r.URL.Path), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "correlation failed: "+err.Error())
	}
}
