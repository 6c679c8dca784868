// Package service implements the coverage API surface shared by the HTTP
// handlers, the NATS job handler and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/telhawk-systems/telhawk-coverage/internal/alertstore"
	"github.com/telhawk-systems/telhawk-coverage/internal/chain"
	"github.com/telhawk-systems/telhawk-coverage/internal/correlation"
	"github.com/telhawk-systems/telhawk-coverage/internal/logging"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
	"github.com/telhawk-systems/telhawk-coverage/internal/normalize"
	"github.com/telhawk-systems/telhawk-coverage/internal/publish"
)

// ErrValidationFailed wraps every rejected correlation request.
var ErrValidationFailed = errors.New("validation failed")

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusUnknown   = "unknown"

	publishTimeout = 5 * time.Second
	healthTimeout  = 5 * time.Second
)

// ConnectionChecker reports the state of a long-lived connection.
type ConnectionChecker interface {
	IsConnected() bool
}

// CoverageService loads operations, correlates them and distributes reports.
type CoverageService struct {
	engine    *correlation.Engine
	backend   alertstore.Pinger
	chains    chain.Source
	publisher publish.Publisher
	checks    map[string]ConnectionChecker
	validate  *validator.Validate
	logger    *logging.Logger
	now       func() time.Time
}

// NewCoverageService creates the service. backend is used for health checks;
// when it also implements alertstore.ClusterHealth the cluster color is
// reported. It may be nil.
func NewCoverageService(engine *correlation.Engine, backend alertstore.Pinger, logger *logging.Logger) *CoverageService {
	if logger == nil {
		logger = logging.New(slog.LevelInfo, "json")
	}
	return &CoverageService{
		engine:    engine,
		backend:   backend,
		publisher: publish.NoOp{},
		checks:    map[string]ConnectionChecker{},
		validate:  validator.New(),
		logger:    logger.With(logging.Component("coverage_service")),
		now:       time.Now,
	}
}

// WithDependencies sets the chain source and report publisher. Either may be
// nil.
func (s *CoverageService) WithDependencies(chains chain.Source, publisher publish.Publisher) *CoverageService {
	s.chains = chains
	if publisher != nil {
		s.publisher = publisher
	}
	return s
}

// WithHealthCheck adds a named component to the health report.
func (s *CoverageService) WithHealthCheck(name string, checker ConnectionChecker) *CoverageService {
	s.checks[name] = checker
	return s
}

// Correlate runs a coverage correlation for req.
func (s *CoverageService) Correlate(ctx context.Context, req models.CorrelateRequest) (*models.CoverageReport, error) {
	log := s.logger.WithContext(ctx)

	op, err := s.prepareOperation(ctx, req)
	if err != nil {
		return nil, err
	}

	engine := s.engine.WithIndex(req.Index)
	log.Debug("correlating operation",
		logging.OperationID(op.ID),
		slog.String("index", engine.Config().Index),
		slog.Int("steps", len(op.Chain)))

	report, err := engine.Correlate(ctx, op)
	if err != nil {
		log.Error("correlation failed", logging.OperationID(op.ID), logging.Error(err))
		return nil, err
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, report); err != nil {
		log.Warn("coverage report not published",
			logging.OperationID(op.ID),
			slog.String("report_id", report.ReportID),
			logging.Error(err))
	}

	return report, nil
}

// prepareOperation builds the operation to correlate from the request,
// loading the chain from the configured source when the request has none.
func (s *CoverageService) prepareOperation(ctx context.Context, req models.CorrelateRequest) (*models.Operation, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, describeValidation(err))
	}

	start, err := requestInstant("start", req.Start)
	if err != nil {
		return nil, err
	}
	end, err := requestInstant("end", req.End)
	if err != nil {
		return nil, err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, fmt.Errorf("%w: end precedes start", ErrValidationFailed)
	}

	op := &models.Operation{Chain: []models.ExecutionStep{}}
	if req.Operation != nil {
		op = chain.OperationFromPayload(req.Operation)
	}
	if op.ID == "" {
		op.ID = req.OperationID
	}

	if len(op.Chain) == 0 && op.ID != "" && s.chains != nil {
		loaded, err := s.chains.ExecutionChain(ctx, op.ID)
		if err != nil {
			s.logger.WithContext(ctx).Warn("execution chain unavailable, correlating empty chain",
				logging.OperationID(op.ID), logging.Error(err))
		} else {
			op = mergeLoaded(op, loaded)
		}
	}

	if !start.IsZero() {
		op.Start = start
	}
	if !end.IsZero() {
		op.End = end
	}
	return op, nil
}

// mergeLoaded takes the chain from loaded and fills fields op leaves empty.
func mergeLoaded(op, loaded *models.Operation) *models.Operation {
	out := *op
	out.Chain = loaded.Chain
	if len(out.MatchWindows) == 0 {
		out.MatchWindows = loaded.MatchWindows
	}
	if out.Name == "" {
		out.Name = loaded.Name
	}
	if out.Start.IsZero() {
		out.Start = loaded.Start
	}
	if out.End.IsZero() {
		out.End = loaded.End
	}
	return &out
}

func requestInstant(field, raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	t, err := normalize.ToInstant(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %w", ErrValidationFailed, field, err)
	}
	return t, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// DashboardSummary correlates req and shapes the result into the dashboard
// KPI block.
func (s *CoverageService) DashboardSummary(ctx context.Context, req models.CorrelateRequest) (*models.DashboardSummary, error) {
	report, err := s.Correlate(ctx, req)
	if err != nil {
		return nil, err
	}

	kpi := models.DashboardKPI{
		TechniquesTotal:    report.Correlation.TotalTechniques,
		TechniquesDetected: report.Correlation.DetectedTechniques,
		DetectionRate:      report.Correlation.DetectionRate,
		AlertsTotal:        report.TotalAlerts,
		AttackSteps:        report.AttackSteps,
	}
	if report.OperationID != "" {
		kpi.Operations = 1
	}

	return &models.DashboardSummary{
		Success:     true,
		GeneratedAt: normalize.FormatISO(s.now()),
		Operation: models.DashboardOperation{
			ID:    report.OperationID,
			Name:  report.OperationName,
			Start: report.StartTime,
			End:   report.EndTime,
		},
		KPI:      kpi,
		Coverage: report,
	}, nil
}

// Health reports the state of the alert store and optional components. It
// never fails; problems are reported in the status values.
func (s *CoverageService) Health(ctx context.Context) models.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	status := models.HealthStatus{
		Plugin:       statusHealthy,
		WazuhIndexer: statusUnknown,
		Timestamp:    normalize.FormatISO(s.now()),
	}

	if ch, ok := s.backend.(alertstore.ClusterHealth); ok {
		if color, err := ch.ClusterStatus(ctx); err != nil {
			status.WazuhIndexer = statusUnhealthy + ": " + err.Error()
		} else {
			status.WazuhIndexer = color
		}
	} else if s.backend != nil {
		if err := s.backend.Ping(ctx); err != nil {
			status.WazuhIndexer = statusUnhealthy + ": " + err.Error()
		} else {
			status.WazuhIndexer = statusHealthy
		}
	}

	if len(s.checks) > 0 {
		status.Components = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			if check.IsConnected() {
				status.Components[name] = statusHealthy
			} else {
				status.Components[name] = statusUnhealthy
			}
		}
	}
	return status
}
