package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/telhawk-coverage/internal/alertstore"
	"github.com/telhawk-systems/telhawk-coverage/internal/metrics"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
	"github.com/telhawk-systems/telhawk-coverage/internal/query"
	"github.com/telhawk-systems/telhawk-coverage/internal/rulemap"
)

// ErrFallbackUnavailable is returned when the step tier could not run and
// the fallback tier failed as well.
var ErrFallbackUnavailable = errors.New("alert store unavailable for both correlation tiers")

// Engine correlates whole operations, switching to the technique-level
// fallback when no step search succeeds.
type Engine struct {
	steps   *StepCorrelator
	gateway alertstore.Gateway
	rules   *rulemap.Mapping
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates an engine. The gateway, builder and rule mapping are
// shared read-only by concurrent correlations.
func NewEngine(gateway alertstore.Gateway, builder *query.Builder, rules *rulemap.Mapping, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		steps:   NewStepCorrelator(gateway, builder, rules, cfg, logger),
		gateway: gateway,
		rules:   rules,
		cfg:     cfg,
		logger:  logger.With("component", "correlation_engine"),
		now:     time.Now,
	}
}

// Config returns the engine settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// WithIndex returns an engine that searches index instead of the configured
// pattern. It shares the gateway and rule mapping with e.
func (e *Engine) WithIndex(index string) *Engine {
	if index == "" || index == e.cfg.Index {
		return e
	}
	cfg := e.cfg
	cfg.Index = index
	steps := *e.steps
	steps.cfg = cfg
	out := *e
	out.cfg = cfg
	out.steps = &steps
	return &out
}

// ResolveWindow fills a missing start or end from DefaultWindow. With
// neither, the window ends now.
func (e *Engine) ResolveWindow(start, end time.Time) Window {
	switch {
	case !start.IsZero() && end.IsZero():
		end = start.Add(e.cfg.DefaultWindow)
	case start.IsZero() && !end.IsZero():
		start = end.Add(-e.cfg.DefaultWindow)
	case start.IsZero() && end.IsZero():
		end = e.now().UTC()
		start = end.Add(-e.cfg.DefaultWindow)
	}
	return Window{Start: start.UTC(), End: end.UTC()}
}

// Correlate produces a coverage report for op. The operation is not
// modified.
func (e *Engine) Correlate(ctx context.Context, op *models.Operation) (*models.CoverageReport, error) {
	started := time.Now()
	window := e.ResolveWindow(op.Start, op.End)

	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OperationTimeout)
	defer cancel()

	var result Result
	primary, searched, failed := e.runPrimary(opCtx, op)
	result = primary
	if err := ctx.Err(); err != nil {
		metrics.CorrelationsTotal.WithLabelValues(models.TierStep, "canceled").Inc()
		return nil, fmt.Errorf("correlate operation %s: %w", op.ID, err)
	}

	if searched > 0 && failed == searched && !primary.Incomplete {
		e.logger.Warn("all step searches failed, using technique fallback",
			"operation_id", op.ID,
			"steps", len(op.Chain),
			"failed", failed)

		fallback, err := e.runFallback(opCtx, op, window)
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.CorrelationsTotal.WithLabelValues(models.TierTechnique, "canceled").Inc()
			return nil, fmt.Errorf("correlate operation %s: %w", op.ID, ctxErr)
		}
		if err != nil {
			metrics.CorrelationsTotal.WithLabelValues(models.TierTechnique, "error").Inc()
			return nil, fmt.Errorf("%w: %d step searches failed; full range fetch: %w", ErrFallbackUnavailable, failed, err)
		}
		result = fallback
	}

	report := Aggregate(op, window, result)
	report.ReportID = uuid.NewString()
	report.GeneratedAt = e.now().UTC()

	status := "ok"
	if report.Incomplete {
		status = "incomplete"
	}
	metrics.CorrelationsTotal.WithLabelValues(report.Tier, status).Inc()
	metrics.CorrelationDuration.Observe(time.Since(started).Seconds())
	metrics.DetectionRate.WithLabelValues(report.Tier).Set(report.Correlation.DetectionRate)

	e.logger.Info("operation correlated",
		"operation_id", op.ID,
		"tier", report.Tier,
		"detection_rate", report.Correlation.DetectionRate,
		"incomplete", report.Incomplete,
		"duration_ms", time.Since(started).Milliseconds())

	return report, nil
}

// runPrimary correlates every step with bounded concurrency. It reports how
// many searches were issued and how many failed.
func (e *Engine) runPrimary(ctx context.Context, op *models.Operation) (*PrimaryResult, int, int) {
	results := make([]models.StepMatchResult, len(op.Chain))
	searchedFlags := make([]bool, len(op.Chain))
	failedFlags := make([]bool, len(op.Chain))

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrency)

	for i, step := range op.Chain {
		if !step.Searchable() {
			results[i], _ = e.steps.Correlate(ctx, step)
			continue
		}
		if ctx.Err() != nil {
			r := newStepResult(step)
			r.Error = ctx.Err().Error()
			results[i] = r
			continue
		}
		g.Go(func() error {
			r, err := e.steps.Correlate(ctx, step)
			results[i] = r
			searchedFlags[i] = true
			failedFlags[i] = err != nil
			return nil
		})
	}
	_ = g.Wait()

	var searched, failed int
	for i := range op.Chain {
		if searchedFlags[i] {
			searched++
		}
		if failedFlags[i] {
			failed++
		}
	}

	return &PrimaryResult{Steps: results, Incomplete: ctx.Err() != nil}, searched, failed
}
