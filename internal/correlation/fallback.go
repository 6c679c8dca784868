package correlation

import (
	"context"
	"fmt"
	"time"

	"github.com/telhawk-systems/telhawk-coverage/internal/metrics"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
)

// runFallback fetches alerts around every match window hint and across the
// whole operation window, without technique filtering. Hint failures are
// tolerated; a failed full-range fetch fails the tier.
func (e *Engine) runFallback(ctx context.Context, op *models.Operation, window Window) (*FallbackResult, error) {
	result := &FallbackResult{}

	for _, hint := range matchWindows(op) {
		hits, err := e.fetch(ctx, searchKindHint,
			hint.Center.Add(-e.cfg.FallbackWindow), hint.Center.Add(e.cfg.FallbackWindow), e.cfg.FallbackHintSize)
		if err != nil {
			result.HintFailures++
			e.logger.Warn("fallback hint fetch failed",
				"operation_id", op.ID,
				"technique", hint.TechniqueID,
				"error", err)
			continue
		}
		result.Hints = append(result.Hints, HintAlerts{TechniqueID: hint.TechniqueID, Alerts: hits})
	}

	hits, err := e.fetch(ctx, searchKindRange, window.Start, window.End, e.cfg.FallbackRangeSize)
	if err != nil {
		return nil, err
	}
	result.RangeAlerts = hits
	return result, nil
}

func (e *Engine) fetch(ctx context.Context, kind string, start, end time.Time, size int) ([]models.AlertRecord, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
	defer cancel()

	started := time.Now()
	hits, err := e.gateway.FetchRange(fetchCtx, e.cfg.Index, start, end, size)
	metrics.SearchDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.SearchErrors.WithLabelValues(kind).Inc()
		return nil, fmt.Errorf("fetch %s to %s: %w", start.Format(time.RFC3339), end.Format(time.RFC3339), err)
	}

	records := make([]models.AlertRecord, 0, len(hits))
	for _, hit := range hits {
		records = append(records, extractAlert(hit, e.rules))
	}
	return records, nil
}

// matchWindows returns the operation's hints, deriving them from the chain
// when none were supplied.
func matchWindows(op *models.Operation) []models.MatchWindow {
	if len(op.MatchWindows) > 0 {
		return op.MatchWindows
	}
	var out []models.MatchWindow
	for _, step := range op.Chain {
		if step.Searchable() {
			out = append(out, models.MatchWindow{TechniqueID: step.TechniqueID, Center: step.Timestamp})
		}
	}
	return out
}
