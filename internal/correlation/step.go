package correlation

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/telhawk-systems/telhawk-coverage/internal/alertstore"
	"github.com/telhawk-systems/telhawk-coverage/internal/extractor"
	"github.com/telhawk-systems/telhawk-coverage/internal/logging"
	"github.com/telhawk-systems/telhawk-coverage/internal/metrics"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
	"github.com/telhawk-systems/telhawk-coverage/internal/query"
	"github.com/telhawk-systems/telhawk-coverage/internal/rulemap"
)

// Confidence weights.
const (
	baseConfidence = 0.5
	pidBonus       = 0.4
	parentPIDBonus = 0.3
	maxConfidence  = 1.0
)

// Metric label values.
const (
	searchKindStep  = "step"
	searchKindHint  = "hint"
	searchKindRange = "range"

	outcomeSkipped  = "skipped"
	outcomeDetected = "detected"
	outcomeMissed   = "missed"
	outcomeFailed   = "failed"
)

// StepCorrelator correlates a single execution step with alerts.
type StepCorrelator struct {
	gateway alertstore.Gateway
	builder *query.Builder
	rules   *rulemap.Mapping
	cfg     Config
	logger  *slog.Logger
}

// NewStepCorrelator creates a step correlator.
func NewStepCorrelator(gateway alertstore.Gateway, builder *query.Builder, rules *rulemap.Mapping, cfg Config, logger *slog.Logger) *StepCorrelator {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepCorrelator{
		gateway: gateway,
		builder: builder,
		rules:   rules,
		cfg:     cfg.withDefaults(),
		logger:  logger.With("component", "step_correlator"),
	}
}

// Correlate searches for alerts matching step. Steps without a technique or
// timestamp are returned undetected without a search. A search failure is
// returned alongside a zero-match result.
func (c *StepCorrelator) Correlate(ctx context.Context, step models.ExecutionStep) (models.StepMatchResult, error) {
	result := newStepResult(step)
	if !step.Searchable() {
		metrics.StepsTotal.WithLabelValues(outcomeSkipped).Inc()
		c.logger.Debug("step skipped",
			"link_id", step.LinkID,
			"has_technique", step.TechniqueID != "",
			"has_timestamp", !step.Timestamp.IsZero())
		return result, nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, c.cfg.SearchTimeout)
	defer cancel()

	q := c.builder.Build(step.TechniqueID, step.Timestamp, c.cfg.StepWindow, c.rules.RulesFor(step.TechniqueID))

	started := time.Now()
	hits, err := c.gateway.Search(searchCtx, c.cfg.Index, q)
	metrics.SearchDuration.WithLabelValues(searchKindStep).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.SearchErrors.WithLabelValues(searchKindStep).Inc()
		metrics.StepsTotal.WithLabelValues(outcomeFailed).Inc()
		c.logger.Warn("step search failed",
			logging.LinkID(step.LinkID),
			logging.Technique(step.TechniqueID),
			logging.Error(err))
		result.Error = err.Error()
		return result, err
	}

	candidates := make([]models.AlertRecord, 0, len(hits))
	for _, hit := range hits {
		candidates = append(candidates, extractAlert(hit, c.rules))
	}

	matches := candidates
	if step.ProcessID != "" {
		matches = filterByPID(step.ProcessID, candidates)
	}
	sortMatches(matches)

	result.Matches = matches
	result.MatchCount = len(matches)
	result.Detected = result.MatchCount > 0
	for _, m := range matches {
		if m.PIDMatched {
			result.PIDMatchCount++
		}
	}
	result.Confidence = confidence(matches)

	if result.Detected {
		metrics.StepsTotal.WithLabelValues(outcomeDetected).Inc()
	} else {
		metrics.StepsTotal.WithLabelValues(outcomeMissed).Inc()
	}
	c.logger.Debug("step correlated",
		"link_id", step.LinkID,
		"technique", step.TechniqueID,
		"candidates", len(candidates),
		"matches", result.MatchCount,
		"confidence", result.Confidence)

	return result, nil
}

func newStepResult(step models.ExecutionStep) models.StepMatchResult {
	return models.StepMatchResult{
		LinkID:      step.LinkID,
		TechniqueID: step.TechniqueID,
		AbilityName: step.AbilityName,
		Paw:         step.Paw,
		ProcessID:   step.ProcessID,
		ExecutedAt:  step.Timestamp,
		Matches:     []models.AlertRecord{},
	}
}

// extractAlert normalizes a hit and, when it carries no technique ids, infers
// one from its rule id.
func extractAlert(hit alertstore.Hit, rules *rulemap.Mapping) models.AlertRecord {
	record := extractor.ExtractHit(hit.ID, hit.Index, hit.Source)
	if len(record.TechniqueIDs) == 0 && record.RuleID != "" {
		if technique, ok := rules.Technique(record.RuleID); ok {
			record.TechniqueIDs = []string{technique}
		}
	}
	return record
}

// matchPID compares a step's process id against an alert's lineage. A direct
// pid match wins over a parent match.
func matchPID(stepPID, alertPID, alertPPID string) (bool, string) {
	if stepPID == "" {
		return false, ""
	}
	if alertPID != "" && alertPID == stepPID {
		return true, models.PIDMatchDirect
	}
	if alertPPID != "" && alertPPID == stepPID {
		return true, models.PIDMatchParent
	}
	return false, ""
}

// filterByPID keeps only candidates sharing the step's process lineage. When
// none do, the result is empty.
func filterByPID(stepPID string, candidates []models.AlertRecord) []models.AlertRecord {
	matched := make([]models.AlertRecord, 0, len(candidates))
	for _, c := range candidates {
		ok, kind := matchPID(stepPID, c.PID, c.PPID)
		if !ok {
			continue
		}
		c.PIDMatched = true
		c.PIDMatchType = kind
		matched = append(matched, c)
	}
	return matched
}

func matchRank(r models.AlertRecord) int {
	switch r.PIDMatchType {
	case models.PIDMatchDirect:
		return 0
	case models.PIDMatchParent:
		return 1
	}
	return 2
}

// sortMatches orders direct pid matches first, then parent matches, then by
// ascending timestamp. Alerts without a timestamp sort last within a rank.
func sortMatches(matches []models.AlertRecord) {
	sort.SliceStable(matches, func(i, j int) bool {
		ri, rj := matchRank(matches[i]), matchRank(matches[j])
		if ri != rj {
			return ri < rj
		}
		ti, tj := matches[i].Timestamp, matches[j].Timestamp
		if ti.IsZero() != tj.IsZero() {
			return !ti.IsZero()
		}
		return ti.Before(tj)
	})
}

func confidence(matches []models.AlertRecord) float64 {
	if len(matches) == 0 {
		return 0
	}
	score := baseConfidence
	var direct, parent bool
	for _, m := range matches {
		switch m.PIDMatchType {
		case models.PIDMatchDirect:
			direct = true
		case models.PIDMatchParent:
			parent = true
		}
	}
	switch {
	case direct:
		score += pidBonus
	case parent:
		score += parentPIDBonus
	}
	if score > maxConfidence {
		score = maxConfidence
	}
	return score
}
