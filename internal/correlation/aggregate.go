package correlation

import (
	"fmt"
	"math"
	"strings"

	"github.com/telhawk-systems/telhawk-coverage/internal/models"
	"github.com/telhawk-systems/telhawk-coverage/internal/normalize"
)

// Aggregate builds the coverage report for either tier. The step tier rates
// detected steps over all steps; the fallback tier rates matched techniques
// over declared techniques. Both report the technique sets.
func Aggregate(op *models.Operation, window Window, result Result) *models.CoverageReport {
	report := &models.CoverageReport{
		Success:         true,
		OperationID:     op.ID,
		OperationName:   op.Name,
		StartTime:       normalize.FormatISO(window.Start),
		EndTime:         normalize.FormatISO(window.End),
		DurationSeconds: int64(window.End.Sub(window.Start).Seconds()),
		Tier:            result.tier(),
		AlertsMatched:   []models.AlertRecord{},
	}

	declared := normalize.NewTechniqueSet(op.Techniques()...)
	detected := make(normalize.TechniqueSet)
	reps := newRepresentatives()

	switch r := result.(type) {
	case *PrimaryResult:
		attackSteps := len(r.Steps)
		detectedSteps := 0
		for _, step := range r.Steps {
			report.TotalMatches += step.MatchCount
			if step.Detected {
				detectedSteps++
			}
			for i, match := range step.Matches {
				ids := techniquesOf(match, step.TechniqueID)
				detected.Add(ids...)
				if i == 0 {
					key := ""
					if step.LinkID != "" {
						key = "link:" + step.LinkID
					}
					reps.store(match, ids, key)
				}
			}
		}
		report.AttackSteps = &attackSteps
		report.DetectedSteps = &detectedSteps
		report.Incomplete = r.Incomplete
		report.StepResults = r.Steps
		report.Correlation.DetectionRate = rate(detectedSteps, attackSteps)

	case *FallbackResult:
		report.FallbackUsed = true
		for _, hint := range r.Hints {
			for _, alert := range hint.Alerts {
				ids := techniquesOf(alert, hint.TechniqueID)
				detected.Add(ids...)
				reps.store(alert, ids, "")
			}
		}
		for _, alert := range r.RangeAlerts {
			ids := techniquesOf(alert, "")
			detected.Add(ids...)
			reps.store(alert, ids, "")
		}
	}

	matched := declared.Intersect(detected)
	undetected := declared.Difference(matched)
	techniqueRate := rate(len(matched), len(declared))
	if report.Tier == models.TierTechnique {
		report.Correlation.DetectionRate = techniqueRate
	}

	report.Correlation.TechniqueDetectionRate = techniqueRate
	report.Correlation.DetectionRateBasis = report.Tier
	report.Correlation.TotalTechniques = len(declared)
	report.Correlation.DetectedTechniques = len(matched)
	report.Correlation.AllOperationTechniques = declared.Sorted()
	report.Correlation.AllDetectedTechniques = detected.Sorted()
	report.Correlation.MatchedTechniques = matched.Sorted()
	report.Correlation.UndetectedTechniques = len(undetected)
	report.Correlation.UndetectedTechniquesList = undetected.Sorted()

	report.AlertsMatched = reps.list()
	report.TotalAlerts = len(report.AlertsMatched)
	return report
}

// techniquesOf returns an alert's technique ids, or fallback when it has
// none and fallback is set.
func techniquesOf(alert models.AlertRecord, fallback string) []string {
	if len(alert.TechniqueIDs) > 0 {
		return alert.TechniqueIDs
	}
	if fallback != "" {
		return []string{fallback}
	}
	return nil
}

// representatives keeps the first alert stored under each key, in insertion
// order.
type representatives struct {
	order []string
	byKey map[string]models.AlertRecord
	docs  map[string]struct{}
}

func newRepresentatives() *representatives {
	return &representatives{
		byKey: make(map[string]models.AlertRecord),
		docs:  make(map[string]struct{}),
	}
}

// store records alert under key. An empty key derives one from the technique
// ids, or from the current position when there are none. A positional alert
// whose document was already stored is skipped.
func (r *representatives) store(alert models.AlertRecord, ids []string, key string) {
	doc := ""
	if alert.DocID != "" {
		doc = alert.Index + "/" + alert.DocID
	}
	if key == "" {
		if len(ids) > 0 {
			key = "tech:" + strings.Join(ids, "|")
		} else {
			if _, seen := r.docs[doc]; doc != "" && seen {
				return
			}
			key = fmt.Sprintf("alert:%d", len(r.order))
		}
	}
	if _, ok := r.byKey[key]; ok {
		return
	}
	if doc != "" {
		r.docs[doc] = struct{}{}
	}

	alert.AgentName = strings.ToLower(strings.TrimSpace(alert.AgentName))
	alert.TechniqueIDs = append([]string{}, ids...)
	r.byKey[key] = alert
	r.order = append(r.order, key)
}

func (r *representatives) list() []models.AlertRecord {
	out := make([]models.AlertRecord, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byKey[key])
	}
	return out
}

// rate returns part/total as a percentage rounded to two decimals, or 0 when
// total is zero.
func rate(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*100*100) / 100
}
