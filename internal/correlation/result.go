package correlation

import (
	"time"

	"github.com/telhawk-systems/telhawk-coverage/internal/models"
)

// Window is the resolved time span of an operation.
type Window struct {
	Start time.Time
	End   time.Time
}

// Result is the outcome of one correlation tier. It is either a
// *PrimaryResult or a *FallbackResult.
type Result interface {
	tier() string
}

// PrimaryResult holds per-step outcomes of the step-level tier.
type PrimaryResult struct {
	Steps []models.StepMatchResult
	// Incomplete is set when the operation deadline expired before every
	// step was correlated.
	Incomplete bool
}

func (*PrimaryResult) tier() string { return models.TierStep }

// FallbackResult holds the alerts fetched by the technique-level tier, in
// fetch order: hint windows first, then the full operation range.
type FallbackResult struct {
	Hints       []HintAlerts
	RangeAlerts []models.AlertRecord
	// HintFailures counts hint windows whose fetch failed.
	HintFailures int
}

func (*FallbackResult) tier() string { return models.TierTechnique }

// HintAlerts are the alerts fetched around one match window. Alerts without
// technique ids of their own are attributed to TechniqueID.
type HintAlerts struct {
	TechniqueID string
	Alerts      []models.AlertRecord
}
