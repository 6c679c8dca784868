package models

import "time"

// ExecutionStep is one executed link of an emulation operation's chain.
type ExecutionStep struct {
	LinkID      string    `json:"link_id"`
	TechniqueID string    `json:"technique_id,omitempty"`
	AbilityName string    `json:"ability_name,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
	ProcessID   string    `json:"pid,omitempty"`
	Paw         string    `json:"paw,omitempty"`
	Command     string    `json:"command,omitempty"`
}

// Searchable reports whether the step carries enough data to query the alert store.
func (s ExecutionStep) Searchable() bool {
	return s.TechniqueID != "" && !s.Timestamp.IsZero()
}

// MatchWindow is an approximate execution instant for a technique, used by the
// fallback tier to fetch narrow sub-windows around each execution.
type MatchWindow struct {
	TechniqueID string    `json:"technique_id"`
	Center      time.Time `json:"center"`
}

// Operation is an emulation operation and its ordered execution chain.
type Operation struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Start        time.Time       `json:"start,omitzero"`
	End          time.Time       `json:"end,omitzero"`
	Chain        []ExecutionStep `json:"chain"`
	MatchWindows []MatchWindow   `json:"match_windows,omitempty"`
}

// Techniques returns the distinct technique ids declared by the chain, in
// chain order.
func (o *Operation) Techniques() []string {
	seen := make(map[string]struct{}, len(o.Chain))
	out := make([]string, 0, len(o.Chain))
	for _, step := range o.Chain {
		if step.TechniqueID == "" {
			continue
		}
		if _, ok := seen[step.TechniqueID]; ok {
			continue
		}
		seen[step.TechniqueID] = struct{}{}
		out = append(out, step.TechniqueID)
	}
	return out
}

// PID match types recorded on an AlertRecord during step correlation.
const (
	PIDMatchDirect = "pid"
	PIDMatchParent = "ppid"
)

// AlertRecord is the normalized view of one raw alert document.
type AlertRecord struct {
	DocID        string    `json:"doc_id,omitempty"`
	Index        string    `json:"index,omitempty"`
	Timestamp    time.Time `json:"@timestamp,omitzero"`
	RuleID       string    `json:"rule.id,omitempty"`
	RuleLevel    *int      `json:"level,omitempty"`
	Description  string    `json:"description,omitempty"`
	AgentID      string    `json:"agent.id,omitempty"`
	AgentName    string    `json:"agent.name,omitempty"`
	TechniqueIDs []string  `json:"technique_ids"`
	Tactics      []string  `json:"mitre.tactic,omitempty"`
	PID          string    `json:"pid,omitempty"`
	PPID         string    `json:"ppid,omitempty"`
	FullLog      string    `json:"full_log,omitempty"`
	AuditType    string    `json:"audit.type,omitempty"`
	AuditExe     string    `json:"audit.exe,omitempty"`

	PIDMatched   bool   `json:"pid_matched,omitempty"`
	PIDMatchType string `json:"pid_match_type,omitempty"`
}

// StepMatchResult is the outcome of correlating a single execution step.
type StepMatchResult struct {
	LinkID        string        `json:"link_id"`
	TechniqueID   string        `json:"technique_id,omitempty"`
	AbilityName   string        `json:"ability_name,omitempty"`
	Paw           string        `json:"paw,omitempty"`
	ProcessID     string        `json:"pid,omitempty"`
	ExecutedAt    time.Time     `json:"executed_at,omitzero"`
	Detected      bool          `json:"detected"`
	MatchCount    int           `json:"match_count"`
	PIDMatchCount int           `json:"pid_match_count"`
	Confidence    float64       `json:"confidence"`
	Matches       []AlertRecord `json:"matches"`
	Error         string        `json:"error,omitempty"`
}

// Detection rate bases reported alongside the headline rate.
const (
	TierStep      = "step"
	TierTechnique = "technique"
)

// CorrelationSummary carries the technique-level view of a report.
type CorrelationSummary struct {
	DetectionRate            float64  `json:"detection_rate"`
	TechniqueDetectionRate   float64  `json:"technique_detection_rate"`
	DetectionRateBasis       string   `json:"detection_rate_basis"`
	TotalTechniques          int      `json:"total_techniques"`
	DetectedTechniques       int      `json:"detected_techniques"`
	AllOperationTechniques   []string `json:"all_operation_techniques"`
	AllDetectedTechniques    []string `json:"all_detected_techniques"`
	MatchedTechniques        []string `json:"matched_techniques"`
	UndetectedTechniques     int      `json:"undetected_techniques"`
	UndetectedTechniquesList []string `json:"undetected_techniques_list"`
}

// CoverageReport is the operation-level result returned to callers.
type CoverageReport struct {
	Success         bool               `json:"success"`
	ReportID        string             `json:"report_id"`
	OperationID     string             `json:"operation_id"`
	OperationName   string             `json:"operation_name"`
	StartTime       string             `json:"start_time"`
	EndTime         string             `json:"end_time"`
	DurationSeconds int64              `json:"duration_seconds"`
	Tier            string             `json:"tier"`
	FallbackUsed    bool               `json:"fallback_used"`
	Incomplete      bool               `json:"incomplete"`
	AttackSteps     *int               `json:"attack_steps"`
	DetectedSteps   *int               `json:"detected_steps"`
	TotalAlerts     int                `json:"total_alerts"`
	TotalMatches    int                `json:"total_matches"`
	Correlation     CorrelationSummary `json:"correlation"`
	AlertsMatched   []AlertRecord      `json:"alerts_matched"`
	StepResults     []StepMatchResult  `json:"step_results,omitempty"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// CorrelateRequest is the payload accepted by the correlate endpoint and the
// correlation job subject. Operation may be an embedded operation object; when
// it carries no chain, the chain is loaded by OperationID.
type CorrelateRequest struct {
	OperationID string                 `json:"operation_id,omitempty" validate:"required_without=Operation,max=256"`
	Operation   map[string]interface{} `json:"operation,omitempty"`
	Index       string                 `json:"index,omitempty" validate:"omitempty,max=255,printascii"`
	Start       string                 `json:"start,omitempty"`
	End         string                 `json:"end,omitempty"`
}

// DashboardKPI is the KPI block of the dashboard summary.
type DashboardKPI struct {
	Operations         int     `json:"operations"`
	TechniquesTotal    int     `json:"techniques_total"`
	TechniquesDetected int     `json:"techniques_detected"`
	DetectionRate      float64 `json:"detection_rate"`
	AlertsTotal        int     `json:"alerts_total"`
	AttackSteps        *int    `json:"attack_steps"`
}

// DashboardOperation identifies the operation summarized by the dashboard.
type DashboardOperation struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// DashboardSummary is the response of the dashboard summary endpoint.
type DashboardSummary struct {
	Success     bool               `json:"success"`
	GeneratedAt string             `json:"generated_at"`
	Operation   DashboardOperation `json:"operation"`
	KPI         DashboardKPI       `json:"kpi"`
	Coverage    *CoverageReport    `json:"coverage"`
}

// HealthStatus is the response of the health endpoint.
type HealthStatus struct {
	Plugin       string            `json:"plugin"`
	WazuhIndexer string            `json:"wazuh_indexer"`
	Components   map[string]string `json:"components,omitempty"`
	Timestamp    string            `json:"timestamp"`
}
