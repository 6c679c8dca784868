package correlation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-coverage/internal/models"
)

func alert(id string, techniques ...string) models.AlertRecord {
	if techniques == nil {
		techniques = []string{}
	}
	return models.AlertRecord{DocID: id, AgentName: "  Web-01 ", TechniqueIDs: techniques}
}

func TestAggregatePrimaryKeepsOneAlertPerLink(t *testing.T) {
	op := operation(
		models.ExecutionStep{LinkID: "l1", TechniqueID: "T1059", Timestamp: t0},
		models.ExecutionStep{LinkID: "l2", TechniqueID: "T1059", Timestamp: t0},
		models.ExecutionStep{LinkID: "l3", TechniqueID: "T1082", Timestamp: t0},
	)
	shared := alert("shared", "T1059")
	res := &PrimaryResult{Steps: []models.StepMatchResult{
		{LinkID: "l1", TechniqueID: "T1059", Detected: true, MatchCount: 2, Matches: []models.AlertRecord{shared, alert("extra", "T1003")}},
		{LinkID: "l2", TechniqueID: "T1059", Detected: true, MatchCount: 1, Matches: []models.AlertRecord{shared}},
		{LinkID: "l3", TechniqueID: "T1082", Matches: []models.AlertRecord{}},
	}}

	report := Aggregate(op, Window{Start: t0, End: t0.Add(time.Hour)}, res)

	assert.Equal(t, 3, *report.AttackSteps)
	assert.Equal(t, 2, *report.DetectedSteps)
	assert.Equal(t, 66.67, report.Correlation.DetectionRate)
	assert.Equal(t, 3, report.TotalMatches)
	assert.Equal(t, 2, report.TotalAlerts)
	require.Len(t, report.AlertsMatched, 2)
	assert.Equal(t, "web-01", report.AlertsMatched[0].AgentName)

	// technique sets are informational in the step tier
	assert.Equal(t, []string{"T1003", "T1059"}, report.Correlation.AllDetectedTechniques)
	assert.Equal(t, []string{"T1059"}, report.Correlation.MatchedTechniques)
	assert.Equal(t, []string{"T1082"}, report.Correlation.UndetectedTechniquesList)
	assert.Equal(t, 50.0, report.Correlation.TechniqueDetectionRate)
	assert.Equal(t, models.TierStep, report.Correlation.DetectionRateBasis)
	assert.Equal(t, int64(3600), report.DurationSeconds)
	assert.Equal(t, "2024-01-01T00:00:00Z", report.StartTime)
	assert.Equal(t, "2024-01-01T01:00:00Z", report.EndTime)
}

func TestAggregatePrimaryUsesStepTechniqueForUntaggedMatches(t *testing.T) {
	op := operation(models.ExecutionStep{LinkID: "l1", TechniqueID: "T1083", Timestamp: t0})
	res := &PrimaryResult{Steps: []models.StepMatchResult{
		{LinkID: "l1", TechniqueID: "T1083", Detected: true, MatchCount: 1, Matches: []models.AlertRecord{alert("plain")}},
	}}

	report := Aggregate(op, Window{Start: t0, End: t0}, res)
	assert.Equal(t, []string{"T1083"}, report.Correlation.MatchedTechniques)
	assert.Equal(t, []string{"T1083"}, report.AlertsMatched[0].TechniqueIDs)
}

func TestAggregateFallbackDeduplicatesByTechnique(t *testing.T) {
	op := operation(
		models.ExecutionStep{LinkID: "l1", TechniqueID: "T1059"},
		models.ExecutionStep{LinkID: "l2", TechniqueID: "T1082"},
		models.ExecutionStep{LinkID: "l3", TechniqueID: "T1003"},
	)
	res := &FallbackResult{
		Hints: []HintAlerts{
			{TechniqueID: "T1059", Alerts: []models.AlertRecord{alert("h1", "T1059"), alert("untagged")}},
		},
		RangeAlerts: []models.AlertRecord{alert("r1", "T1059"), alert("r2", "T1082"), alert("untagged-2")},
	}

	report := Aggregate(op, Window{Start: t0, End: t0.Add(time.Hour)}, res)

	assert.True(t, report.FallbackUsed)
	assert.Nil(t, report.AttackSteps)
	assert.Equal(t, 66.67, report.Correlation.DetectionRate)
	assert.Equal(t, report.Correlation.DetectionRate, report.Correlation.TechniqueDetectionRate)
	assert.Equal(t, []string{"T1059", "T1082"}, report.Correlation.MatchedTechniques)
	assert.Equal(t, []string{"T1003"}, report.Correlation.UndetectedTechniquesList)

	var ids []string
	for _, a := range report.AlertsMatched {
		ids = append(ids, a.DocID)
	}
	// the untagged hint alert takes T1059 from its window, which h1 already represents
	assert.Equal(t, []string{"h1", "r2", "untagged-2"}, ids)
}

func TestAggregateFallbackAttributesUntaggedHintAlerts(t *testing.T) {
	op := operation(
		models.ExecutionStep{LinkID: "l1", TechniqueID: "T1082", Timestamp: t0},
		models.ExecutionStep{LinkID: "l2", TechniqueID: "T1003", Timestamp: t0},
	)
	res := &FallbackResult{
		Hints: []HintAlerts{
			{TechniqueID: "T1082", Alerts: []models.AlertRecord{alert("h1")}},
			{TechniqueID: "T1003", Alerts: []models.AlertRecord{alert("h2", "T1059")}},
		},
		RangeAlerts: []models.AlertRecord{alert("r1")},
	}

	report := Aggregate(op, Window{Start: t0, End: t0.Add(time.Hour)}, res)

	assert.Equal(t, []string{"T1082"}, report.Correlation.MatchedTechniques)
	assert.Equal(t, []string{"T1003"}, report.Correlation.UndetectedTechniquesList)
	assert.Equal(t, []string{"T1059", "T1082"}, report.Correlation.AllDetectedTechniques)
	assert.Equal(t, 50.0, report.Correlation.DetectionRate)
	require.Len(t, report.AlertsMatched, 3)
	assert.Equal(t, []string{"T1082"}, report.AlertsMatched[0].TechniqueIDs)
	assert.Empty(t, report.AlertsMatched[2].TechniqueIDs)
}

func TestAggregateFallbackSkipsRepeatedDocuments(t *testing.T) {
	op := operation(models.ExecutionStep{LinkID: "l1", TechniqueID: "T1082", Timestamp: t0})
	dup := alert("doc-1")
	dup.Index = "wazuh-alerts-4.x-2024.01.01"
	other := alert("doc-1")
	other.Index = "wazuh-alerts-4.x-2024.01.02"
	res := &FallbackResult{
		Hints:       []HintAlerts{{TechniqueID: "T1082", Alerts: []models.AlertRecord{dup}}},
		RangeAlerts: []models.AlertRecord{dup, dup, other, alert(""), alert("")},
	}

	report := Aggregate(op, Window{Start: t0, End: t0.Add(time.Hour)}, res)

	var got []string
	for _, a := range report.AlertsMatched {
		got = append(got, a.Index+"/"+a.DocID)
	}
	// alerts without a document id cannot be matched up and are all kept
	assert.Equal(t, []string{
		"wazuh-alerts-4.x-2024.01.01/doc-1",
		"wazuh-alerts-4.x-2024.01.02/doc-1",
		"/",
		"/",
	}, got)
	assert.Equal(t, 4, report.TotalAlerts)
}

func TestRate(t *testing.T) {
	assert.Equal(t, 0.0, rate(0, 0))
	assert.Equal(t, 0.0, rate(3, 0))
	assert.Equal(t, 33.33, rate(1, 3))
	assert.Equal(t, 100.0, rate(4, 4))
	assert.Equal(t, 50.0, rate(1, 2))
}
