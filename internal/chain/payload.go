// Package chain loads emulation operations and converts loosely structured
// operation payloads into typed execution chains.
package chain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/telhawk-systems/telhawk-coverage/internal/models"
	"github.com/telhawk-systems/telhawk-coverage/internal/normalize"
)

// OperationFromPayload converts an operation object as produced by the
// orchestration tool's API, or embedded in a correlation request, into a
// typed Operation. Unparseable timestamps become absent.
func OperationFromPayload(payload map[string]interface{}) *models.Operation {
	op := &models.Operation{
		ID:    firstString(payload, "id", "operation_id"),
		Name:  firstString(payload, "name"),
		Start: instant(payload["start"]),
		End:   firstInstant(payload, "end", "finish"),
		Chain: []models.ExecutionStep{},
	}

	if links, ok := payload["chain"].([]interface{}); ok {
		for _, raw := range links {
			link, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			op.Chain = append(op.Chain, StepFromLink(link))
		}
	}

	op.MatchWindows = parseMatchWindows(payload["match_windows"])
	if len(op.MatchWindows) == 0 {
		op.MatchWindows = parseMatchWindows(payload["_match_windows"])
	}
	if len(op.MatchWindows) == 0 {
		op.MatchWindows = DeriveMatchWindows(op.Chain)
	}
	return op
}

// StepFromLink converts one chain link. The step timestamp is taken from
// finish, start, decide or executed_at, in that order.
func StepFromLink(link map[string]interface{}) models.ExecutionStep {
	ability, _ := link["ability"].(map[string]interface{})

	step := models.ExecutionStep{
		LinkID:      firstString(link, "link_id", "id", "unique"),
		AbilityName: firstString(ability, "name"),
		Paw:         firstString(link, "paw"),
		ProcessID:   firstString(link, "pid", "process_id"),
		Command:     firstString(link, "plaintext_command", "command"),
		Timestamp:   firstInstant(link, "finish", "start", "decide", "executed_at"),
	}
	if step.AbilityName == "" {
		step.AbilityName = firstString(link, "ability_name")
	}

	rawTechnique := firstString(link, "technique_id")
	if rawTechnique == "" {
		rawTechnique = firstString(ability, "technique_id")
	}
	if id, ok := normalize.TechniqueID(rawTechnique); ok {
		step.TechniqueID = id
	}
	return step
}

// DeriveMatchWindows returns one hint per step with a technique and timestamp.
func DeriveMatchWindows(steps []models.ExecutionStep) []models.MatchWindow {
	var out []models.MatchWindow
	for _, step := range steps {
		if step.Searchable() {
			out = append(out, models.MatchWindow{TechniqueID: step.TechniqueID, Center: step.Timestamp})
		}
	}
	return out
}

// FillSpan returns a copy of op whose missing start and end are taken from
// the first and last timestamped steps.
func FillSpan(op *models.Operation) *models.Operation {
	out := *op
	if !out.Start.IsZero() && !out.End.IsZero() {
		return &out
	}

	var first, last time.Time
	for _, step := range op.Chain {
		if step.Timestamp.IsZero() {
			continue
		}
		if first.IsZero() {
			first = step.Timestamp
		}
		last = step.Timestamp
	}
	if out.Start.IsZero() {
		out.Start = first
	}
	if out.End.IsZero() {
		out.End = last
	}
	return &out
}

// parseMatchWindows accepts objects ({technique_id, center}) or tuples
// ([technique, center, start]).
func parseMatchWindows(raw interface{}) []models.MatchWindow {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var out []models.MatchWindow
	for _, item := range list {
		var technique string
		var center time.Time
		switch v := item.(type) {
		case map[string]interface{}:
			technique = firstString(v, "technique_id", "technique")
			center = instant(v["center"])
		case []interface{}:
			if len(v) < 2 {
				continue
			}
			technique = scalar(v[0])
			center = instant(v[1])
		default:
			continue
		}
		id, ok := normalize.TechniqueID(technique)
		if !ok || center.IsZero() {
			continue
		}
		out = append(out, models.MatchWindow{TechniqueID: id, Center: center})
	}
	return out
}

func instant(v interface{}) time.Time {
	if v == nil {
		return time.Time{}
	}
	t, err := normalize.ToInstant(v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// firstInstant returns the instant of the first present key. A present but
// unparseable value yields the zero time rather than falling through.
func firstInstant(m map[string]interface{}, keys ...string) time.Time {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || scalar(v) == "" {
			continue
		}
		return instant(v)
	}
	return time.Time{}
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s := scalar(m[k]); s != "" {
			return s
		}
	}
	return ""
}

// scalar renders strings and numbers; zero numbers count as absent.
func scalar(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == 0 {
			return ""
		}
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		if t == 0 {
			return ""
		}
		return strconv.Itoa(t)
	case int64:
		if t == 0 {
			return ""
		}
		return strconv.FormatInt(t, 10)
	case time.Time:
		return normalize.FormatISO(t)
	case bool, int32, uint, uint64:
		return fmt.Sprint(t)
	}
	return ""
}
