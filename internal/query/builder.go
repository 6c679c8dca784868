// Package query builds OpenSearch DSL bodies for technique-scoped alert
// searches and plain time-range fetches.
package query

import (
	"strings"
	"time"
)

// Query is an OpenSearch request body.
type Query map[string]interface{}

// Fields lists the alert document fields the builder targets.
type Fields struct {
	// Technique fields receive exact term clauses plus a .keyword variant.
	Technique []string
	// Wildcard fields receive a *Txxxx* substring clause.
	Wildcard []string
	// Message fields receive match_phrase clauses.
	Message []string
	// Timestamp fields are ORed in the time filter and used for sorting.
	Timestamp []string
	// RuleID fields receive term clauses for mapped rule ids.
	RuleID []string
}

// DefaultFields returns the field layout of Wazuh alert indices.
func DefaultFields() Fields {
	return Fields{
		Technique: []string{"data.mitre.id", "rule.mitre.id", "mitre.id", "rule.mitre.technique"},
		Wildcard:  []string{"data.mitre.id", "rule.mitre.id"},
		Timestamp: []string{"@timestamp", "timestamp"},
		RuleID:    []string{"rule.id"},
	}
}

// DefaultMaxHits caps technique searches when no limit is configured.
const DefaultMaxHits = 200

// Builder produces search bodies. It holds no mutable state and is safe for
// concurrent use.
type Builder struct {
	fields  Fields
	maxHits int
}

// NewBuilder creates a builder. Empty field groups fall back to the defaults.
func NewBuilder(fields Fields, maxHits int) *Builder {
	def := DefaultFields()
	if len(fields.Technique) == 0 {
		fields.Technique = def.Technique
	}
	if len(fields.Wildcard) == 0 {
		fields.Wildcard = def.Wildcard
	}
	if len(fields.Timestamp) == 0 {
		fields.Timestamp = def.Timestamp
	}
	if len(fields.RuleID) == 0 {
		fields.RuleID = def.RuleID
	}
	if maxHits <= 0 {
		maxHits = DefaultMaxHits
	}
	return &Builder{fields: fields, maxHits: maxHits}
}

// Build returns a query matching alerts within [center-window, center+window]
// that reference techniqueID through any known technique field, a mapped rule
// id, or a substring match.
func (b *Builder) Build(techniqueID string, center time.Time, window time.Duration, ruleIDs []string) Query {
	var should []interface{}

	for _, f := range b.fields.Technique {
		should = append(should, term(f, techniqueID))
		if !strings.HasSuffix(f, ".keyword") {
			should = append(should, term(f+".keyword", techniqueID))
		}
	}
	for _, f := range b.fields.Message {
		should = append(should, map[string]interface{}{
			"match_phrase": map[string]interface{}{f: techniqueID},
		})
	}
	for _, ruleID := range ruleIDs {
		for _, f := range b.fields.RuleID {
			should = append(should, term(f, ruleID))
			if !strings.HasSuffix(f, ".keyword") {
				should = append(should, term(f+".keyword", ruleID))
			}
		}
	}
	for _, f := range b.fields.Wildcard {
		should = append(should, map[string]interface{}{
			"wildcard": map[string]interface{}{f: "*" + techniqueID + "*"},
		})
	}

	return Query{
		"size": b.maxHits,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter":               []interface{}{b.timeFilter(center.Add(-window), center.Add(window))},
				"should":               should,
				"minimum_should_match": 1,
			},
		},
		"sort": b.sort(),
	}
}

// RangeQuery returns a query matching every alert within [start, end].
func (b *Builder) RangeQuery(start, end time.Time, size int) Query {
	if size <= 0 {
		size = b.maxHits
	}
	return Query{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{b.timeFilter(start, end)},
			},
		},
		"sort": b.sort(),
	}
}

// timeFilter ORs an inclusive range over every timestamp field.
func (b *Builder) timeFilter(start, end time.Time) map[string]interface{} {
	gte := start.UTC().Format(time.RFC3339Nano)
	lte := end.UTC().Format(time.RFC3339Nano)

	ranges := make([]interface{}, 0, len(b.fields.Timestamp))
	for _, f := range b.fields.Timestamp {
		ranges = append(ranges, map[string]interface{}{
			"range": map[string]interface{}{
				f: map[string]interface{}{"gte": gte, "lte": lte},
			},
		})
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"should":               ranges,
			"minimum_should_match": 1,
		},
	}
}

func (b *Builder) sort() []interface{} {
	out := make([]interface{}, 0, len(b.fields.Timestamp))
	for _, f := range b.fields.Timestamp {
		out = append(out, map[string]interface{}{
			f: map[string]interface{}{"order": "asc", "unmapped_type": "date"},
		})
	}
	return out
}

func term(field, value string) map[string]interface{} {
	return map[string]interface{}{
		"term": map[string]interface{}{field: value},
	}
}
