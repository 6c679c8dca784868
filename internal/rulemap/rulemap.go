// Package rulemap maps Wazuh rule ids that do not carry MITRE metadata to
// the technique they imply.
package rulemap

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/telhawk-coverage/internal/normalize"
)

// defaultMappings covers stock Wazuh rules that fire on common emulation
// abilities but ship without rule.mitre.
var defaultMappings = map[string]string{
	"5715":  "T1078",
	"5501":  "T1078",
	"5402":  "T1078.003",
	"533":   "T1049",
	"510":   "T1082",
	"502":   "T1082",
	"503":   "T1082",
	"19005": "T1082",
	"19007": "T1082",
	"19008": "T1082",
	"19009": "T1082",
	"550":   "T1083",
	"554":   "T1083",
	"592":   "T1059",
	"594":   "T1059",
}

// Mapping is an immutable rule id to technique table with a reverse index.
type Mapping struct {
	byRule      map[string]string
	byTechnique map[string][]string
}

// File is the YAML layout accepted by LoadFile.
type File struct {
	// Replace drops the built-in table instead of extending it.
	Replace bool              `yaml:"replace"`
	Rules   map[string]string `yaml:"rules"`
}

// Default returns the built-in mapping.
func Default() *Mapping {
	m, _ := New(defaultMappings)
	return m
}

// New builds a mapping from rule id to raw technique id.
func New(rules map[string]string) (*Mapping, error) {
	m := &Mapping{
		byRule:      make(map[string]string, len(rules)),
		byTechnique: make(map[string][]string),
	}
	for ruleID, raw := range rules {
		technique, ok := normalize.TechniqueID(raw)
		if !ok {
			return nil, fmt.Errorf("rule %s: invalid technique id %q", ruleID, raw)
		}
		m.byRule[ruleID] = technique
		m.byTechnique[technique] = append(m.byTechnique[technique], ruleID)
	}
	for technique := range m.byTechnique {
		sort.Strings(m.byTechnique[technique])
	}
	return m, nil
}

// LoadFile reads a YAML mapping file. Unless the file sets replace, its rules
// are layered over the built-in table.
func LoadFile(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule mapping: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rule mapping: %w", err)
	}

	merged := make(map[string]string, len(defaultMappings)+len(f.Rules))
	if !f.Replace {
		for k, v := range defaultMappings {
			merged[k] = v
		}
	}
	for k, v := range f.Rules {
		merged[k] = v
	}
	return New(merged)
}

// Technique returns the technique implied by a rule id.
func (m *Mapping) Technique(ruleID string) (string, bool) {
	if m == nil {
		return "", false
	}
	t, ok := m.byRule[ruleID]
	return t, ok
}

// RulesFor returns the sorted rule ids that imply technique. The returned
// slice must not be modified.
func (m *Mapping) RulesFor(technique string) []string {
	if m == nil {
		return nil
	}
	return m.byTechnique[technique]
}

// Len returns the number of mapped rules.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.byRule)
}

// Rules returns a copy of the rule table.
func (m *Mapping) Rules() map[string]string {
	out := make(map[string]string, m.Len())
	if m == nil {
		return out
	}
	for k, v := range m.byRule {
		out[k] = v
	}
	return out
}
