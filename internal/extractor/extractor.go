// Package extractor turns raw alert documents of varying shape into
// normalized AlertRecords.
//
// Every logical field is resolved by an ordered chain of lookups. A lookup
// treats any non-object intermediate node as absent, so extraction never
// fails: a document that is not an object yields an empty record.
package extractor

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/telhawk-systems/telhawk-coverage/internal/models"
	"github.com/telhawk-systems/telhawk-coverage/internal/normalize"
)

// lookup resolves one candidate location of a field in a document.
type lookup func(doc map[string]interface{}) interface{}

// nested walks an object path, returning nil when any step is not an object.
func nested(path ...string) lookup {
	return func(doc map[string]interface{}) interface{} {
		return getPath(doc, path)
	}
}

// flat reads a single key that itself contains dots, as produced by
// flattened index mappings.
func flat(key string) lookup {
	return func(doc map[string]interface{}) interface{} {
		return doc[key]
	}
}

func getPath(doc map[string]interface{}, path []string) interface{} {
	current := doc
	for i, part := range path {
		value, ok := current[part]
		if !ok {
			return nil
		}
		if i == len(path)-1 {
			return value
		}
		next, ok := value.(map[string]interface{})
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

// ruleMitre collects key from rule.mitre, which is an object in most Wazuh
// versions and a list of objects in some.
func ruleMitre(key string) lookup {
	return func(doc map[string]interface{}) interface{} {
		switch v := getPath(doc, []string{"rule", "mitre"}).(type) {
		case map[string]interface{}:
			return v[key]
		case []interface{}:
			var out []interface{}
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok && m[key] != nil {
					out = append(out, m[key])
				}
			}
			return out
		}
		return nil
	}
}

var (
	timestampChain = []lookup{flat("@timestamp"), flat("timestamp")}

	techniqueChain = []lookup{
		nested("data", "mitre", "id"),
		ruleMitre("id"),
		nested("mitre", "id"),
		flat("data.mitre.id"),
		flat("rule.mitre.id"),
		flat("mitre.id"),
	}

	tacticChain = []lookup{
		nested("data", "mitre", "tactic"),
		ruleMitre("tactic"),
		nested("mitre", "tactic"),
		flat("mitre.tactic"),
		flat("rule.mitre.tactic"),
	}

	ruleIDChain    = []lookup{nested("rule", "id"), flat("rule.id")}
	ruleLevelChain = []lookup{nested("rule", "level"), flat("rule.level"), flat("level")}
	descChain      = []lookup{nested("rule", "description"), flat("rule.description"), flat("message"), flat("full_log")}
	agentIDChain   = []lookup{nested("agent", "id"), flat("agent.id")}
	agentNameChain = []lookup{nested("agent", "name"), flat("agent.name")}

	pidChain = []lookup{
		nested("data", "audit", "pid"),
		nested("data", "win", "eventdata", "processId"),
		nested("data", "win", "eventdata", "ProcessId"),
		nested("data", "win", "eventdata", "processid"),
	}

	ppidChain = []lookup{
		nested("data", "audit", "ppid"),
		nested("data", "win", "eventdata", "parentProcessId"),
		nested("data", "win", "eventdata", "ParentProcessId"),
		nested("data", "win", "eventdata", "parentprocessid"),
	}
)

// first returns the first present value produced by the chain.
func first(doc map[string]interface{}, chain []lookup) interface{} {
	for _, fn := range chain {
		if v := fn(doc); present(v) {
			return v
		}
	}
	return nil
}

// present mirrors the truthiness alert producers rely on: empty strings,
// zero numbers and empty lists count as missing.
func present(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	}
	return true
}

// Extract builds an AlertRecord from a raw alert document (usually a search
// hit's _source).
func Extract(document interface{}) models.AlertRecord {
	record := models.AlertRecord{TechniqueIDs: []string{}}
	doc, ok := document.(map[string]interface{})
	if !ok {
		return record
	}

	if ts := first(doc, timestampChain); ts != nil {
		if t, err := normalize.ToInstant(ts); err == nil {
			record.Timestamp = t
		}
	}

	techniques := make(normalize.TechniqueSet)
	for _, fn := range techniqueChain {
		techniques.AddRaw(fn(doc))
	}
	record.TechniqueIDs = techniques.Sorted()
	record.Tactics = collectStrings(doc, tacticChain)

	record.RuleID = scalarString(first(doc, ruleIDChain))
	record.RuleLevel = scalarInt(first(doc, ruleLevelChain))
	record.Description = scalarString(first(doc, descChain))
	record.AgentID = scalarString(first(doc, agentIDChain))
	record.AgentName = scalarString(first(doc, agentNameChain))
	record.PID = scalarString(first(doc, pidChain))
	record.PPID = scalarString(first(doc, ppidChain))
	record.FullLog = scalarString(doc["full_log"])
	record.AuditType = scalarString(getPath(doc, []string{"data", "audit", "type"}))
	record.AuditExe = scalarString(getPath(doc, []string{"data", "audit", "exe"}))

	return record
}

// ExtractHit extracts a hit's source and attaches its document identity.
func ExtractHit(id, index string, source map[string]interface{}) models.AlertRecord {
	record := Extract(source)
	record.DocID = id
	record.Index = index
	return record
}

// collectStrings unions the string values found across every lookup,
// preserving first-seen order.
func collectStrings(doc map[string]interface{}, chain []lookup) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(v interface{}) {
		s := scalarString(v)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, fn := range chain {
		switch v := fn(doc).(type) {
		case []interface{}:
			for _, item := range v {
				if list, ok := item.([]interface{}); ok {
					for _, inner := range list {
						add(inner)
					}
					continue
				}
				add(item)
			}
		default:
			add(v)
		}
	}
	return out
}

// scalarString renders a scalar as a string; objects and lists are absent.
func scalarString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int, int32, int64, uint, uint32, uint64, bool:
		return fmt.Sprint(t)
	case fmt.Stringer:
		return t.String()
	}
	return ""
}

func scalarInt(v interface{}) *int {
	var n int
	switch t := v.(type) {
	case float64:
		n = int(t)
	case int:
		n = t
	case int64:
		n = int(t)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	return &n
}
