// Package seeder generates Wazuh-shaped alerts for an emulation operation and
// bulk-indexes them, so coverage runs can be exercised without a live agent.
package seeder

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/telhawk-coverage/internal/models"
	"github.com/telhawk-systems/telhawk-coverage/internal/rulemap"
)

// Alert document shapes observed in Wazuh deployments.
const (
	ShapeAudit   = "audit"
	ShapeWindows = "windows"
	ShapeFlat    = "flat"
)

// DefaultIndexPrefix matches the daily Wazuh alert indices.
const DefaultIndexPrefix = "wazuh-alerts-4.x-"

var noiseTechniques = []string{"T1078", "T1110.001", "T1021.002", "T1046", "T1562.001", "T1070.004", "T1105"}

// Options tunes generation.
type Options struct {
	// DetectRatio is the probability that a searchable step gets an alert.
	DetectRatio float64
	// NoisePerStep unrelated alerts are generated around each step.
	NoisePerStep int
	// Jitter bounds the offset of an alert from its step.
	Jitter      time.Duration
	IndexPrefix string
	Seed        int64
}

// Document is one alert ready to be indexed.
type Document struct {
	ID     string
	Index  string
	Source map[string]interface{}
}

// Generator produces synthetic alerts. It is not safe for concurrent use.
type Generator struct {
	faker *gofakeit.Faker
	rules *rulemap.Mapping
	opts  Options
}

// NewGenerator creates a generator. A zero seed picks a random one.
func NewGenerator(opts Options, rules *rulemap.Mapping) *Generator {
	if opts.Jitter <= 0 {
		opts.Jitter = time.Minute
	}
	if opts.IndexPrefix == "" {
		opts.IndexPrefix = DefaultIndexPrefix
	}
	if opts.DetectRatio < 0 {
		opts.DetectRatio = 0
	}
	if opts.DetectRatio > 1 {
		opts.DetectRatio = 1
	}
	return &Generator{faker: gofakeit.New(opts.Seed), rules: rules, opts: opts}
}

// Generate returns alerts for op's chain. Detected steps with a process id
// get an alert carrying the pid directly or as the parent of a child process.
func (g *Generator) Generate(op *models.Operation) []Document {
	declared := op.Techniques()
	var noise []string
	for _, t := range noiseTechniques {
		if !slices.Contains(declared, t) {
			noise = append(noise, t)
		}
	}

	agents := map[string]agent{}
	var docs []Document
	for _, step := range op.Chain {
		if !step.Searchable() {
			continue
		}
		host, ok := agents[step.Paw]
		if !ok {
			host = g.newAgent(len(agents))
			agents[step.Paw] = host
		}

		if g.faker.Float64Range(0, 1) < g.opts.DetectRatio {
			docs = append(docs, g.stepAlert(step, host))
		}
		for i := 0; i < g.opts.NoisePerStep && len(noise) > 0; i++ {
			technique := noise[g.faker.IntRange(0, len(noise)-1)]
			docs = append(docs, g.alert(technique, g.around(step.Timestamp), host, ShapeFlat, "", ""))
		}
	}
	return docs
}

type agent struct {
	id   string
	name string
	os   string
}

func (g *Generator) newAgent(n int) agent {
	os := "linux"
	if g.faker.Bool() {
		os = "windows"
	}
	return agent{
		id:   fmt.Sprintf("%03d", n+1),
		name: g.faker.Username() + "-" + os,
		os:   os,
	}
}

func (g *Generator) stepAlert(step models.ExecutionStep, host agent) Document {
	ts := g.around(step.Timestamp)
	if step.ProcessID == "" {
		shape := []string{ShapeAudit, ShapeWindows, ShapeFlat}[g.faker.IntRange(0, 2)]
		return g.alert(step.TechniqueID, ts, host, shape, "", "")
	}

	shape := ShapeAudit
	if host.os == "windows" {
		shape = ShapeWindows
	}
	if g.faker.Bool() {
		return g.alert(step.TechniqueID, ts, host, shape, step.ProcessID, strconv.Itoa(g.faker.IntRange(1, 999)))
	}
	child := strconv.Itoa(g.faker.IntRange(10000, 65000))
	return g.alert(step.TechniqueID, ts, host, shape, child, step.ProcessID)
}

func (g *Generator) around(center time.Time) time.Time {
	span := int(g.opts.Jitter / time.Millisecond)
	return center.Add(time.Duration(g.faker.IntRange(-span, span)) * time.Millisecond).UTC()
}

func (g *Generator) ruleID(technique string) string {
	if ids := g.rules.RulesFor(technique); len(ids) > 0 {
		return ids[g.faker.IntRange(0, len(ids)-1)]
	}
	return strconv.Itoa(g.faker.IntRange(100000, 120000))
}

func (g *Generator) alert(technique string, ts time.Time, host agent, shape, pid, ppid string) Document {
	ruleID := g.ruleID(technique)
	description := fmt.Sprintf("%s activity detected (%s)", technique, g.faker.HackerVerb())
	src := map[string]interface{}{
		"@timestamp": ts.Format("2006-01-02T15:04:05.000Z07:00"),
		"agent":      map[string]interface{}{"id": host.id, "name": host.name, "ip": g.faker.IPv4Address()},
		"manager":    map[string]interface{}{"name": "wazuh-manager"},
		"decoder":    map[string]interface{}{"name": shape},
		"location":   shape,
		"id":         fmt.Sprintf("%d.%d", ts.Unix(), g.faker.IntRange(1000, 99999)),
	}

	rule := map[string]interface{}{
		"id":          ruleID,
		"level":       g.faker.IntRange(3, 12),
		"description": description,
		"groups":      []string{"coverage_seed", shape},
	}

	switch shape {
	case ShapeFlat:
		src["rule"] = rule
		src["rule.mitre.id"] = technique
		src["full_log"] = fmt.Sprintf("%s %s", description, g.faker.Word())
	case ShapeAudit:
		rule["mitre"] = map[string]interface{}{"id": []interface{}{technique}}
		src["rule"] = rule
		audit := map[string]interface{}{
			"type": "EXECVE",
			"exe":  "/usr/bin/" + g.faker.Word(),
		}
		if pid != "" {
			audit["pid"] = pid
		}
		if ppid != "" {
			audit["ppid"] = ppid
		}
		src["data"] = map[string]interface{}{"audit": audit}
	case ShapeWindows:
		rule["mitre"] = map[string]interface{}{"id": []interface{}{technique}}
		src["rule"] = rule
		eventdata := map[string]interface{}{
			"image": `C:\Windows\System32\` + g.faker.Word() + ".exe",
		}
		if pid != "" {
			eventdata["processId"] = pid
		}
		if ppid != "" {
			eventdata["parentProcessId"] = ppid
		}
		src["data"] = map[string]interface{}{
			"win": map[string]interface{}{"eventdata": eventdata},
		}
	}

	return Document{
		ID:     g.faker.UUID(),
		Index:  g.opts.IndexPrefix + ts.Format("2006.01.02"),
		Source: src,
	}
}
