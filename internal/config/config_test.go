package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "wazuh-alerts-*", cfg.OpenSearch.Index)
	assert.Equal(t, 180, cfg.Match.TimeWindowSeconds)
	assert.Equal(t, 200, cfg.Match.MaxAlerts)

	settings := cfg.CorrelationSettings()
	assert.Equal(t, 180*time.Second, settings.StepWindow)
	assert.Equal(t, 3*time.Hour, settings.DefaultWindow)
	assert.Equal(t, 2000, settings.FallbackRangeSize)
	assert.Equal(t, 4, settings.MaxConcurrency)

	fields := cfg.QueryFields()
	assert.Contains(t, fields.Technique, "rule.mitre.id")
	assert.Equal(t, []string{"rule.id"}, fields.RuleID)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coverage.yaml")
	content := `
opensearch:
  url: https://indexer:9200
  index: custom-alerts-*
match:
  time_window_seconds: 60
  technique_fields: [rule.mitre.id]
correlation:
  operation_timeout: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("COVERAGE_CORRELATION_MAX_CONCURRENCY", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://indexer:9200", cfg.OpenSearch.URL)
	assert.Equal(t, "custom-alerts-*", cfg.CorrelationSettings().Index)
	assert.Equal(t, 60*time.Second, cfg.CorrelationSettings().StepWindow)
	assert.Equal(t, 90*time.Second, cfg.Correlation.OperationTimeout)
	assert.Equal(t, 8, cfg.Correlation.MaxConcurrency)
	assert.Equal(t, []string{"rule.mitre.id"}, cfg.QueryFields().Technique)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Correlation.MaxConcurrency = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MaxConcurrency")

	cfg.Correlation.MaxConcurrency = 4
	cfg.OpenSearch.URL = "not a url"
	assert.Error(t, cfg.Validate())

	cfg.OpenSearch.URL = "https://indexer:9200"
	cfg.Kafka.Enabled = true
	cfg.Kafka.Topic = ""
	assert.Error(t, cfg.Validate())
}
