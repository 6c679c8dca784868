package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-coverage/internal/config"
	"github.com/telhawk-systems/telhawk-coverage/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(&bytes.Buffer{}, logging.ParseLevel("debug"), "json")
}

func TestRules(t *testing.T) {
	cfg := testConfig(t)

	rules, err := Rules(cfg)
	require.NoError(t, err)
	tech, ok := rules.Technique("592")
	assert.True(t, ok)
	assert.Equal(t, "T1059", tech)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  \"100200\": T1003.001\n"), 0600))
	cfg.Rules.MappingFile = path

	rules, err = Rules(cfg)
	require.NoError(t, err)
	tech, ok = rules.Technique("100200")
	assert.True(t, ok)
	assert.Equal(t, "T1003.001", tech)

	cfg.Rules.MappingFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = Rules(cfg)
	assert.Error(t, err)
}

func TestGatewayAndEngine(t *testing.T) {
	cfg := testConfig(t)

	gateway, err := Gateway(cfg)
	require.NoError(t, err)
	require.NotNil(t, gateway.Client())

	engine, err := Engine(cfg, gateway, testLogger())
	require.NoError(t, err)
	assert.Equal(t, cfg.OpenSearch.Index, engine.Config().Index)
	assert.Equal(t, cfg.Correlation.DefaultWindow, engine.Config().DefaultWindow)
}

func TestChains(t *testing.T) {
	t.Run("none configured", func(t *testing.T) {
		cfg := testConfig(t)
		src, archive, cleanup, err := Chains(context.Background(), cfg, testLogger())
		require.NoError(t, err)
		defer cleanup()
		assert.Nil(t, src)
		assert.Nil(t, archive)
	})

	t.Run("caldera only", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Caldera.URL = "http://caldera:8888"
		src, archive, cleanup, err := Chains(context.Background(), cfg, testLogger())
		require.NoError(t, err)
		defer cleanup()
		assert.NotNil(t, src)
		assert.Nil(t, archive)
	})
}

func TestNATSDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.NATS.Enabled = false
	assert.Nil(t, NATS(cfg, testLogger()))
}

func TestPublishers(t *testing.T) {
	cfg := testConfig(t)

	pubs := Publishers(cfg, nil, testLogger())
	assert.Equal(t, 0, pubs.Len())

	cfg.Kafka.Enabled = true
	pubs = Publishers(cfg, nil, testLogger())
	assert.Equal(t, 1, pubs.Len())
	assert.NoError(t, pubs.Close())
}
