package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-coverage/cli/internal/config"
	"github.com/telhawk-systems/telhawk-coverage/cli/pkg/output"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
	"github.com/telhawk-systems/telhawk-coverage/internal/rulemap"
)

const operationYAML = `id: op-42
name: Discovery run
chain:
  - id: link-1
    paw: abcd
    pid: 4242
    finish: "2024-05-01T10:00:00Z"
    ability:
      name: System info
      technique_id: T1082
  - id: link-2
    paw: abcd
    finish: "2024-05-01T10:05:00Z"
    ability:
      name: File listing
      technique_id: TECHNIQUE/T1083
`

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	oldOut, oldErr := output.Out, output.Err
	output.Out, output.Err = &buf, &buf
	t.Cleanup(func() { output.Out, output.Err = oldOut, oldErr })
	return &buf
}

func runRoot(t *testing.T, args ...string) error {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	rootCmd.SetArgs(append(args, "--config", cfgPath))
	return rootCmd.Execute()
}

func TestCommandsRegistered(t *testing.T) {
	require.NotNil(t, rootCmd)

	expectedCommands := map[string]bool{
		"correlate": false,
		"dashboard": false,
		"health":    false,
		"seed":      false,
		"rules":     false,
		"import":    false,
		"profile":   false,
	}
	for _, c := range rootCmd.Commands() {
		if _, ok := expectedCommands[c.Name()]; ok {
			expectedCommands[c.Name()] = true
		}
	}
	for name, found := range expectedCommands {
		assert.True(t, found, "expected command %q to be registered with root command", name)
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	names := func(subs []string) map[string]bool {
		m := map[string]bool{}
		for _, s := range subs {
			m[s] = true
		}
		return m
	}

	rules := map[string]bool{}
	for _, c := range rulesCmd.Commands() {
		rules[c.Name()] = true
	}
	assert.Equal(t, names([]string{"list", "lookup"}), rules)

	profiles := map[string]bool{}
	for _, c := range profileCmd.Commands() {
		profiles[c.Name()] = true
	}
	assert.Equal(t, names([]string{"set", "use", "list", "remove"}), profiles)
}

func TestGlobalFlags(t *testing.T) {
	for _, name := range []string{"config", "profile", "output", "service-config"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "expected global flag %q", name)
	}
}

func TestCommandFlags(t *testing.T) {
	cases := map[string][]string{
		"correlate": {"file", "index", "start", "end", "local", "steps"},
		"seed":      {"file", "operation", "detect-ratio", "noise", "jitter", "index-prefix", "seed", "dry-run"},
		"import":    {"file"},
	}
	for name, flags := range cases {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		for _, f := range flags {
			assert.NotNil(t, c.Flags().Lookup(f), "expected flag %q on %s", f, name)
		}
	}
}

func TestReadOperation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "op.yaml")
	require.NoError(t, os.WriteFile(path, []byte(operationYAML), 0600))

	op, err := readOperation(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "op-42", op.ID)
	require.Len(t, op.Chain, 2)
	assert.Equal(t, "T1082", op.Chain[0].TechniqueID)
	assert.Equal(t, "4242", op.Chain[0].ProcessID)
	assert.Equal(t, "T1083", op.Chain[1].TechniqueID)
	assert.Equal(t, op.Chain[0].Timestamp, op.Start)
	assert.Equal(t, op.Chain[1].Timestamp, op.End)
}

func TestReadOperation_Stdin(t *testing.T) {
	op, err := readOperation("-", strings.NewReader(`{"id":"op-json","chain":[{"id":"l1","technique_id":"T1059","finish":"2024-05-01T10:00:00Z"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "op-json", op.ID)
	assert.Len(t, op.Chain, 1)
}

func TestReadOperation_Errors(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0600))
	_, err := readOperation(empty, nil)
	assert.ErrorContains(t, err, "is empty")

	noChain := filepath.Join(dir, "nochain.yaml")
	require.NoError(t, os.WriteFile(noChain, []byte("id: op-1\n"), 0600))
	_, err = readOperation(noChain, nil)
	assert.ErrorContains(t, err, "no chain links")

	_, err = readOperation(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestBuildCorrelateRequest(t *testing.T) {
	t.Cleanup(func() { correlateFile, correlateIndex, correlateStart = "", "", "" })

	_, err := buildCorrelateRequest(correlateCmd, nil)
	assert.ErrorContains(t, err, "operation id or --file")

	correlateIndex = "wazuh-alerts-*"
	correlateStart = "2024-05-01T09:00:00Z"
	req, err := buildCorrelateRequest(correlateCmd, []string{"op-42"})
	require.NoError(t, err)
	assert.Equal(t, "op-42", req.OperationID)
	assert.Equal(t, "wazuh-alerts-*", req.Index)
	assert.Equal(t, "2024-05-01T09:00:00Z", req.Start)
	assert.Nil(t, req.Operation)

	path := filepath.Join(t.TempDir(), "op.yaml")
	require.NoError(t, os.WriteFile(path, []byte(operationYAML), 0600))
	correlateFile = path
	req, err = buildCorrelateRequest(correlateCmd, nil)
	require.NoError(t, err)
	assert.Equal(t, "op-42", req.Operation["id"])
}

func TestMappingEntries(t *testing.T) {
	m := rulemap.Default()

	all := mappingEntries(m, "")
	assert.Len(t, all, m.Len())

	discovery := mappingEntries(m, "technique/t1082")
	ids := make([]string, 0, len(discovery))
	for _, e := range discovery {
		assert.Equal(t, "T1082", e.TechniqueID)
		ids = append(ids, e.RuleID)
	}
	assert.Equal(t, []string{"502", "503", "510", "19005", "19007", "19008", "19009"}, ids)

	assert.Empty(t, mappingEntries(m, "not-a-technique"))
}

func TestRulesListJSON(t *testing.T) {
	buf := captureOutput(t)
	t.Cleanup(func() { rulesTechnique = "" })

	require.NoError(t, runRoot(t, "rules", "list", "--technique", "T1059", "--output", "json"))

	var entries []ruleEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entries))
	assert.Equal(t, []ruleEntry{{RuleID: "592", TechniqueID: "T1059"}, {RuleID: "594", TechniqueID: "T1059"}}, entries)
}

func TestCorrelateAgainstService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/correlate", r.URL.Path)
		var req models.CorrelateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "op-42", req.OperationID)

		steps, detected := 2, 1
		json.NewEncoder(w).Encode(models.CoverageReport{
			Success:       true,
			OperationID:   "op-42",
			OperationName: "Discovery run",
			Tier:          "primary",
			AttackSteps:   &steps,
			DetectedSteps: &detected,
			Correlation: models.CorrelationSummary{
				DetectionRate:            50,
				DetectionRateBasis:       models.TierStep,
				TotalTechniques:          2,
				DetectedTechniques:       1,
				AllOperationTechniques:   []string{"T1082", "T1083"},
				MatchedTechniques:        []string{"T1082"},
				UndetectedTechniques:     1,
				UndetectedTechniquesList: []string{"T1083"},
			},
		})
	}))
	defer server.Close()
	t.Setenv("COVCTL_SERVER_URL", server.URL)

	buf := captureOutput(t)
	require.NoError(t, runRoot(t, "correlate", "op-42", "--output", "table"))

	out := buf.String()
	assert.Contains(t, out, "Discovery run")
	assert.Contains(t, out, "1/2 detected")
	assert.Contains(t, out, "T1082")
	assert.Contains(t, out, "Undetected: T1083")
}

func TestProfileSetAndList(t *testing.T) {
	buf := captureOutput(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	t.Cleanup(func() { profileServer, profileToken, profileIndex = config.DefaultServerURL, "", "" })

	rootCmd.SetArgs([]string{"profile", "set", "lab", "--server", "http://lab:8090", "--token", "t0k", "--config", cfgPath})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "Profile 'lab' saved")

	saved, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "lab", saved.CurrentProfile)
	assert.Equal(t, "http://lab:8090", saved.Profiles["lab"].ServerURL)
	assert.Equal(t, "t0k", saved.Profiles["lab"].Token)

	buf.Reset()
	rootCmd.SetArgs([]string{"profile", "list", "--config", cfgPath})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "http://lab:8090")
}
