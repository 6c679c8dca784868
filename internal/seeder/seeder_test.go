package seeder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-coverage/internal/alertstore"
	"github.com/telhawk-systems/telhawk-coverage/internal/extractor"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
	"github.com/telhawk-systems/telhawk-coverage/internal/rulemap"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func testOperation() *models.Operation {
	return &models.Operation{
		ID: "op-seed",
		Chain: []models.ExecutionStep{
			{LinkID: "l1", TechniqueID: "T1059.004", Timestamp: t0, ProcessID: "4242", Paw: "abc"},
			{LinkID: "l2", TechniqueID: "T1082", Timestamp: t0.Add(time.Minute), Paw: "abc"},
			{LinkID: "l3", TechniqueID: "T1003.001", Timestamp: t0.Add(2 * time.Minute), ProcessID: "777", Paw: "def"},
			{LinkID: "l4", AbilityName: "no technique", Timestamp: t0},
		},
	}
}

func TestGenerateMatchesSteps(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			g := NewGenerator(Options{DetectRatio: 1, Seed: seed}, rulemap.Default())
			op := testOperation()
			docs := g.Generate(op)
			require.Len(t, docs, 3)

			for i, doc := range docs {
				step := op.Chain[i]
				record := extractor.ExtractHit(doc.ID, doc.Index, doc.Source)

				assert.Equal(t, []string{step.TechniqueID}, record.TechniqueIDs)
				assert.WithinDuration(t, step.Timestamp, record.Timestamp, time.Minute)
				assert.True(t, strings.HasPrefix(doc.Index, DefaultIndexPrefix))
				assert.NotEmpty(t, record.AgentName)
				if step.ProcessID != "" {
					assert.True(t, record.PID == step.ProcessID || record.PPID == step.ProcessID,
						"pid %q ppid %q step %q", record.PID, record.PPID, step.ProcessID)
				}
			}
		})
	}
}

func TestGenerateDetectRatioAndNoise(t *testing.T) {
	op := testOperation()

	none := NewGenerator(Options{DetectRatio: 0, Seed: 7}, rulemap.Default()).Generate(op)
	assert.Empty(t, none)

	noisy := NewGenerator(Options{DetectRatio: 0, NoisePerStep: 2, Seed: 7}, rulemap.Default()).Generate(op)
	require.Len(t, noisy, 6)
	declared := op.Techniques()
	for _, doc := range noisy {
		record := extractor.Extract(doc.Source)
		require.Len(t, record.TechniqueIDs, 1)
		assert.NotContains(t, declared, record.TechniqueIDs[0])
		assert.Empty(t, record.PID)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	a := NewGenerator(Options{DetectRatio: 1, Seed: 42}, rulemap.Default()).Generate(testOperation())
	b := NewGenerator(Options{DetectRatio: 1, Seed: 42}, rulemap.Default()).Generate(testOperation())
	assert.Equal(t, a, b)
}

func TestIndexerBulk(t *testing.T) {
	var actions []map[string]map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_bulk", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("refresh"))

		var items []string
		scanner := bufio.NewScanner(r.Body)
		scanner.Buffer(make([]byte, 1<<20), 1<<20)
		line := 0
		for scanner.Scan() {
			if line%2 == 0 {
				var action map[string]map[string]interface{}
				require.NoError(t, json.Unmarshal(scanner.Bytes(), &action))
				actions = append(actions, action)
				meta := action["index"]
				items = append(items, fmt.Sprintf(`{"index":{"_index":%q,"_id":%q,"status":201}}`, meta["_index"], meta["_id"]))
			}
			line++
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"took":1,"errors":false,"items":[%s]}`, strings.Join(items, ","))
	}))
	defer server.Close()

	client, err := alertstore.NewOpenSearchClient(alertstore.Config{URL: server.URL})
	require.NoError(t, err)

	docs := NewGenerator(Options{DetectRatio: 1, Seed: 3}, rulemap.Default()).Generate(testOperation())
	res, err := NewIndexer(client).Index(context.Background(), docs)
	require.NoError(t, err)

	assert.Equal(t, len(docs), res.Indexed)
	assert.Zero(t, res.Failed)
	require.Len(t, actions, len(docs))
	assert.Equal(t, docs[0].Index, actions[0]["index"]["_index"])
	assert.Equal(t, docs[0].ID, actions[0]["index"]["_id"])

}
