package alertstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-coverage/internal/query"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *OpenSearchGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewOpenSearchClient(Config{URL: server.URL, Insecure: true})
	require.NoError(t, err)
	return NewOpenSearchGateway(client, query.NewBuilder(query.Fields{}, 0))
}

func TestSearchReturnsHits(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}

	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"took": 3,
			"hits": {
				"total": {"value": 2},
				"hits": [
					{"_id": "a1", "_index": "wazuh-alerts-4.x-2024.01.01", "_source": {"rule": {"id": "592"}}},
					{"_id": "a2", "_index": "wazuh-alerts-4.x-2024.01.01", "_source": {"rule.id": "594"}}
				]
			}
		}`))
	})

	hits, err := gw.Search(context.Background(), "wazuh-alerts-*", query.Query{"size": 10})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a1", hits[0].ID)
	assert.Equal(t, "wazuh-alerts-4.x-2024.01.01", hits[0].Index)
	assert.Equal(t, "594", hits[1].Source["rule.id"])
	assert.True(t, strings.HasSuffix(gotPath, "/_search"))
	assert.Equal(t, float64(10), gotBody["size"])
}

func TestSearchSurfacesBackendStatus(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"type": "parsing_exception"}}`))
	})

	hits, err := gw.Search(context.Background(), "wazuh-alerts-*", query.Query{})
	assert.Nil(t, hits)

	var backendErr *BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, http.StatusBadRequest, backendErr.StatusCode)
	assert.Contains(t, backendErr.Body, "parsing_exception")
	assert.Contains(t, err.Error(), "status 400")
}

func TestSearchConnectionFailure(t *testing.T) {
	client, err := NewOpenSearchClient(Config{URL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	gw := NewOpenSearchGateway(client, query.NewBuilder(query.Fields{}, 0))

	_, err = gw.Search(context.Background(), "wazuh-alerts-*", query.Query{})
	var backendErr *BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Zero(t, backendErr.StatusCode)
	assert.Error(t, backendErr.Unwrap())
}

func TestFetchRangeSendsRangeQuery(t *testing.T) {
	var gotBody map[string]interface{}
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hits": {"total": {"value": 0}, "hits": []}}`))
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hits, err := gw.FetchRange(context.Background(), "wazuh-alerts-*", start, start.Add(time.Hour), 2000)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, float64(2000), gotBody["size"])
	assert.Contains(t, gotBody, "sort")
}

func TestPing(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name": "test-node", "cluster_name": "wazuh-cluster", "version": {"number": "2.11.0", "distribution": "opensearch"}}`))
	})
	assert.NoError(t, gw.Ping(context.Background()))

	down := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	assert.Error(t, down.Ping(context.Background()))
}

func TestClusterStatus(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_cluster/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"cluster_name": "wazuh-cluster", "status": "yellow"}`))
	})
	status, err := gw.ClusterStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "yellow", status)

	down := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "unauthorized"}`))
	})
	_, err = down.ClusterStatus(context.Background())
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusUnauthorized, be.StatusCode)
}
