package alertstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/telhawk-systems/telhawk-coverage/internal/query"
)

// Config holds the connection settings of the alert store.
type Config struct {
	URL            string
	Username       string
	Password       string
	Insecure       bool
	RequestTimeout time.Duration
}

// OpenSearchGateway implements Gateway against the Wazuh indexer or any
// OpenSearch cluster.
type OpenSearchGateway struct {
	client  *opensearch.Client
	builder *query.Builder
}

// NewOpenSearchClient creates the low-level client. It does not contact the
// cluster; use Ping for that.
func NewOpenSearchClient(cfg Config) (*opensearch.Client, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Insecure,
		},
		ResponseHeaderTimeout: cfg.RequestTimeout,
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return client, nil
}

// NewOpenSearchGateway wraps a client. The builder supplies the range query
// used by FetchRange.
func NewOpenSearchGateway(client *opensearch.Client, builder *query.Builder) *OpenSearchGateway {
	return &OpenSearchGateway{client: client, builder: builder}
}

// Client exposes the underlying client for bulk indexing.
func (g *OpenSearchGateway) Client() *opensearch.Client {
	return g.client
}

// Ping checks that the cluster answers the info endpoint.
func (g *OpenSearchGateway) Ping(ctx context.Context) error {
	res, err := g.client.Info(g.client.Info.WithContext(ctx))
	if err != nil {
		return &BackendError{Op: "ping", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return &BackendError{Op: "ping", StatusCode: res.StatusCode, Body: readBody(res.Body)}
	}
	return nil
}

// ClusterStatus returns the cluster health color.
func (g *OpenSearchGateway) ClusterStatus(ctx context.Context) (string, error) {
	res, err := g.client.Cluster.Health(g.client.Cluster.Health.WithContext(ctx))
	if err != nil {
		return "", &BackendError{Op: "cluster_health", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return "", &BackendError{Op: "cluster_health", StatusCode: res.StatusCode, Body: readBody(res.Body)}
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return "", &BackendError{Op: "cluster_health", StatusCode: res.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if health.Status == "" {
		return "unknown", nil
	}
	return health.Status, nil
}

// Search runs q against index.
func (g *OpenSearchGateway) Search(ctx context.Context, index string, q query.Query) ([]Hit, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(q); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	res, err := g.client.Search(
		g.client.Search.WithContext(ctx),
		g.client.Search.WithIndex(index),
		g.client.Search.WithBody(&buf),
		g.client.Search.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return nil, &BackendError{Op: "search", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, &BackendError{Op: "search", StatusCode: res.StatusCode, Body: readBody(res.Body)}
	}

	var searchResult struct {
		Hits struct {
			Hits []struct {
				ID     string                 `json:"_id"`
				Index  string                 `json:"_index"`
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchResult); err != nil {
		return nil, &BackendError{Op: "search", StatusCode: res.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	hits := make([]Hit, 0, len(searchResult.Hits.Hits))
	for _, h := range searchResult.Hits.Hits {
		hits = append(hits, Hit{ID: h.ID, Index: h.Index, Source: h.Source})
	}
	return hits, nil
}

// FetchRange returns documents within [start, end] ordered by timestamp.
func (g *OpenSearchGateway) FetchRange(ctx context.Context, index string, start, end time.Time, size int) ([]Hit, error) {
	return g.Search(ctx, index, g.builder.RangeQuery(start, end, size))
}

// readBody returns at most 4KiB of an error body.
func readBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(data))
}
