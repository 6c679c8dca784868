// Package client talks to the coverage service HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/telhawk-systems/telhawk-coverage/internal/models"
)

// ErrUnauthorized is returned when the service rejects the bearer token.
var ErrUnauthorized = errors.New("unauthorized: run 'covctl profile set' with a valid token")

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("coverage service returned %d", e.Status)
	}
	return fmt.Sprintf("coverage service returned %d: %s", e.Status, e.Message)
}

type CoverageClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewCoverageClient(baseURL, token string) *CoverageClient {
	return &CoverageClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *CoverageClient) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.client.Do(req)
}

func (c *CoverageClient) call(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &errResp) != nil || errResp.Error == "" {
			errResp.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Correlate runs a correlation on the service.
func (c *CoverageClient) Correlate(ctx context.Context, req models.CorrelateRequest) (*models.CoverageReport, error) {
	var report models.CoverageReport
	if err := c.call(ctx, http.MethodPost, "/api/correlate", req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// DashboardSummary fetches the dashboard KPIs for an operation.
func (c *CoverageClient) DashboardSummary(ctx context.Context, req models.CorrelateRequest) (*models.DashboardSummary, error) {
	var summary models.DashboardSummary
	if err := c.call(ctx, http.MethodPost, "/api/dashboard/summary", req, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Health reports the service and indexer status.
func (c *CoverageClient) Health(ctx context.Context) (*models.HealthStatus, error) {
	var status models.HealthStatus
	if err := c.call(ctx, http.MethodGet, "/api/health", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
