package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/telhawk-systems/telhawk-coverage/internal/models"
)

// ErrOperationNotFound is returned when a source has no record of an operation.
var ErrOperationNotFound = errors.New("operation not found")

// Source loads an operation and its execution chain by id.
type Source interface {
	ExecutionChain(ctx context.Context, operationID string) (*models.Operation, error)
}

// Sources tries each source in order and returns the first operation found.
type Sources []Source

// ExecutionChain implements Source.
func (s Sources) ExecutionChain(ctx context.Context, operationID string) (*models.Operation, error) {
	var errs []error
	for _, src := range s {
		op, err := src.ExecutionChain(ctx, operationID)
		if err == nil {
			return op, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrOperationNotFound
	}
	return nil, errors.Join(errs...)
}

// CalderaSource reads operations from the Caldera REST API.
type CalderaSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCalderaSource creates a Caldera API client.
func NewCalderaSource(baseURL, apiKey string) *CalderaSource {
	return &CalderaSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ExecutionChain fetches /api/v2/operations/{id}. A missing start or end is
// taken from the chain's first and last link.
func (c *CalderaSource) ExecutionChain(ctx context.Context, operationID string) (*models.Operation, error) {
	endpoint := fmt.Sprintf("%s/api/v2/operations/%s", c.baseURL, url.PathEscape(operationID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("KEY", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch operation: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("caldera operation %s: %w", operationID, ErrOperationNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	op := FillSpan(OperationFromPayload(payload))
	if op.ID == "" {
		op.ID = operationID
	}
	return op, nil
}
