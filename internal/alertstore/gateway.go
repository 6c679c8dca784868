// Package alertstore provides access to the indexed SIEM alerts that
// correlation searches run against.
package alertstore

import (
	"context"
	"fmt"
	"time"

	"github.com/telhawk-systems/telhawk-coverage/internal/query"
)

// Hit is one raw document returned by the alert store.
type Hit struct {
	ID     string
	Index  string
	Source map[string]interface{}
}

// Gateway executes searches against an alert index.
type Gateway interface {
	// Search runs a structured query and returns the matching documents.
	Search(ctx context.Context, index string, q query.Query) ([]Hit, error)
	// FetchRange returns up to size documents within [start, end] without
	// any technique filter.
	FetchRange(ctx context.Context, index string, start, end time.Time, size int) ([]Hit, error)
}

// Pinger reports whether the backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClusterHealth reports the backend's own health status (green, yellow, red).
type ClusterHealth interface {
	ClusterStatus(ctx context.Context) (string, error)
}

// BackendError is returned when the alert store rejects a request or cannot
// be reached. StatusCode is zero for transport failures.
type BackendError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("alert store %s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("alert store %s failed: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
