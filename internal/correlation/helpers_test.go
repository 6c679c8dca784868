package correlation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/telhawk-systems/telhawk-coverage/internal/alertstore"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
	"github.com/telhawk-systems/telhawk-coverage/internal/query"
	"github.com/telhawk-systems/telhawk-coverage/internal/rulemap"
)

var errBackendDown = &alertstore.BackendError{Op: "search", Err: errors.New("connection refused")}

type fetchCall struct {
	start, end time.Time
	size       int
}

// fakeGateway is an in-memory alert store.
type fakeGateway struct {
	mu       sync.Mutex
	search   func(ctx context.Context, q query.Query) ([]alertstore.Hit, error)
	fetch    func(ctx context.Context, start, end time.Time, size int) ([]alertstore.Hit, error)
	searches int
	indexes  []string
	fetches  []fetchCall
}

func (f *fakeGateway) Search(ctx context.Context, index string, q query.Query) ([]alertstore.Hit, error) {
	f.mu.Lock()
	f.searches++
	f.indexes = append(f.indexes, index)
	fn := f.search
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, q)
}

func (f *fakeGateway) FetchRange(ctx context.Context, index string, start, end time.Time, size int) ([]alertstore.Hit, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, fetchCall{start: start, end: end, size: size})
	fn := f.fetch
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, start, end, size)
}

func (f *fakeGateway) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches
}

func returning(hits ...alertstore.Hit) func(context.Context, query.Query) ([]alertstore.Hit, error) {
	return func(context.Context, query.Query) ([]alertstore.Hit, error) {
		return hits, nil
	}
}

func failing(context.Context, query.Query) ([]alertstore.Hit, error) {
	return nil, errBackendDown
}

func hit(id string, source map[string]interface{}) alertstore.Hit {
	return alertstore.Hit{ID: id, Index: "wazuh-alerts-4.x-2024.01.01", Source: source}
}

// auditAlert builds a Wazuh auditd alert for technique at ts.
func auditAlert(technique, ts, pid, ppid string) map[string]interface{} {
	src := map[string]interface{}{
		"@timestamp": ts,
		"rule": map[string]interface{}{
			"id":    "80792",
			"level": float64(3),
			"mitre": map[string]interface{}{"id": []interface{}{technique}},
		},
		"agent": map[string]interface{}{"id": "001", "name": "Web-01"},
	}
	if pid != "" || ppid != "" {
		src["data"] = map[string]interface{}{
			"audit": map[string]interface{}{"pid": pid, "ppid": ppid},
		}
	}
	return src
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(gw alertstore.Gateway, cfg Config) *Engine {
	e := NewEngine(gw, query.NewBuilder(query.Fields{}, 0), rulemap.Default(), cfg, testLogger())
	e.now = func() time.Time { return t0.Add(time.Hour) }
	return e
}

func operation(steps ...models.ExecutionStep) *models.Operation {
	return &models.Operation{
		ID:    "op-1",
		Name:  "discovery",
		Start: t0.Add(-10 * time.Minute),
		End:   t0.Add(30 * time.Minute),
		Chain: steps,
	}
}
