package seeder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"
)

// IndexResult summarizes a bulk run.
type IndexResult struct {
	Indexed int      `json:"indexed"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Indexer writes documents through the bulk API.
type Indexer struct {
	client *opensearch.Client
}

// NewIndexer creates an indexer that writes through client.
func NewIndexer(client *opensearch.Client) *Indexer {
	return &Indexer{client: client}
}

// Index bulk-indexes docs and refreshes the touched indices so the alerts are
// immediately searchable.
func (i *Indexer) Index(ctx context.Context, docs []Document) (IndexResult, error) {
	var (
		mu  sync.Mutex
		res IndexResult
	)

	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:     i.client,
		NumWorkers: 1,
		Refresh:    "true",
	})
	if err != nil {
		return res, fmt.Errorf("create bulk indexer: %w", err)
	}

	for _, doc := range docs {
		data, err := json.Marshal(doc.Source)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("marshal %s: %v", doc.ID, err))
			continue
		}

		err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Action:     "index",
			Index:      doc.Index,
			DocumentID: doc.ID,
			Body:       bytes.NewReader(data),
			OnSuccess: func(context.Context, opensearchutil.BulkIndexerItem, opensearchutil.BulkIndexerResponseItem) {
				mu.Lock()
				res.Indexed++
				mu.Unlock()
			},
			OnFailure: func(_ context.Context, item opensearchutil.BulkIndexerItem, resp opensearchutil.BulkIndexerResponseItem, err error) {
				mu.Lock()
				defer mu.Unlock()
				res.Failed++
				if err != nil {
					res.Errors = append(res.Errors, err.Error())
				} else {
					res.Errors = append(res.Errors, fmt.Sprintf("%s: %s: %s", item.DocumentID, resp.Error.Type, resp.Error.Reason))
				}
			},
		})
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("add %s: %v", doc.ID, err))
		}
	}

	if err := bi.Close(ctx); err != nil {
		return res, fmt.Errorf("flush bulk indexer: %w", err)
	}
	return res, nil
}
