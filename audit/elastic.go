// audit/elastic.go
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const auditIndex = "aegis-audit"

// Indexer mirrors entries into a search backend so operators can slice the
// log in Kibana. It is strictly a secondary sink: verification and queries
// run against the primary Repository.
type Indexer interface {
	Index(ctx context.Context, entry Entry) error
	DeleteBefore(ctx context.Context, cutoff time.Time) error
}

type ElasticsearchIndexer struct {
	esClient *elasticsearch.Client
}

// NewElasticsearchIndexer creates a new indexer with a given Elasticsearch client URL.
func NewElasticsearchIndexer(esURL string) (*ElasticsearchIndexer, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esURL},
	}
	esClient, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ElasticsearchIndexer{esClient: esClient}, nil
}

// Index writes one audit entry document.
func (ix *ElasticsearchIndexer) Index(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      auditIndex,
		DocumentID: entry.ID,
		Body:       strings.NewReader(string(data)),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, ix.esClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing document: %s", res.String())
	}

	return nil
}

// DeleteBefore removes indexed documents older than the retention cutoff.
func (ix *ElasticsearchIndexer) DeleteBefore(ctx context.Context, cutoff time.Time) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"range": map[string]interface{}{
				"timestamp": map[string]interface{}{
					"lt": cutoff.Format(time.RFC3339),
				},
			},
		},
	}

	var buf strings.Builder
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return err
	}

	res, err := ix.esClient.DeleteByQuery(
		[]string{auditIndex},
		strings.NewReader(buf.String()),
		ix.esClient.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error deleting documents: %s", res.String())
	}

	return nil
}
