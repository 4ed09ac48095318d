package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"aura-gateway/internal/models"
)

const alertMapping = `{
  "mappings": {
    "properties": {
      "alertId":             {"type": "keyword"},
      "endpointId":          {"type": "keyword"},
      "userId":              {"type": "keyword"},
      "creationTimestamp":   {"type": "date"},
      "mlScore":             {"type": "double"},
      "cognitiveAnalysis":   {"type": "text"},
      "auraConfidenceScore": {"type": "double"},
      "status":              {"type": "keyword"},
      "receivedAt":          {"type": "date"},
      "updatedAt":           {"type": "date"}
    }
  }
}`

// DocumentStore is the subset of client.ESClient the indexer needs.
type DocumentStore interface {
	EnsureIndex(ctx context.Context, index, mapping string) error
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

// AlertIndexer mirrors alerts into Elasticsearch for dashboard search. The
// alert store stays authoritative; the index may lag or miss documents.
type AlertIndexer struct {
	store  DocumentStore
	index  string
	logger *zap.Logger
}

func NewAlertIndexer(store DocumentStore, index string, logger *zap.Logger) *AlertIndexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertIndexer{store: store, index: index, logger: logger.Named("search")}
}

func (i *AlertIndexer) EnsureIndex(ctx context.Context) error {
	if err := i.store.EnsureIndex(ctx, i.index, alertMapping); err != nil {
		return fmt.Errorf("ensure index %s: %w", i.index, err)
	}
	return nil
}

// IndexAlert upserts the alert document under its alertId.
func (i *AlertIndexer) IndexAlert(ctx context.Context, alert *models.Alert) error {
	if err := i.store.IndexDocument(ctx, i.index, alert.AlertID, alert); err != nil {
		return fmt.Errorf("index alert %s: %w", alert.AlertID, err)
	}
	return nil
}
