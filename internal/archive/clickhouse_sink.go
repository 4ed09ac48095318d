package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"aura-gateway/internal/bucketing"
	"aura-gateway/internal/models"
)

// Inserter is the subset of client.ClickHouseClient the sink needs.
type Inserter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ClickHouseSink appends one row per event to a MergeTree table partitioned
// by day and ordered by endpoint bucket.
type ClickHouseSink struct {
	db      Inserter
	table   string
	buckets *bucketing.BucketingManager
	now     func() time.Time
}

func NewClickHouseSink(db Inserter, table string, buckets *bucketing.BucketingManager) (*ClickHouseSink, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}
	return &ClickHouseSink{
		db:      db,
		table:   table,
		buckets: buckets,
		now:     time.Now,
	}, nil
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// EnsureTable creates the archive table if it does not exist.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	event_id        String,
	endpoint_id     String,
	endpoint_bucket UInt16,
	user_id         String,
	event_type      LowCardinality(String),
	occurred_at     DateTime,
	received_at     DateTime64(3),
	context_data    String
) ENGINE = MergeTree
PARTITION BY toYYYYMMDD(occurred_at)
ORDER BY (endpoint_bucket, endpoint_id, occurred_at)`, s.table)
	if err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func (s *ClickHouseSink) Archive(ctx context.Context, event models.TelemetryEvent) error {
	contextJSON, err := json.Marshal(event.ContextData)
	if err != nil {
		return fmt.Errorf("encode contextData: %w", err)
	}

	row := []interface{}{
		event.EventID,
		event.EndpointID,
		uint16(s.buckets.GetEndpointBucket(event.EndpointID)),
		event.UserID,
		event.EventType,
		event.OccurredAt(),
		s.now().UTC(),
		string(contextJSON),
	}
	query := fmt.Sprintf("INSERT INTO %s (event_id, endpoint_id, endpoint_bucket, user_id, event_type, occurred_at, received_at, context_data)", s.table)
	return s.db.BatchInsert(ctx, query, [][]interface{}{row})
}
