package archive

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura-gateway/internal/bucketing"
	"aura-gateway/internal/models"
)

func testEvent() models.TelemetryEvent {
	return models.TelemetryEvent{
		EventID:    "evt-1",
		EndpointID: "HR-LAPTOP-14",
		UserID:     "sara.smith",
		EventType:  models.EventTypeDecoyAccess,
		Timestamp:  1735689600,
		ContextData: models.ContextData{
			"filePath": models.StringValue(`C:\decoy\passwords.xlsx`),
		},
	}
}

type stubSink struct {
	name string
	err  error

	mu    sync.Mutex
	calls int
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Archive(context.Context, models.TelemetryEvent) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.err
}

func TestFanOut_WritesEverySinkAndJoinsErrors(t *testing.T) {
	good := &stubSink{name: "log"}
	badA := &stubSink{name: "kafka", err: errors.New("broker down")}
	badB := &stubSink{name: "clickhouse", err: errors.New("table missing")}

	f := NewFanOut(good, badA, badB)
	assert.Equal(t, []string{"log", "kafka", "clickhouse"}, f.Names())

	err := f.Archive(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka: broker down")
	assert.Contains(t, err.Error(), "clickhouse: table missing")
	assert.ErrorIs(t, err, badA.err)

	for _, s := range []*stubSink{good, badA, badB} {
		assert.Equal(t, 1, s.calls, s.name)
	}
}

func TestFanOut_EmptyIsNoop(t *testing.T) {
	assert.NoError(t, NewFanOut().Archive(context.Background(), testEvent()))
}

type recordingProducer struct {
	key     []byte
	value   []byte
	headers map[string]string
}

func (p *recordingProducer) ProduceMessage(_ context.Context, key, value []byte, headers map[string]string) error {
	p.key, p.value, p.headers = key, value, headers
	return nil
}

func TestKafkaSink_KeysByEndpoint(t *testing.T) {
	p := &recordingProducer{}
	ev := testEvent()
	require.NoError(t, NewKafkaSink(p).Archive(context.Background(), ev))

	assert.Equal(t, "HR-LAPTOP-14", string(p.key))
	assert.Equal(t, "evt-1", p.headers["eventId"])
	assert.Equal(t, "DECOY_ACCESS", p.headers["eventType"])

	var decoded models.TelemetryEvent
	require.NoError(t, json.Unmarshal(p.value, &decoded))
	assert.Equal(t, ev.EventID, decoded.EventID)
	path, _ := decoded.ContextData.String("filePath")
	assert.Equal(t, `C:\decoy\passwords.xlsx`, path)
}

type recordingInserter struct {
	execs   []string
	queries []string
	rows    [][]interface{}
}

func (r *recordingInserter) Exec(_ context.Context, query string, _ ...interface{}) error {
	r.execs = append(r.execs, query)
	return nil
}

func (r *recordingInserter) BatchInsert(_ context.Context, query string, data [][]interface{}) error {
	r.queries = append(r.queries, query)
	r.rows = append(r.rows, data...)
	return nil
}

func TestClickHouseSink_Archive(t *testing.T) {
	db := &recordingInserter{}
	buckets := bucketing.NewBucketingManager(64)
	sink, err := NewClickHouseSink(db, "aura.telemetry_raw", buckets)
	require.NoError(t, err)
	fixed := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return fixed }

	require.NoError(t, sink.EnsureTable(context.Background()))
	require.Len(t, db.execs, 1)
	assert.True(t, strings.HasPrefix(db.execs[0], "CREATE TABLE IF NOT EXISTS aura.telemetry_raw"))

	require.NoError(t, sink.Archive(context.Background(), testEvent()))
	require.Len(t, db.rows, 1)
	row := db.rows[0]
	assert.Equal(t, "evt-1", row[0])
	assert.Equal(t, uint16(buckets.GetEndpointBucket("HR-LAPTOP-14")), row[2])
	assert.Equal(t, time.Unix(1735689600, 0).UTC(), row[5])
	assert.Equal(t, fixed, row[6])
	assert.JSONEq(t, `{"filePath":"C:\\decoy\\passwords.xlsx"}`, row[7].(string))
	assert.Contains(t, db.queries[0], "INSERT INTO aura.telemetry_raw")
}

func TestNewClickHouseSink_RejectsUnsafeTableName(t *testing.T) {
	_, err := NewClickHouseSink(&recordingInserter{}, "telemetry; DROP TABLE x", bucketing.NewBucketingManager(1))
	assert.Error(t, err)
}

func TestLogSink_NeverFails(t *testing.T) {
	assert.NoError(t, NewLogSink(nil).Archive(context.Background(), testEvent()))
}
