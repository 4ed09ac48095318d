package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aura-gateway/internal/models"
	"aura-gateway/internal/repository"
	"aura-gateway/internal/repository/memory"
)

func submission(t *testing.T, body string) *models.AlertSubmission {
	t.Helper()
	sub, err := models.DecodeAlertSubmission(strings.NewReader(body))
	require.NoError(t, err)
	return sub
}

const confirmedRiskAlert = `{"alertId":"a1","endpointId":"HR-LAPTOP-14","userId":"sara.smith",
	"creationTimestamp":1735689600,"mlScore":0.99,"cognitiveAnalysis":"decoy touched",
	"auraConfidenceScore":0.95,"status":"CONFIRMED_RISK"}`

type recordingIndexer struct {
	mu   sync.Mutex
	docs map[string]models.AlertStatus
	err  error
}

func (r *recordingIndexer) IndexAlert(_ context.Context, a *models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.docs == nil {
		r.docs = make(map[string]models.AlertStatus)
	}
	r.docs[a.AlertID] = a.Status
	return r.err
}

func (r *recordingIndexer) status(id string) models.AlertStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs[id]
}

func TestIngestAlert_StatusIsGatewayOwned(t *testing.T) {
	repo := memory.NewAlertRepository()
	svc := NewAlertService(repo, nil, time.Second, zap.NewNop())

	alert, err := svc.IngestAlert(context.Background(), submission(t, confirmedRiskAlert))
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusPending, alert.Status)

	stored, err := repo.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusPending, stored.Status)
	assert.Equal(t, 0.95, stored.AuraConfidenceScore)
}

func TestIngestAlert_DuplicateRejected(t *testing.T) {
	svc := NewAlertService(memory.NewAlertRepository(), nil, time.Second, nil)

	_, err := svc.IngestAlert(context.Background(), submission(t, confirmedRiskAlert))
	require.NoError(t, err)

	_, err = svc.IngestAlert(context.Background(), submission(t, confirmedRiskAlert))
	assert.ErrorIs(t, err, models.ErrDuplicateAlert)
}

func TestIngestAlert_OutOfRangeScoreRejected(t *testing.T) {
	repo := memory.NewAlertRepository()
	svc := NewAlertService(repo, nil, time.Second, nil)

	_, err := svc.IngestAlert(context.Background(), submission(t,
		`{"alertId":"a2","endpointId":"e","creationTimestamp":1,"mlScore":1.5,"auraConfidenceScore":0.5}`))
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = repo.Get(context.Background(), "a2")
	assert.ErrorIs(t, err, models.ErrAlertNotFound)
}

type failingRepo struct {
	repository.AlertRepository
	err error
}

func (f failingRepo) Create(context.Context, *models.Alert) error { return f.err }

func TestIngestAlert_StoreFailureIsStoreError(t *testing.T) {
	cause := errors.New("write timeout")
	svc := NewAlertService(failingRepo{err: cause}, nil, time.Second, nil)

	_, err := svc.IngestAlert(context.Background(), submission(t, confirmedRiskAlert))
	assert.ErrorIs(t, err, models.ErrStore)
	assert.ErrorIs(t, err, cause)
}

type slowRepo struct {
	repository.AlertRepository
}

func (slowRepo) Create(ctx context.Context, _ *models.Alert) error {
	<-ctx.Done()
	return models.StoreError("create alert", ctx.Err())
}

func TestIngestAlert_WriteTimeoutBounded(t *testing.T) {
	svc := NewAlertService(slowRepo{}, nil, 30*time.Millisecond, nil)

	start := time.Now()
	_, err := svc.IngestAlert(context.Background(), submission(t, confirmedRiskAlert))
	assert.ErrorIs(t, err, models.ErrStore)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIngestAlert_IndexesBestEffort(t *testing.T) {
	idx := &recordingIndexer{err: errors.New("es down")}
	svc := NewAlertService(memory.NewAlertRepository(), idx, time.Second, nil)

	_, err := svc.IngestAlert(context.Background(), submission(t, confirmedRiskAlert))
	require.NoError(t, err)

	svc.Cleanup()
	assert.Equal(t, models.AlertStatusPending, idx.status("a1"))
}

func TestTransitionAlert(t *testing.T) {
	idx := &recordingIndexer{}
	svc := NewAlertService(memory.NewAlertRepository(), idx, time.Second, nil)
	ctx := context.Background()

	_, err := svc.IngestAlert(ctx, submission(t, confirmedRiskAlert))
	require.NoError(t, err)
	svc.Cleanup()

	_, err = svc.TransitionAlert(ctx, "a1", "bogus")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.TransitionAlert(ctx, "a1", "PENDING")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	updated, err := svc.TransitionAlert(ctx, "a1", "mitigated")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusMitigated, updated.Status)

	_, err = svc.TransitionAlert(ctx, "a1", "CONFIRMED_RISK")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = svc.TransitionAlert(ctx, "missing", "MITIGATED")
	assert.ErrorIs(t, err, models.ErrAlertNotFound)

	svc.Cleanup()
	assert.Equal(t, models.AlertStatusMitigated, idx.status("a1"))
}

func TestServiceFactory_SingletonAlertService(t *testing.T) {
	f := NewServiceFactory(memory.NewAlertRepository(), nil, time.Second, zap.NewNop())
	assert.Same(t, f.AlertService(), f.AlertService())
	f.Cleanup()
}
