package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura-gateway/internal/models"
	"aura-gateway/internal/repository"
	"aura-gateway/internal/repository/repotest"
)

func newTestRepository(t *testing.T) (*AlertRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewAlertRepository(rdb, "aura:", nil), mr
}

func TestAlertRepository_Contract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repository.AlertRepository {
		repo, _ := newTestRepository(t)
		return repo
	})
}

func TestAlertRepository_KeyLayout(t *testing.T) {
	repo, mr := newTestRepository(t)
	require.NoError(t, repo.Create(context.Background(), repotest.NewAlert("a1", "ep", 1735689600)))

	assert.True(t, mr.Exists("aura:alert:a1"))
	assert.Equal(t, "PENDING", mr.HGet("aura:alert:a1", "status"))

	members, err := mr.ZMembers("aura:alerts:by_created")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, members)
}

func TestAlertRepository_BackendDownIsStoreError(t *testing.T) {
	repo, mr := newTestRepository(t)
	mr.Close()

	err := repo.Create(context.Background(), repotest.NewAlert("a1", "ep", 100))
	assert.ErrorIs(t, err, models.ErrStore)

	_, err = repo.Get(context.Background(), "a1")
	assert.ErrorIs(t, err, models.ErrStore)

	assert.Error(t, repo.HealthCheck(context.Background()))
}

func TestAlertRepository_TransitionReturnsWrittenHash(t *testing.T) {
	repo, mr := newTestRepository(t)
	stamp := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	repo.now = func() time.Time { return stamp }
	require.NoError(t, repo.Create(context.Background(), repotest.NewAlert("a1", "ep", 1735689600)))

	alert, err := repo.Transition(context.Background(), "a1", models.AlertStatusMitigated)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusMitigated, alert.Status)
	assert.Equal(t, stamp, alert.UpdatedAt)
	assert.Equal(t, "ep", alert.EndpointID)
	assert.Equal(t, string(models.AlertStatusMitigated), mr.HGet("aura:alert:a1", "status"))

	_, err = repo.Transition(context.Background(), "a1", models.AlertStatusConfirmedRisk)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = repo.Transition(context.Background(), "missing", models.AlertStatusMitigated)
	assert.ErrorIs(t, err, models.ErrAlertNotFound)
}

func TestHashFromReply(t *testing.T) {
	fields, err := hashFromReply([]interface{}{"status", "MITIGATED", "alertId", "a1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"status": "MITIGATED", "alertId": "a1"}, fields)

	_, err = hashFromReply([]interface{}{"status"})
	assert.Error(t, err)
	_, err = hashFromReply([]interface{}{"status", int64(1)})
	assert.Error(t, err)
}
