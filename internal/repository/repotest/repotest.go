// Package repotest holds behaviour checks shared by every AlertRepository
// backend.
package repotest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura-gateway/internal/models"
	"aura-gateway/internal/repository"
)

// NewAlert returns a valid PENDING alert created at the given unix second.
func NewAlert(id, endpointID string, createdAt int64) *models.Alert {
	ts := time.Unix(createdAt, 0).UTC()
	return &models.Alert{
		AlertID:             id,
		EndpointID:          endpointID,
		UserID:              "sara.smith",
		CreationTimestamp:   ts,
		MLScore:             0.91,
		CognitiveAnalysis:   "decoy spreadsheet opened outside business hours",
		AuraConfidenceScore: 0.87,
		Status:              models.AlertStatusPending,
		ReceivedAt:          ts.Add(time.Second),
		UpdatedAt:           ts.Add(time.Second),
	}
}

// Run exercises newRepo against the AlertRepository contract. newRepo must
// return an empty repository on every call.
func Run(t *testing.T, newRepo func(t *testing.T) repository.AlertRepository) {
	t.Run("CreateAndGet", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		in := NewAlert("a1", "HR-LAPTOP-14", 1735689600)
		require.NoError(t, repo.Create(ctx, in))

		got, err := repo.Get(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, in.AlertID, got.AlertID)
		assert.Equal(t, in.EndpointID, got.EndpointID)
		assert.Equal(t, in.UserID, got.UserID)
		assert.True(t, in.CreationTimestamp.Equal(got.CreationTimestamp))
		assert.InDelta(t, in.MLScore, got.MLScore, 1e-9)
		assert.InDelta(t, in.AuraConfidenceScore, got.AuraConfidenceScore, 1e-9)
		assert.Equal(t, in.CognitiveAnalysis, got.CognitiveAnalysis)
		assert.Equal(t, models.AlertStatusPending, got.Status)
	})

	t.Run("DuplicateRejected", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		require.NoError(t, repo.Create(ctx, NewAlert("dup", "ep", 100)))
		require.NoError(t, mustTransition(repo, "dup", models.AlertStatusMitigated))

		second := NewAlert("dup", "other-ep", 200)
		err := repo.Create(ctx, second)
		assert.ErrorIs(t, err, models.ErrDuplicateAlert)

		// the operator-mutated record survives
		got, err := repo.Get(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, models.AlertStatusMitigated, got.Status)
		assert.Equal(t, "ep", got.EndpointID)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := newRepo(t).Get(context.Background(), "missing")
		assert.ErrorIs(t, err, models.ErrAlertNotFound)
	})

	t.Run("TransitionRules", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewAlert("t1", "ep", 100)))

		updated, err := repo.Transition(ctx, "t1", models.AlertStatusConfirmedRisk)
		require.NoError(t, err)
		assert.Equal(t, models.AlertStatusConfirmedRisk, updated.Status)

		for _, to := range []models.AlertStatus{models.AlertStatusPending, models.AlertStatusMitigated, models.AlertStatusConfirmedRisk} {
			_, err = repo.Transition(ctx, "t1", to)
			assert.ErrorIs(t, err, models.ErrInvalidTransition, string(to))
		}

		_, err = repo.Transition(ctx, "missing", models.AlertStatusMitigated)
		assert.ErrorIs(t, err, models.ErrAlertNotFound)

		require.NoError(t, repo.Create(ctx, NewAlert("t2", "ep", 100)))
		_, err = repo.Transition(ctx, "t2", models.AlertStatusPending)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("ConcurrentCreateSameID", func(t *testing.T) {
		repo := newRepo(t)
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := repo.Create(context.Background(), NewAlert("race", fmt.Sprintf("ep-%d", i), 100)); err == nil {
					wins.Add(1)
				} else {
					assert.ErrorIs(t, err, models.ErrDuplicateAlert)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("ConcurrentCreateDistinctIDs", func(t *testing.T) {
		repo := newRepo(t)
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, repo.Create(context.Background(), NewAlert(fmt.Sprintf("d-%d", i), "ep", int64(100+i))))
			}(i)
		}
		wg.Wait()

		all, err := repo.List(context.Background(), repository.ListFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 32)
	})

	t.Run("ConcurrentTransitionIsAtomic", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(context.Background(), NewAlert("cas", "ep", 100)))

		var wins atomic.Int32
		var winner atomic.Value
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			to := models.AlertStatusMitigated
			if i%2 == 1 {
				to = models.AlertStatusConfirmedRisk
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.Transition(context.Background(), "cas", to); err == nil {
					wins.Add(1)
					winner.Store(to)
				} else {
					assert.ErrorIs(t, err, models.ErrInvalidTransition)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, int32(1), wins.Load())
		got, err := repo.Get(context.Background(), "cas")
		require.NoError(t, err)
		assert.Equal(t, winner.Load(), got.Status)
	})

	t.Run("ListFiltersAndOrders", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewAlert("old", "ep-a", 100)))
		require.NoError(t, repo.Create(ctx, NewAlert("mid", "ep-b", 200)))
		require.NoError(t, repo.Create(ctx, NewAlert("new", "ep-a", 300)))
		require.NoError(t, mustTransition(repo, "mid", models.AlertStatusMitigated))

		all, err := repo.List(ctx, repository.ListFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"new", "mid", "old"}, ids(all))

		pending, err := repo.List(ctx, repository.ListFilter{Status: models.AlertStatusPending})
		require.NoError(t, err)
		assert.Equal(t, []string{"new", "old"}, ids(pending))

		byEndpoint, err := repo.List(ctx, repository.ListFilter{EndpointID: "ep-b"})
		require.NoError(t, err)
		assert.Equal(t, []string{"mid"}, ids(byEndpoint))

		limited, err := repo.List(ctx, repository.ListFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"new", "mid"}, ids(limited))

		none, err := repo.List(ctx, repository.ListFilter{Status: models.AlertStatusConfirmedRisk})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ReturnedAlertsAreCopies", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewAlert("copy", "ep", 100)))

		got, err := repo.Get(ctx, "copy")
		require.NoError(t, err)
		got.Status = models.AlertStatusMitigated

		again, err := repo.Get(ctx, "copy")
		require.NoError(t, err)
		assert.Equal(t, models.AlertStatusPending, again.Status)
	})
}

func mustTransition(repo repository.AlertRepository, id string, to models.AlertStatus) error {
	_, err := repo.Transition(context.Background(), id, to)
	return err
}

func ids(alerts []*models.Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.AlertID
	}
	return out
}
