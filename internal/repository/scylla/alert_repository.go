package scylla

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"aura-gateway/internal/models"
	"aura-gateway/internal/repository"
)

const (
	alertColumns = `alert_id, endpoint_id, user_id, creation_ts, ml_score,
        cognitive_analysis, aura_confidence_score, status, received_at, updated_at`

	insertAlert = `INSERT INTO alerts (` + alertColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`

	selectAlert = `SELECT ` + alertColumns + ` FROM alerts WHERE alert_id = ?`

	scanAlerts = `SELECT ` + alertColumns + ` FROM alerts`

	transitionAlert = `UPDATE alerts SET status = ?, updated_at = ?
        WHERE alert_id = ? IF status = ?`
)

// AlertRepository persists alerts with lightweight transactions: inserts use
// IF NOT EXISTS and transitions compare-and-set on status.
type AlertRepository struct {
	client *ScyllaClient
	logger *zap.Logger
	now    func() time.Time
}

var _ repository.AlertRepository = (*AlertRepository)(nil)

func NewAlertRepository(client *ScyllaClient, logger *zap.Logger) *AlertRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertRepository{
		client: client,
		logger: logger.Named("alert_repository"),
		now:    time.Now,
	}
}

func (r *AlertRepository) Create(ctx context.Context, alert *models.Alert) error {
	existing := make(map[string]interface{})
	applied, err := r.client.Query(insertAlert,
		alert.AlertID,
		alert.EndpointID,
		alert.UserID,
		alert.CreationTimestamp,
		alert.MLScore,
		alert.CognitiveAnalysis,
		alert.AuraConfidenceScore,
		string(alert.Status),
		alert.ReceivedAt,
		alert.UpdatedAt,
	).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		r.logger.Error("Failed to insert alert", zap.String("alert_id", alert.AlertID), zap.Error(err))
		return models.StoreError("create alert", err)
	}
	if !applied {
		return fmt.Errorf("%w: %s", models.ErrDuplicateAlert, alert.AlertID)
	}
	return nil
}

func (r *AlertRepository) Get(ctx context.Context, alertID string) (*models.Alert, error) {
	var a models.Alert
	var status string
	err := r.client.Query(selectAlert, alertID).WithContext(ctx).Scan(
		&a.AlertID, &a.EndpointID, &a.UserID, &a.CreationTimestamp, &a.MLScore,
		&a.CognitiveAnalysis, &a.AuraConfidenceScore, &status, &a.ReceivedAt, &a.UpdatedAt,
	)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrAlertNotFound, alertID)
	}
	if err != nil {
		return nil, models.StoreError("get alert", err)
	}
	a.Status = models.AlertStatus(status)
	normalizeTimes(&a)
	return &a, nil
}

// List pages through the table and filters client side. The alerts table is
// keyed by id only, so there is no server-side order to lean on.
func (r *AlertRepository) List(ctx context.Context, filter repository.ListFilter) ([]*models.Alert, error) {
	filter = filter.Normalize()

	iter := r.client.Query(scanAlerts).WithContext(ctx).Iter()
	var out []*models.Alert
	for {
		var a models.Alert
		var status string
		if !iter.Scan(
			&a.AlertID, &a.EndpointID, &a.UserID, &a.CreationTimestamp, &a.MLScore,
			&a.CognitiveAnalysis, &a.AuraConfidenceScore, &status, &a.ReceivedAt, &a.UpdatedAt,
		) {
			break
		}
		a.Status = models.AlertStatus(status)
		normalizeTimes(&a)
		if filter.Matches(&a) {
			out = append(out, &a)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, models.StoreError("list alerts", err)
	}

	slices.SortFunc(out, repository.NewerFirst)
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *AlertRepository) Transition(ctx context.Context, alertID string, to models.AlertStatus) (*models.Alert, error) {
	if !models.AlertStatusPending.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: cannot move to %s", models.ErrInvalidTransition, to)
	}

	previous := make(map[string]interface{})
	applied, err := r.client.Query(transitionAlert,
		string(to), r.now().UTC(), alertID, string(models.AlertStatusPending),
	).WithContext(ctx).MapScanCAS(previous)
	if err != nil {
		return nil, models.StoreError("transition alert", err)
	}
	if !applied {
		// a missing row reports no previous status
		current, _ := previous["status"].(string)
		if current == "" {
			return nil, fmt.Errorf("%w: %s", models.ErrAlertNotFound, alertID)
		}
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current, to)
	}
	return r.Get(ctx, alertID)
}

func (r *AlertRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

// Scylla timestamps have millisecond precision and come back in local time.
func normalizeTimes(a *models.Alert) {
	a.CreationTimestamp = a.CreationTimestamp.UTC()
	a.ReceivedAt = a.ReceivedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
}
