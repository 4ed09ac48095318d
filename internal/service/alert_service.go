package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"aura-gateway/internal/metrics"
	"aura-gateway/internal/models"
	"aura-gateway/internal/repository"
	"aura-gateway/internal/util"
)

const indexTimeout = 5 * time.Second

// AlertIndexer mirrors persisted alerts into a search index.
type AlertIndexer interface {
	IndexAlert(ctx context.Context, alert *models.Alert) error
}

// AlertService owns alert intake and the status lifecycle.
type AlertService struct {
	repo         repository.AlertRepository
	indexer      AlertIndexer
	writeTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time

	indexing sync.WaitGroup
}

// NewAlertService wires the service. indexer may be nil.
func NewAlertService(repo repository.AlertRepository, indexer AlertIndexer, writeTimeout time.Duration, logger *zap.Logger) *AlertService {
	if writeTimeout <= 0 {
		writeTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertService{
		repo:         repo,
		indexer:      indexer,
		writeTimeout: writeTimeout,
		logger:       logger.Named("alert_service"),
		now:          time.Now,
	}
}

// IngestAlert validates the submission and persists it as PENDING. It
// returns only once the store has acknowledged the write.
func (s *AlertService) IngestAlert(ctx context.Context, sub *models.AlertSubmission) (*models.Alert, error) {
	alert, err := sub.ToAlert(s.now())
	if err != nil {
		metrics.AlertIngested(metrics.AlertInvalid)
		return nil, err
	}

	if alert.Status != "" && alert.Status != models.AlertStatusPending {
		s.logger.Debug("Ignoring inbound alert status",
			zap.String("alert_id", util.SanitizeLogValue(alert.AlertID)),
			zap.String("status", util.SanitizeLogValue(string(alert.Status))),
		)
	}
	alert.Status = models.AlertStatusPending

	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	if err := s.repo.Create(writeCtx, alert); err != nil {
		switch {
		case errors.Is(err, models.ErrDuplicateAlert):
			metrics.AlertIngested(metrics.AlertDuplicate)
			s.logger.Warn("Duplicate alert rejected", zap.String("alert_id", util.SanitizeLogValue(alert.AlertID)))
			return nil, err
		case !errors.Is(err, models.ErrStore):
			err = models.StoreError("create alert", err)
		}
		metrics.AlertIngested(metrics.AlertStoreFail)
		s.logger.Error("Failed to persist alert",
			zap.String("alert_id", util.SanitizeLogValue(alert.AlertID)),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.AlertIngested(metrics.AlertCreated)
	s.logger.Info("Alert persisted",
		zap.String("alert_id", util.SanitizeLogValue(alert.AlertID)),
		zap.String("endpoint_id", util.SanitizeLogValue(alert.EndpointID)),
		zap.Float64("aura_confidence_score", alert.AuraConfidenceScore),
		zap.Float64("ml_score", alert.MLScore),
	)

	s.index(ctx, alert.Clone())
	return alert, nil
}

func (s *AlertService) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	return s.repo.Get(ctx, alertID)
}

func (s *AlertService) ListAlerts(ctx context.Context, filter repository.ListFilter) ([]*models.Alert, error) {
	return s.repo.List(ctx, filter)
}

// TransitionAlert applies an operator decision. Only PENDING alerts move,
// and only to a terminal status.
func (s *AlertService) TransitionAlert(ctx context.Context, alertID, status string) (*models.Alert, error) {
	to, err := models.ParseAlertStatus(status)
	if err != nil {
		return nil, err
	}
	if !to.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is not a terminal status", models.ErrInvalidTransition, to)
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	updated, err := s.repo.Transition(writeCtx, alertID, to)
	if err != nil {
		return nil, err
	}

	metrics.AlertTransitioned(string(to))
	s.logger.Info("Alert status changed",
		zap.String("alert_id", util.SanitizeLogValue(alertID)),
		zap.String("status", string(to)),
	)

	s.index(ctx, updated.Clone())
	return updated, nil
}

// index mirrors the alert in the background. Failures are logged only.
func (s *AlertService) index(ctx context.Context, alert *models.Alert) {
	if s.indexer == nil {
		return
	}
	s.indexing.Add(1)
	go func() {
		defer s.indexing.Done()
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), indexTimeout)
		defer cancel()
		if err := s.indexer.IndexAlert(ictx, alert); err != nil {
			s.logger.Warn("Alert search indexing failed",
				zap.String("alert_id", util.SanitizeLogValue(alert.AlertID)),
				zap.Error(err),
			)
		}
	}()
}

// Cleanup waits for background indexing to finish.
func (s *AlertService) Cleanup() {
	s.indexing.Wait()
}
