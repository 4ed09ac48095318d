package service

import (
	"time"

	"go.uber.org/zap"

	"aura-gateway/internal/repository"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	alertRepo    repository.AlertRepository
	indexer      AlertIndexer
	writeTimeout time.Duration
	logger       *zap.Logger
	alertService *AlertService
}

// NewServiceFactory creates a new service factory. indexer may be nil.
func NewServiceFactory(
	alertRepo repository.AlertRepository,
	indexer AlertIndexer,
	writeTimeout time.Duration,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		alertRepo:    alertRepo,
		indexer:      indexer,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// AlertService returns the alert service instance (singleton)
func (f *ServiceFactory) AlertService() *AlertService {
	if f.alertService == nil {
		f.alertService = NewAlertService(
			f.alertRepo,
			f.indexer,
			f.writeTimeout,
			f.logger,
		)
	}
	return f.alertService
}

// Cleanup cleans up all services
func (f *ServiceFactory) Cleanup() {
	if f.alertService != nil {
		f.alertService.Cleanup()
	}
}
