package repository

import (
	"context"

	"aura-gateway/internal/models"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// AlertRepository is the durable record of alerts. Create fails with
// models.ErrDuplicateAlert when the id exists. Transition is atomic per id
// and fails with models.ErrInvalidTransition unless the stored status allows
// the move. Backend failures are wrapped with models.ErrStore.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	Get(ctx context.Context, alertID string) (*models.Alert, error)
	List(ctx context.Context, filter ListFilter) ([]*models.Alert, error)
	Transition(ctx context.Context, alertID string, to models.AlertStatus) (*models.Alert, error)
	HealthCheck(ctx context.Context) error
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Status     models.AlertStatus
	EndpointID string
	Limit      int
}

// Normalize clamps Limit into [1, MaxListLimit], defaulting to DefaultListLimit.
func (f ListFilter) Normalize() ListFilter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	return f
}

// Matches reports whether a passes the status and endpoint filters.
func (f ListFilter) Matches(a *models.Alert) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.EndpointID != "" && a.EndpointID != f.EndpointID {
		return false
	}
	return true
}

// NewerFirst orders alerts by creation time descending, then by id.
func NewerFirst(a, b *models.Alert) int {
	if c := b.CreationTimestamp.Compare(a.CreationTimestamp); c != 0 {
		return c
	}
	switch {
	case a.AlertID < b.AlertID:
		return -1
	case a.AlertID > b.AlertID:
		return 1
	}
	return 0
}
