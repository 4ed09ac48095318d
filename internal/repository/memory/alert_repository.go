package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"aura-gateway/internal/models"
	"aura-gateway/internal/repository"
)

type entry struct {
	mu    sync.Mutex
	alert models.Alert
}

// AlertRepository keeps alerts in process memory. Inserts of distinct ids
// never contend; transitions lock only the entry they touch.
type AlertRepository struct {
	alerts sync.Map // alertID -> *entry
	now    func() time.Time
}

var _ repository.AlertRepository = (*AlertRepository)(nil)

func NewAlertRepository() *AlertRepository {
	return &AlertRepository{now: time.Now}
}

func (r *AlertRepository) Create(ctx context.Context, alert *models.Alert) error {
	if err := ctx.Err(); err != nil {
		return models.StoreError("create alert", err)
	}
	e := &entry{alert: *alert}
	if _, loaded := r.alerts.LoadOrStore(alert.AlertID, e); loaded {
		return fmt.Errorf("%w: %s", models.ErrDuplicateAlert, alert.AlertID)
	}
	return nil
}

func (r *AlertRepository) Get(ctx context.Context, alertID string) (*models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.StoreError("get alert", err)
	}
	v, ok := r.alerts.Load(alertID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrAlertNotFound, alertID)
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alert.Clone(), nil
}

func (r *AlertRepository) List(ctx context.Context, filter repository.ListFilter) ([]*models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.StoreError("list alerts", err)
	}
	filter = filter.Normalize()

	var out []*models.Alert
	r.alerts.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		a := e.alert.Clone()
		e.mu.Unlock()
		if filter.Matches(a) {
			out = append(out, a)
		}
		return true
	})

	slices.SortFunc(out, repository.NewerFirst)
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *AlertRepository) Transition(ctx context.Context, alertID string, to models.AlertStatus) (*models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.StoreError("transition alert", err)
	}
	v, ok := r.alerts.Load(alertID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrAlertNotFound, alertID)
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.alert.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, e.alert.Status, to)
	}
	e.alert.Status = to
	e.alert.UpdatedAt = r.now().UTC()
	return e.alert.Clone(), nil
}

func (r *AlertRepository) HealthCheck(context.Context) error {
	return nil
}
