package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"aura-gateway/internal/models"
	"aura-gateway/internal/repository"
)

const (
	alertKeyPrefix = "alert:"
	alertIndexKey  = "alerts:by_created"
	listPageSize   = 256
)

// createScript inserts the hash and its index entry only when the key is new.
// KEYS[1] alert hash, KEYS[2] index; ARGV[1] score, ARGV[2] member, ARGV[3..] field/value pairs.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// transitionScript moves status out of PENDING as one atomic step and
// returns the hash as written. Returns 0 when the alert is missing, -1 when
// the stored status is not PENDING.
var transitionScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'status')
if not current then
	return 0
end
if current ~= ARGV[1] then
	return -1
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updatedAt', ARGV[3])
return redis.call('HGETALL', KEYS[1])
`)

// AlertRepository stores each alert as a hash and keeps a sorted-set index
// scored by creation time for newest-first listing.
type AlertRepository struct {
	rdb    redis.UniversalClient
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

var _ repository.AlertRepository = (*AlertRepository)(nil)

func NewAlertRepository(rdb redis.UniversalClient, keyPrefix string, logger *zap.Logger) *AlertRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertRepository{
		rdb:    rdb,
		prefix: keyPrefix,
		logger: logger.Named("alert_repository"),
		now:    time.Now,
	}
}

func (r *AlertRepository) alertKey(id string) string {
	return r.prefix + alertKeyPrefix + id
}

func (r *AlertRepository) indexKey() string {
	return r.prefix + alertIndexKey
}

func (r *AlertRepository) Create(ctx context.Context, alert *models.Alert) error {
	args := []interface{}{
		alert.CreationTimestamp.UnixMilli(),
		alert.AlertID,
	}
	args = append(args, encodeAlert(alert)...)

	created, err := createScript.Run(ctx, r.rdb, []string{r.alertKey(alert.AlertID), r.indexKey()}, args...).Int()
	if err != nil {
		r.logger.Error("Failed to create alert", zap.String("alert_id", alert.AlertID), zap.Error(err))
		return models.StoreError("create alert", err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s", models.ErrDuplicateAlert, alert.AlertID)
	}
	return nil
}

func (r *AlertRepository) Get(ctx context.Context, alertID string) (*models.Alert, error) {
	fields, err := r.rdb.HGetAll(ctx, r.alertKey(alertID)).Result()
	if err != nil {
		return nil, models.StoreError("get alert", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrAlertNotFound, alertID)
	}
	alert, err := decodeAlert(fields)
	if err != nil {
		return nil, models.StoreError("decode alert", err)
	}
	return alert, nil
}

func (r *AlertRepository) List(ctx context.Context, filter repository.ListFilter) ([]*models.Alert, error) {
	filter = filter.Normalize()

	var out []*models.Alert
	for start := int64(0); len(out) < filter.Limit; start += listPageSize {
		ids, err := r.rdb.ZRevRange(ctx, r.indexKey(), start, start+listPageSize-1).Result()
		if err != nil {
			return nil, models.StoreError("list alerts", err)
		}
		if len(ids) == 0 {
			break
		}

		pipe := r.rdb.Pipeline()
		cmds := make([]*redis.MapStringStringCmd, len(ids))
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.alertKey(id))
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, models.StoreError("list alerts", err)
		}

		for i, cmd := range cmds {
			fields := cmd.Val()
			if len(fields) == 0 {
				continue
			}
			alert, err := decodeAlert(fields)
			if err != nil {
				r.logger.Warn("Skipping undecodable alert", zap.String("alert_id", ids[i]), zap.Error(err))
				continue
			}
			if filter.Matches(alert) {
				out = append(out, alert)
			}
		}

		if len(ids) < listPageSize {
			break
		}
	}

	slices.SortStableFunc(out, repository.NewerFirst)
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *AlertRepository) Transition(ctx context.Context, alertID string, to models.AlertStatus) (*models.Alert, error) {
	if !models.AlertStatusPending.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: cannot move to %s", models.ErrInvalidTransition, to)
	}

	now := r.now().UTC().Format(time.RFC3339Nano)
	res, err := transitionScript.Run(ctx, r.rdb, []string{r.alertKey(alertID)},
		string(models.AlertStatusPending), string(to), now).Result()
	if err != nil {
		return nil, models.StoreError("transition alert", err)
	}

	switch reply := res.(type) {
	case int64:
		if reply == 0 {
			return nil, fmt.Errorf("%w: %s", models.ErrAlertNotFound, alertID)
		}
		return nil, fmt.Errorf("%w: %s is no longer %s", models.ErrInvalidTransition, alertID, models.AlertStatusPending)
	case []interface{}:
		fields, err := hashFromReply(reply)
		if err != nil {
			return nil, models.StoreError("transition alert", err)
		}
		alert, err := decodeAlert(fields)
		if err != nil {
			return nil, models.StoreError("decode alert", err)
		}
		return alert, nil
	default:
		return nil, models.StoreError("transition alert", fmt.Errorf("unexpected script reply %T", res))
	}
}

// hashFromReply turns an HGETALL array reply into a field map.
func hashFromReply(reply []interface{}) (map[string]string, error) {
	if len(reply)%2 != 0 {
		return nil, fmt.Errorf("odd HGETALL reply length %d", len(reply))
	}
	fields := make(map[string]string, len(reply)/2)
	for i := 0; i < len(reply); i += 2 {
		k, ok := reply[i].(string)
		v, ok2 := reply[i+1].(string)
		if !ok || !ok2 {
			return nil, fmt.Errorf("non-string HGETALL entry at %d", i)
		}
		fields[k] = v
	}
	return fields, nil
}

func (r *AlertRepository) HealthCheck(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func encodeAlert(a *models.Alert) []interface{} {
	return []interface{}{
		"alertId", a.AlertID,
		"endpointId", a.EndpointID,
		"userId", a.UserID,
		"creationTimestamp", a.CreationTimestamp.UTC().Format(time.RFC3339Nano),
		"mlScore", strconv.FormatFloat(a.MLScore, 'g', -1, 64),
		"cognitiveAnalysis", a.CognitiveAnalysis,
		"auraConfidenceScore", strconv.FormatFloat(a.AuraConfidenceScore, 'g', -1, 64),
		"status", string(a.Status),
		"receivedAt", a.ReceivedAt.UTC().Format(time.RFC3339Nano),
		"updatedAt", a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeAlert(f map[string]string) (*models.Alert, error) {
	a := &models.Alert{
		AlertID:           f["alertId"],
		EndpointID:        f["endpointId"],
		UserID:            f["userId"],
		CognitiveAnalysis: f["cognitiveAnalysis"],
		Status:            models.AlertStatus(f["status"]),
	}

	var err error
	if a.CreationTimestamp, err = time.Parse(time.RFC3339Nano, f["creationTimestamp"]); err != nil {
		return nil, fmt.Errorf("creationTimestamp: %w", err)
	}
	if a.ReceivedAt, err = time.Parse(time.RFC3339Nano, f["receivedAt"]); err != nil {
		return nil, fmt.Errorf("receivedAt: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, f["updatedAt"]); err != nil {
		return nil, fmt.Errorf("updatedAt: %w", err)
	}
	if a.MLScore, err = strconv.ParseFloat(f["mlScore"], 64); err != nil {
		return nil, fmt.Errorf("mlScore: %w", err)
	}
	if a.AuraConfidenceScore, err = strconv.ParseFloat(f["auraConfidenceScore"], 64); err != nil {
		return nil, fmt.Errorf("auraConfidenceScore: %w", err)
	}
	return a, nil
}
