package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"aura-gateway/internal/pipeline"
)

// HealthChecker reports the health of each backing dependency by name.
// A nil error means healthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

// StatsProvider exposes ingestion pipeline counters.
type StatsProvider interface {
	Stats() pipeline.Stats
}

type HealthHandler struct {
	service string
	checker HealthChecker
	stats   StatsProvider
	timeout time.Duration
	logger  *zap.Logger
}

func NewHealthHandler(service string, checker HealthChecker, stats StatsProvider, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		checker: checker,
		stats:   stats,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

type readinessResponse struct {
	Status   string            `json:"status"`
	Service  string            `json:"service"`
	Checks   map[string]string `json:"checks"`
	Failing  []string          `json:"failing,omitempty"`
	Pipeline *pipeline.Stats   `json:"pipeline,omitempty"`
}

// Health is a liveness probe; it never touches dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": h.service,
	})
}

// Ready checks every dependency and answers 503 if any of them fails.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := readinessResponse{
		Status:  "ready",
		Service: h.service,
		Checks:  map[string]string{},
	}

	if h.checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		for name, err := range h.checker.HealthCheck(ctx) {
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Failing = append(resp.Failing, name)
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	if h.stats != nil {
		stats := h.stats.Stats()
		resp.Pipeline = &stats
	}

	status := http.StatusOK
	if len(resp.Failing) > 0 {
		sort.Strings(resp.Failing)
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
		h.logger.Warn("Readiness check failed", zap.Strings("failing", resp.Failing))
	}
	respondWithJSON(w, h.logger, status, resp)
}
