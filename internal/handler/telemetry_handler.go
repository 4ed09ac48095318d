package handler

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"aura-gateway/internal/metrics"
	"aura-gateway/internal/models"
	"aura-gateway/internal/pipeline"
	"aura-gateway/internal/util"
)

// Submitter accepts an event for asynchronous processing without blocking.
type Submitter interface {
	Submit(event models.TelemetryEvent) error
}

// TelemetryHandler is the agent-facing intake. It validates and enqueues;
// it never archives or forwards on the request path.
type TelemetryHandler struct {
	pipeline     Submitter
	maxBodyBytes int64
	logger       *zap.Logger
}

func NewTelemetryHandler(p Submitter, maxBodyBytes int64, logger *zap.Logger) *TelemetryHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &TelemetryHandler{
		pipeline:     p,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// SubmitTelemetry handles POST /telemetry
func (h *TelemetryHandler) SubmitTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxBodyBytes {
		metrics.TelemetryRejected(metrics.ReasonValidation)
		err := &http.MaxBytesError{Limit: h.maxBodyBytes}
		respondWithError(w, h.logger, http.StatusRequestEntityTooLarge, err, "Telemetry payload too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	event, err := models.DecodeTelemetryEvent(r.Body)
	if err != nil {
		metrics.TelemetryRejected(metrics.ReasonValidation)
		respondWithError(w, h.logger, getStatusCode(err), err, "Invalid telemetry event")
		return
	}

	if err := h.pipeline.Submit(event); err != nil {
		reason := metrics.ReasonSaturated
		if errors.Is(err, pipeline.ErrPipelineClosed) {
			reason = metrics.ReasonClosed
		}
		metrics.TelemetryRejected(reason)
		respondWithError(w, h.logger, getStatusCode(err),
			fmt.Errorf("event %s not accepted: %w", util.SanitizeLogValue(event.EventID), err),
			"Telemetry intake temporarily unavailable")
		return
	}

	metrics.TelemetryAccepted()
	h.logger.Debug("Telemetry accepted",
		util.String("event_id", util.SanitizeLogValue(event.EventID)),
		util.String("endpoint_id", util.SanitizeLogValue(event.EndpointID)),
		util.String("event_type", util.SanitizeLogValue(event.EventType)),
	)
	respondEmpty(w, http.StatusAccepted)
}
