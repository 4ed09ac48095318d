package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"aura-gateway/internal/models"
	"aura-gateway/internal/service"
	"aura-gateway/internal/util"
)

// AlertHandler is the scoring engine's callback for enriched alerts.
type AlertHandler struct {
	alertService *service.AlertService
	maxBodyBytes int64
	logger       *zap.Logger
}

func NewAlertHandler(alertService *service.AlertService, maxBodyBytes int64, logger *zap.Logger) *AlertHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &AlertHandler{
		alertService: alertService,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// IngestAlert handles POST /alert-ingestion. It answers 201 only after the
// store has acknowledged the write.
func (h *AlertHandler) IngestAlert(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	sub, err := models.DecodeAlertSubmission(r.Body)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Invalid alert payload")
		return
	}

	alert, err := h.alertService.IngestAlert(r.Context(), sub)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to ingest alert")
		return
	}

	h.logger.Debug("Alert ingested via HTTP",
		util.String("alert_id", util.SanitizeLogValue(alert.AlertID)),
		util.Duration("duration", time.Since(startTime)),
	)
	respondEmpty(w, http.StatusCreated)
}
