package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"aura-gateway/internal/models"
	"aura-gateway/internal/repository"
	"aura-gateway/internal/service"
	"aura-gateway/internal/util"
)

// DashboardHandler serves the operator read surface and status decisions.
type DashboardHandler struct {
	alertService *service.AlertService
	logger       *zap.Logger
}

func NewDashboardHandler(alertService *service.AlertService, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		alertService: alertService,
		logger:       logger,
	}
}

type statusUpdateRequest struct {
	Status string `json:"status"`
}

// RegisterRoutes mounts the dashboard routes; callers wrap them with the role gate.
func (h *DashboardHandler) RegisterRoutes(router chi.Router) {
	router.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.ListAlerts)
		r.Get("/{alertID}", h.GetAlert)
		r.Patch("/{alertID}/status", h.UpdateAlertStatus)
	})
}

// ListAlerts handles GET /api/v1/dashboard/alerts?status=&endpointId=&limit=
func (h *DashboardHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid query parameters")
		return
	}

	alerts, err := h.alertService.ListAlerts(r.Context(), filter)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}

	resp := successResponse(alerts, "Alerts retrieved successfully")
	resp.Meta = &Meta{Total: len(alerts), PageSize: filter.Normalize().Limit}
	respondWithJSON(w, h.logger, http.StatusOK, resp)
}

// GetAlert handles GET /api/v1/dashboard/alerts/{alertID}
func (h *DashboardHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")

	alert, err := h.alertService.GetAlert(r.Context(), alertID)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to get alert")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(alert, "Alert retrieved successfully"))
}

// UpdateAlertStatus handles PATCH /api/v1/dashboard/alerts/{alertID}/status
func (h *DashboardHandler) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")

	var req statusUpdateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	alert, err := h.alertService.TransitionAlert(r.Context(), alertID, req.Status)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to update alert status")
		return
	}

	h.logger.Info("Alert status updated via HTTP",
		util.String("alert_id", util.SanitizeLogValue(alertID)),
		util.String("status", string(alert.Status)),
	)
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(alert, "Alert status updated successfully"))
}

func parseListFilter(r *http.Request) (repository.ListFilter, error) {
	q := r.URL.Query()
	filter := repository.ListFilter{EndpointID: q.Get("endpointId")}

	if s := q.Get("status"); s != "" {
		status, err := models.ParseAlertStatus(s)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}

	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("limit must be a positive integer, got %q", s)
		}
		filter.Limit = limit
	}
	return filter, nil
}
