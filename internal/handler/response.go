package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"aura-gateway/internal/auth"
	"aura-gateway/internal/models"
	"aura-gateway/internal/pipeline"
	"aura-gateway/internal/util"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta represents list metadata
type Meta struct {
	Total    int `json:"total"`
	PageSize int `json:"page_size,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

func respondWithJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func respondWithError(w http.ResponseWriter, logger *zap.Logger, statusCode int, err error, message string) {
	level := zap.WarnLevel
	if statusCode >= http.StatusInternalServerError {
		level = zap.ErrorLevel
	}
	logger.Log(level, "HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	if statusCode == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	respondWithJSON(w, logger, statusCode, errorResponse(err, message))
}

// respondEmpty writes a status with no body, as the intake endpoints do on success.
func respondEmpty(w http.ResponseWriter, statusCode int) {
	w.WriteHeader(statusCode)
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrQueueSaturated), errors.Is(err, pipeline.ErrPipelineClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrDuplicateAlert), errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
