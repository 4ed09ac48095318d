package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known event types. The set is open: any non-empty type is accepted.
const (
	EventTypeFileWrite     = "FILE_WRITE"
	EventTypeAuthFail      = "AUTH_FAIL"
	EventTypeDecoyAccess   = "DECOY_ACCESS"
	EventTypeProcessLaunch = "PROCESS_LAUNCH"
)

const (
	maxIdentifierLen = 256
	maxEventTypeLen  = 64
)

// TelemetryEvent is one observation emitted by an endpoint agent. Once
// accepted by the gateway it is never modified.
type TelemetryEvent struct {
	EventID     string      `json:"eventId"`
	EndpointID  string      `json:"endpointId"`
	UserID      string      `json:"userId"`
	EventType   string      `json:"eventType"`
	Timestamp   int64       `json:"timestamp"` // unix seconds, set by the agent
	ContextData ContextData `json:"contextData"`
}

// NewTelemetryEvent builds an agent-side event with a fresh id and the current time.
func NewTelemetryEvent(endpointID, userID, eventType string, contextData ContextData) TelemetryEvent {
	if contextData == nil {
		contextData = ContextData{}
	}
	return TelemetryEvent{
		EventID:     uuid.New().String(),
		EndpointID:  endpointID,
		UserID:      userID,
		EventType:   eventType,
		Timestamp:   time.Now().Unix(),
		ContextData: contextData,
	}
}

// OccurredAt returns the agent-reported occurrence time.
func (e TelemetryEvent) OccurredAt() time.Time {
	return time.Unix(e.Timestamp, 0).UTC()
}

// Validate checks that every required field is present and bounded.
func (e TelemetryEvent) Validate() error {
	verr := &ValidationError{}
	checkIdentifier(verr, "eventId", e.EventID, maxIdentifierLen)
	checkIdentifier(verr, "endpointId", e.EndpointID, maxIdentifierLen)
	checkIdentifier(verr, "userId", e.UserID, maxIdentifierLen)
	checkIdentifier(verr, "eventType", e.EventType, maxEventTypeLen)
	if e.Timestamp <= 0 {
		verr.add("timestamp", "is required")
	}
	return verr.orNil()
}

// DecodeTelemetryEvent reads exactly one JSON event from r and validates it.
func DecodeTelemetryEvent(r io.Reader) (TelemetryEvent, error) {
	var event TelemetryEvent
	if err := decodeStrictBody(r, &event); err != nil {
		return TelemetryEvent{}, err
	}
	if event.ContextData == nil {
		event.ContextData = ContextData{}
	}
	if err := event.Validate(); err != nil {
		return TelemetryEvent{}, err
	}
	return event, nil
}

func checkIdentifier(verr *ValidationError, field, value string, maxLen int) {
	switch {
	case strings.TrimSpace(value) == "":
		verr.add(field, "is required")
	case len(value) > maxLen:
		verr.add(field, fmt.Sprintf("exceeds %d bytes", maxLen))
	}
}

// decodeStrictBody decodes a single JSON document and rejects trailing data.
// Decoder failures are reported as validation errors; a body size limit
// error from http.MaxBytesReader is returned unchanged.
func decodeStrictBody(r io.Reader, dst interface{}) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		verr := &ValidationError{}
		if errors.Is(err, io.EOF) {
			verr.add("body", "is required")
		} else {
			verr.add("body", "is not valid JSON: "+err.Error())
		}
		return verr
	}
	if dec.More() {
		verr := &ValidationError{}
		verr.add("body", "must contain a single JSON object")
		return verr
	}
	return nil
}
