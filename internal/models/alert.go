package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// AlertStatus is the triage state of an alert. PENDING is the only initial
// state; MITIGATED and CONFIRMED_RISK are terminal.
type AlertStatus string

const (
	AlertStatusPending       AlertStatus = "PENDING"
	AlertStatusMitigated     AlertStatus = "MITIGATED"
	AlertStatusConfirmedRisk AlertStatus = "CONFIRMED_RISK"
)

// ParseAlertStatus accepts the canonical names case-insensitively.
func ParseAlertStatus(s string) (AlertStatus, error) {
	switch AlertStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case AlertStatusPending:
		return AlertStatusPending, nil
	case AlertStatusMitigated:
		return AlertStatusMitigated, nil
	case AlertStatusConfirmedRisk:
		return AlertStatusConfirmedRisk, nil
	}
	verr := &ValidationError{}
	verr.add("status", fmt.Sprintf("unknown value %q", s))
	return "", verr
}

func (s AlertStatus) IsTerminal() bool {
	return s == AlertStatusMitigated || s == AlertStatusConfirmedRisk
}

// CanTransitionTo reports whether the state machine allows s -> to.
func (s AlertStatus) CanTransitionTo(to AlertStatus) bool {
	return s == AlertStatusPending && to.IsTerminal()
}

// Alert is the scoring engine's verdict as persisted by the gateway.
type Alert struct {
	AlertID             string      `json:"alertId"`
	EndpointID          string      `json:"endpointId"`
	UserID              string      `json:"userId"`
	CreationTimestamp   time.Time   `json:"creationTimestamp"`
	MLScore             float64     `json:"mlScore"`
	CognitiveAnalysis   string      `json:"cognitiveAnalysis"`
	AuraConfidenceScore float64     `json:"auraConfidenceScore"`
	Status              AlertStatus `json:"status"`
	ReceivedAt          time.Time   `json:"receivedAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

// Clone returns a copy safe to hand to another goroutine.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// AlertSubmission is the inbound alert payload. Pointer fields distinguish
// "absent" from a zero value.
type AlertSubmission struct {
	AlertID             *string    `json:"alertId"`
	EndpointID          *string    `json:"endpointId"`
	UserID              *string    `json:"userId"`
	CreationTimestamp   *Timestamp `json:"creationTimestamp"`
	MLScore             *float64   `json:"mlScore"`
	CognitiveAnalysis   *string    `json:"cognitiveAnalysis"`
	AuraConfidenceScore *float64   `json:"auraConfidenceScore"`
	Status              *string    `json:"status"`
}

// DecodeAlertSubmission reads exactly one JSON alert from r. It does not validate.
func DecodeAlertSubmission(r io.Reader) (*AlertSubmission, error) {
	var sub AlertSubmission
	if err := decodeStrictBody(r, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Validate checks presence of required fields and score ranges.
func (s *AlertSubmission) Validate() error {
	verr := &ValidationError{}
	checkIdentifier(verr, "alertId", deref(s.AlertID), maxIdentifierLen)
	checkIdentifier(verr, "endpointId", deref(s.EndpointID), maxIdentifierLen)
	if s.UserID != nil && len(*s.UserID) > maxIdentifierLen {
		verr.add("userId", fmt.Sprintf("exceeds %d bytes", maxIdentifierLen))
	}
	if s.CreationTimestamp == nil || s.CreationTimestamp.Time().IsZero() {
		verr.add("creationTimestamp", "is required")
	}
	checkScore(verr, "mlScore", s.MLScore)
	checkScore(verr, "auraConfidenceScore", s.AuraConfidenceScore)
	return verr.orNil()
}

// ToAlert validates the submission and converts it. The inbound status is
// copied as-is; the caller decides what status is persisted.
func (s *AlertSubmission) ToAlert(receivedAt time.Time) (*Alert, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Alert{
		AlertID:             strings.TrimSpace(*s.AlertID),
		EndpointID:          strings.TrimSpace(*s.EndpointID),
		UserID:              deref(s.UserID),
		CreationTimestamp:   s.CreationTimestamp.Time(),
		MLScore:             *s.MLScore,
		CognitiveAnalysis:   deref(s.CognitiveAnalysis),
		AuraConfidenceScore: *s.AuraConfidenceScore,
		Status:              AlertStatus(deref(s.Status)),
		ReceivedAt:          receivedAt.UTC(),
		UpdatedAt:           receivedAt.UTC(),
	}, nil
}

func checkScore(verr *ValidationError, field string, v *float64) {
	switch {
	case v == nil:
		verr.add(field, "is required")
	case math.IsNaN(*v) || math.IsInf(*v, 0):
		verr.add(field, "must be a finite number")
	case *v < 0 || *v > 1:
		verr.add(field, fmt.Sprintf("must be within [0.0, 1.0], got %g", *v))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Timestamp accepts either an RFC 3339 string or unix seconds (integer or
// fractional) and always encodes as RFC 3339.
type Timestamp struct {
	t time.Time
}

func NewTimestamp(t time.Time) *Timestamp { return &Timestamp{t: t.UTC()} }

func (ts *Timestamp) Time() time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.t
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.t.Format(time.RFC3339Nano))
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		ts.t = time.Time{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q is not RFC 3339", s)
		}
		ts.t = t.UTC()
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("timestamp must be RFC 3339 or unix seconds: %w", err)
	}
	if secs <= 0 || math.IsInf(secs, 0) || math.IsNaN(secs) {
		return fmt.Errorf("timestamp %s out of range", data)
	}
	whole, frac := math.Modf(secs)
	ts.t = time.Unix(int64(whole), int64(frac*1e9)).UTC()
	return nil
}
