package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a structurally invalid or out-of-range payload.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateAlert is returned when an alertId already exists in the store.
	ErrDuplicateAlert = errors.New("duplicate alert")
	ErrAlertNotFound  = errors.New("alert not found")
	// ErrInvalidTransition is returned for any status change not leaving PENDING.
	ErrInvalidTransition = errors.New("invalid alert status transition")
	// ErrStore marks a failed or timed-out durable write/read.
	ErrStore = errors.New("alert store failure")
)

// FieldError describes one invalid field.
type FieldError struct {
	Field  string
	Reason string
}

// ValidationError collects field errors; it matches ErrValidation with errors.Is.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	msg := ErrValidation.Error() + ":"
	for i, f := range e.Fields {
		if i > 0 {
			msg += ";"
		}
		msg += fmt.Sprintf(" %s %s", f.Field, f.Reason)
	}
	return msg
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// StoreError wraps a backend failure so it matches ErrStore.
func StoreError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
