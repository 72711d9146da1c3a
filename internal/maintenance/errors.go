package maintenance

import (
	"errors"
	"fmt"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrDateConflict        = errors.New("maintenance date already booked")
	ErrSchedulingExhausted = errors.New("no free business day within search window")
	ErrNotFound            = errors.New("maintenance record not found")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// ValidationError reports a rejected input field. Nothing was mutated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError names the booked date and, when known, the record holding it.
type ConflictError struct {
	Date   civil.Date
	HeldBy uuid.UUID
}

func (e *ConflictError) Error() string {
	if e.HeldBy == uuid.Nil {
		return fmt.Sprintf("%s is already booked", e.Date)
	}
	return fmt.Sprintf("%s is already booked by record %s", e.Date, e.HeldBy)
}

func (e *ConflictError) Unwrap() error { return ErrDateConflict }
