// Package apperr holds the error kinds shared by the scheduling and booking
// packages. Callers classify failures with errors.Is against the kinds below.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrSlotConflict = errors.New("slot is not available")
	ErrNotFound     = errors.New("not found")
	ErrPersistence  = errors.New("persistence failure")
)

// ValidationError reports malformed or missing input, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a single-field ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

// FromValidation converts ozzo-validation output into a ValidationError.
// Internal validator errors are returned unchanged.
func FromValidation(err error) error {
	if err == nil {
		return nil
	}

	var internal validation.InternalError
	if errors.As(err, &internal) {
		return err
	}

	var errs validation.Errors
	if errors.As(err, &errs) {
		out := &ValidationError{Fields: make(map[string]string, len(errs))}
		for field, fe := range errs {
			if fe != nil {
				out.Fields[field] = fe.Error()
			}
		}
		return out
	}

	return &ValidationError{Fields: map[string]string{"request": err.Error()}}
}

// ConflictError is a SlotConflict with the reason the slot was refused.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	if e.Reason == "" {
		return ErrSlotConflict.Error()
	}
	return fmt.Sprintf("%s: %s", ErrSlotConflict, e.Reason)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrSlotConflict
}

// Conflict builds a ConflictError.
func Conflict(reason string) error {
	return &ConflictError{Reason: reason}
}

// Persistence wraps a storage error so that it matches ErrPersistence.
func Persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// Storage wraps err as a persistence failure unless it already carries one of
// the kinds above.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrValidation, ErrSlotConflict, ErrNotFound, ErrPersistence} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return Persistence(op, err)
}
