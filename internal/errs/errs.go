// Package errs defines the error taxonomy shared by every engine component.
//
// Callers match on categories with errors.Is (sentinels) and errors.As
// (*ValidationError). Components wrap with fmt.Errorf("...: %w", err) so the
// category survives any number of layers.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for operations on an unknown id.
	ErrNotFound = errors.New("not found")

	// ErrIOTimeout is returned when a persistence call exceeds its deadline.
	// It is retryable.
	ErrIOTimeout = errors.New("io timeout")

	// ErrIOCorrupt is returned when a persisted artifact cannot be decoded.
	ErrIOCorrupt = errors.New("io corrupt")

	// ErrConcurrencyConflict is returned when a writer detects it was working
	// against a stale snapshot.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrValidation is the category sentinel matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
)

// ValidationError names the first missing or invalid field of a rejected
// record. Records are rejected wholesale; nothing is applied partially.
type ValidationError struct {
	Entity string // "handoff", "node", "event", ...
	Field  string // field path as it appears in the persisted document, e.g. "gotchas[1].severity"
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: field %q: %s", e.Entity, e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) true for any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a *ValidationError.
func Invalid(entity, field, reason string) error {
	return &ValidationError{Entity: entity, Field: field, Reason: reason}
}

// NotFound wraps ErrNotFound with the kind and id that were missing.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// Corrupt wraps ErrIOCorrupt with the artifact path and the decode error.
func Corrupt(path string, cause error) error {
	return fmt.Errorf("%s: %w: %v", path, ErrIOCorrupt, cause)
}

// IsRetryable reports whether the operation that produced err may be retried
// as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrIOTimeout) || errors.Is(err, ErrConcurrencyConflict)
}

// FieldOf returns the offending field of a validation error, or "" when err
// is not one.
func FieldOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	return ""
}
