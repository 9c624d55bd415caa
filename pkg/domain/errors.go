package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when an entity id does not exist in its collection.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID is returned when appending an entity whose id is already present.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrWriteFailed wraps backend failures (storage unavailable, quota exceeded).
	ErrWriteFailed = errors.New("write failed")
)

// ValidationError rejects a save before any store write happens.
type ValidationError struct {
	Entity   Collection
	Missing  []string
	Problems []string
}

func (e *ValidationError) missing(field string) { e.Missing = append(e.Missing, field) }
func (e *ValidationError) invalid(msg string)   { e.Problems = append(e.Problems, msg) }

func (e *ValidationError) orNil() error {
	if len(e.Missing) == 0 && len(e.Problems) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Problems) > 0 {
		parts = append(parts, strings.Join(e.Problems, "; "))
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(parts, "; "))
}

// NewValidationError builds a ValidationError for callers outside the package.
func NewValidationError(entity Collection, missing ...string) *ValidationError {
	return &ValidationError{Entity: entity, Missing: missing}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError builds an ErrNotFound carrying the collection and id.
func NotFoundError(c Collection, id string) error {
	return fmt.Errorf("%s %s: %w", c, id, ErrNotFound)
}
