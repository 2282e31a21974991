package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrBrokenReference     = errors.New("item references a missing product")
	ErrDuplicateProduct    = errors.New("product with the same brand, name and color already exists")
	ErrMigrationInProgress = errors.New("migration already in progress")
	ErrUnauthenticated     = errors.New("unauthenticated")
)

// Invalid builds a validation error with detail
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
