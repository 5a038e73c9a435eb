// Package store persists queued deployment activations.
package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound is returned when no activation has the requested ID.
	ErrNotFound = errors.New("activation not found")

	// ErrDuplicateID is returned when enqueueing an activation whose ID is taken.
	ErrDuplicateID = errors.New("activation ID already exists")

	// ErrConnectionFailed is returned when the database cannot be opened.
	ErrConnectionFailed = errors.New("database connection failed")

	// ErrMigrationFailed is returned when the embedded schema cannot be applied.
	ErrMigrationFailed = errors.New("database migration failed")

	// ErrInvalidData is returned when a stored row cannot be read back,
	// for instance an unknown status.
	ErrInvalidData = errors.New("invalid stored activation")

	// ErrTxFailed is returned when begin, commit or rollback fails.
	ErrTxFailed = errors.New("transaction failed")
)

// StoreError records which store operation failed and for which activation.
type StoreError struct {
	Op      string // e.g. "ClaimPendingActivations"
	ID      string // activation ID, empty for table-wide operations
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.ID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, id, message string, err error) *StoreError {
	return &StoreError{
		Op:      op,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
