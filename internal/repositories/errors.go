package repositories

import (
	"errors"
	"fmt"
)

// StoreErrorCode enumerates repository error causes for non-Firestore stores.
type StoreErrorCode string

const (
	// StoreErrorUnknown represents an unspecified failure.
	StoreErrorUnknown StoreErrorCode = "store_unknown"
	// StoreErrorNotFound indicates the record does not exist.
	StoreErrorNotFound StoreErrorCode = "store_not_found"
	// StoreErrorConflict indicates a stale revision or duplicate record.
	StoreErrorConflict StoreErrorCode = "store_conflict"
	// StoreErrorUnavailable indicates the backing store could not be reached.
	StoreErrorUnavailable StoreErrorCode = "store_unavailable"
)

// StoreError wraps store failures with machine readable codes.
type StoreError struct {
	Op      string
	Code    StoreErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the record was missing.
func (e *StoreError) IsNotFound() bool { return e != nil && e.Code == StoreErrorNotFound }

// IsConflict reports whether the write lost an optimistic concurrency race.
func (e *StoreError) IsConflict() bool { return e != nil && e.Code == StoreErrorConflict }

// IsUnavailable reports whether the store was unreachable.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Code == StoreErrorUnavailable }

// NewStoreError constructs a typed store error.
func NewStoreError(op string, code StoreErrorCode, message string, err error) *StoreError {
	if message == "" {
		message = string(code)
		if err != nil {
			message = err.Error()
		}
	}
	return &StoreError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsNotFound reports whether err carries a not-found repository classification.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

var _ RepositoryError = (*StoreError)(nil)
