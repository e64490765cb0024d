package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidAction        = errors.New("invalid action")
	ErrInvalidState         = errors.New("invalid state")
	ErrInspectionInProgress = errors.New("another inspection is already in progress")
)

// StorageError marks a local persistence failure (quota, corruption, locked database).
// Queued work is never dropped when one is returned; callers surface it and allow a retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError unless it already is one or is a not-found.
func Storage(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// CaptureError aborts a single capture attempt.
type CaptureError struct {
	Stage string
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Stage, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// ValidationError rejects caller-supplied data before any state is mutated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if strings.TrimSpace(e.Field) == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func Validation(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientSyncError is retried on a later drain cycle.
type TransientSyncError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientSyncError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient sync failure %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient sync failure %s: %v", e.Op, e.Err)
}

func (e *TransientSyncError) Unwrap() error { return e.Err }

// PermanentSyncError is never retried automatically.
type PermanentSyncError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *PermanentSyncError) Error() string {
	return fmt.Sprintf("permanent sync failure %s (status %d): %v", e.Op, e.StatusCode, e.Err)
}

func (e *PermanentSyncError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientSyncError
	return errors.As(err, &te)
}

func IsPermanent(err error) bool {
	var pe *PermanentSyncError
	return errors.As(err, &pe)
}

// AuthError means the back office rejected the session credential. It is
// not charged to the queued entry that hit it.
type AuthError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("sync authentication failed %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sync authentication failed %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
