// Package faults defines the error taxonomy shared by the pipeline steps.
// The workflow engine uses IsRetryable to decide between retry and terminal
// failure; step implementations only return these errors and never retry.
package faults

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports malformed input. Retrying identical input cannot
// succeed, so it is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validation returns a *ValidationError for field.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// OrgNotFoundError reports that no organization owns the derived org key.
type OrgNotFoundError struct {
	Key string
}

func (e *OrgNotFoundError) Error() string {
	return fmt.Sprintf("organization with key %q not found", e.Key)
}

// TransientServiceError wraps a network, timeout or 5xx failure from an
// external service.
type TransientServiceError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *TransientServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *TransientServiceError) Unwrap() error { return e.Err }

// Transient wraps err as a *TransientServiceError for service.
func Transient(service string, status int, err error) error {
	return &TransientServiceError{Service: service, StatusCode: status, Err: err}
}

// FromStatus classifies an HTTP failure from service. Requests the service
// rejected as malformed (400, 413, 422) are validation errors; everything
// else, including auth failures and throttling, is transient.
func FromStatus(service string, status int, err error) error {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return &ValidationError{Field: service, Reason: err.Error()}
	}
	return Transient(service, status, err)
}

// StorageError wraps an object store or database failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a *StorageError for op. A nil err returns nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsRetryable reports whether a step that failed with err may be attempted
// again. Validation and not-found errors are permanent; everything else,
// including unclassified errors, is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var nf *OrgNotFoundError
	return !errors.As(err, &nf)
}

// Kind returns a short label for err, used for metrics and logs.
func Kind(err error) string {
	var (
		ve *ValidationError
		nf *OrgNotFoundError
		te *TransientServiceError
		se *StorageError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &nf):
		return "org_not_found"
	case errors.As(err, &te):
		return "transient"
	case errors.As(err, &se):
		return "storage"
	default:
		return "unknown"
	}
}
