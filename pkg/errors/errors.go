package errors

import (
	"errors"
	"fmt"
)

// Sentinels for classification with errors.Is.
var (
	// ErrTransient marks an external fault that may succeed on retry.
	ErrTransient = errors.New("transient external error")

	// ErrPermanent marks an external fault that will not succeed on retry.
	ErrPermanent = errors.New("permanent external error")

	// ErrDataUnavailable indicates no cached and no fresh value exists.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrConfiguration indicates invalid startup configuration.
	ErrConfiguration = errors.New("configuration error")

	ErrRateLimited   = errors.New("rate limited")
	ErrTimeout       = errors.New("operation timeout")
	ErrInvalidOutput = errors.New("invalid output")
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidInput  = errors.New("invalid input")
)

// ExternalKind classifies a fault raised by an external collaborator.
type ExternalKind string

const (
	KindTimeout       ExternalKind = "timeout"
	KindRateLimited   ExternalKind = "rate_limited"
	KindUpstream      ExternalKind = "upstream"
	KindAuth          ExternalKind = "auth"
	KindBadRequest    ExternalKind = "bad_request"
	KindInvalidOutput ExternalKind = "invalid_output"
)

// ExternalError wraps a fault from the language-model service or the market-data source.
type ExternalError struct {
	Kind      ExternalKind
	Retryable bool
	Status    int
	Err       error
}

func (e *ExternalError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// Is lets callers match on the transient/permanent sentinels and on the kind sentinels.
func (e *ExternalError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Retryable
	case ErrPermanent:
		return !e.Retryable
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrInvalidOutput:
		return e.Kind == KindInvalidOutput
	}
	return false
}

// Transient builds a retryable ExternalError.
func Transient(kind ExternalKind, status int, err error) *ExternalError {
	return &ExternalError{Kind: kind, Retryable: true, Status: status, Err: err}
}

// Permanent builds a non-retryable ExternalError.
func Permanent(kind ExternalKind, status int, err error) *ExternalError {
	return &ExternalError{Kind: kind, Retryable: false, Status: status, Err: err}
}

// FromStatus classifies an HTTP status code returned by an external service.
func FromStatus(status int, err error) *ExternalError {
	switch {
	case status == 429:
		return Transient(KindRateLimited, status, err)
	case status == 408 || status >= 500:
		return Transient(KindUpstream, status, err)
	case status == 401 || status == 403:
		return Permanent(KindAuth, status, err)
	default:
		return Permanent(KindBadRequest, status, err)
	}
}

// IsRetryable reports whether err should be retried by a bounded retry loop.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// DataUnavailableError reports that neither a cached nor a fresh value exists for a key.
type DataUnavailableError struct {
	Ticker   string
	Category string
	Err      error
}

func (e *DataUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data unavailable for %s/%s: %v", e.Ticker, e.Category, e.Err)
	}
	return fmt.Sprintf("data unavailable for %s/%s", e.Ticker, e.Category)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

func (e *DataUnavailableError) Is(target error) bool { return target == ErrDataUnavailable }

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(field, format string, a ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, a...)}
}

// MultiError collects several errors into one.
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("multiple errors (%d): %v", len(m.Errors), m.Errors[0])
}

// Add appends a non-nil error.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// ToError returns nil when nothing was collected.
func (m *MultiError) ToError() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

// Unwrap exposes the collected errors to errors.Is/As.
func (m *MultiError) Unwrap() []error { return m.Errors }

// Is reports whether err is or wraps target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is errors.As re-exported so callers need a single import.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// New is errors.New re-exported.
func New(text string) error { return errors.New(text) }
