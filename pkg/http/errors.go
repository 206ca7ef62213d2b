package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	xerrors "Consilium/pkg/errors"
)

// Error codes returned in the data array of a failed response.
const (
	CodeBadRequest      = "ERR_BAD_REQUEST"
	CodeNotFound        = "ERR_NOT_FOUND"
	CodeRateLimited     = "ERR_RATE_LIMITED"
	CodeTimeout         = "ERR_TIMEOUT"
	CodeDataUnavailable = "ERR_DATA_UNAVAILABLE"
	CodeUpstream        = "ERR_UPSTREAM"
	CodeConfiguration   = "ERR_CONFIGURATION"
	CodeInternal        = "ERR_INTERNAL"
)

// AppError is an error that knows its HTTP status and wire code.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{Code: code, Field: field, Message: message, Status: status}
}

// WithParam attaches a detail the client can act on, e.g. retry_after.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func BadRequestErrorf(format string, a ...interface{}) *AppError {
	return NewAppError(CodeBadRequest, "", fmt.Sprintf(format, a...), http.StatusBadRequest)
}

// errorMapping is checked in order; the first sentinel that matches wins.
// Rate limiting must precede the transient match since a 429 is also transient.
var errorMapping = []struct {
	target  error
	code    string
	status  int
	message string
}{
	{xerrors.ErrInvalidInput, CodeBadRequest, http.StatusBadRequest, ""},
	{xerrors.ErrNotFound, CodeNotFound, http.StatusNotFound, ""},
	{xerrors.ErrRateLimited, CodeRateLimited, http.StatusTooManyRequests, "upstream rate limit reached"},
	{xerrors.ErrTimeout, CodeTimeout, http.StatusGatewayTimeout, "upstream timed out"},
	{context.DeadlineExceeded, CodeTimeout, http.StatusGatewayTimeout, "analysis deadline exceeded"},
	{xerrors.ErrDataUnavailable, CodeDataUnavailable, http.StatusServiceUnavailable, ""},
	{xerrors.ErrTransient, CodeUpstream, http.StatusBadGateway, "upstream temporarily unavailable"},
	{xerrors.ErrPermanent, CodeUpstream, http.StatusBadGateway, "upstream rejected the request"},
}

// FromError maps domain errors onto AppError. Unknown errors become ERR_INTERNAL
// without leaking their text to the client.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var cfgErr *xerrors.ConfigurationError
	if errors.As(err, &cfgErr) {
		return NewAppError(CodeConfiguration, cfgErr.Field, cfgErr.Error(), http.StatusInternalServerError).WithError(err)
	}

	for _, m := range errorMapping {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = err.Error()
		}
		appErr = NewAppError(m.code, "", msg, m.status).WithError(err)
		var ext *xerrors.ExternalError
		if errors.As(err, &ext) && ext.Status > 0 {
			appErr.WithParam("upstream_status", ext.Status)
		}
		return appErr
	}

	return NewAppError(CodeInternal, "", "internal error", http.StatusInternalServerError).WithError(err)
}
