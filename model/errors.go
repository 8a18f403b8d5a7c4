package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrConfiguration      = "CONFIGURATION_ERROR"
	ErrNotFound           = "NOT_FOUND"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrConflict           = "CONFLICT"
	ErrCancelled          = "CANCELLED"
	ErrConnectivity       = "CONNECTIVITY_ERROR"
	ErrService            = "SERVICE_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrNotConfirmed       = "NOT_CONFIRMED"
	ErrUnauthorized       = "UNAUTHORIZED"
)

// ErrorEnvelope is the uniform error shape surfaced to the hosting shell.
// It implements the error interface and unwraps to Cause when one is set.
type ErrorEnvelope struct {
	Code    string       `json:"code"               yaml:"code"`
	Message string       `json:"message"            yaml:"message"`
	Details []FieldError `json:"details,omitempty"  yaml:"details,omitempty"`
	Cause   error        `json:"-"                  yaml:"-"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ErrorEnvelope) Unwrap() error {
	return e.Cause
}

// FieldError describes a parameter-level validation error.
type FieldError struct {
	Field   string `json:"field"   yaml:"field"`
	Code    string `json:"code"    yaml:"code"`
	Message string `json:"message" yaml:"message"`
}

// NewConfigurationError returns a CONFIGURATION_ERROR. Configuration errors
// are raised before any network activity and are never retried.
func NewConfigurationError(format string, args ...any) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConfiguration, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more parameters are invalid",
		Details: details,
	}
}

// NewCancelledError returns a CANCELLED error wrapping the context error.
func NewCancelledError(cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrCancelled,
		Message: "The invocation was cancelled before the service responded",
		Cause:   cause,
	}
}

// NewConnectivityError returns a CONNECTIVITY_ERROR whose message names the
// endpoint the client was configured for. The original failure is kept as
// the cause.
func NewConnectivityError(endpoint EndpointInfo, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code: ErrConnectivity,
		Message: fmt.Sprintf(
			"unable to reach endpoint %q (region %q, profile %q); check the region and endpoint configuration",
			endpoint.URL, endpoint.Region, endpoint.Profile,
		),
		Cause: cause,
	}
}

// NewNotConfirmedError returns a NOT_CONFIRMED error for a mutating
// operation the hosting shell did not confirm.
func NewNotConfirmedError(operation string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNotConfirmed,
		Message: fmt.Sprintf("%s changes remote state and was not confirmed", operation),
	}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The service did not respond in time",
	}
}

// ServiceError is a non-success reply from the remote service. The adapter
// passes it through unchanged.
type ServiceError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	code := e.Code
	if code == "" {
		code = ErrService
	}
	if e.Message == "" {
		return fmt.Sprintf("%s: service returned status %d", code, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (status %d)", code, e.Message, e.StatusCode)
}

// InvocationError pairs a failure with the invocation that produced it so the
// shell can render a uniform diagnostic and carry on with the next item.
type InvocationError struct {
	Invocation *Invocation
	Err        error
}

// Error implements the error interface.
func (e *InvocationError) Error() string {
	if e.Invocation == nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s [%s]: %v", e.Invocation.Operation, e.Invocation.ID, e.Err)
}

// Unwrap returns the original error.
func (e *InvocationError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the envelope code for err, SERVICE_ERROR for service
// replies, BACKEND_TIMEOUT for timeouts and INTERNAL_ERROR for anything else.
func ErrorCode(err error) string {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return ErrService
	}
	if IsTimeout(err) {
		return ErrBackendTimeout
	}
	return ErrInternalError
}

// IsTimeout reports whether any error in err's chain reports a timeout, as
// *url.Error and net.Error do when a deadline passes.
func IsTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// EnvelopeFor returns the envelope rendered for err. Service replies keep
// the service's own code when it sent one.
func EnvelopeFor(err error) *ErrorEnvelope {
	if err == nil {
		return nil
	}
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	var se *ServiceError
	if errors.As(err, &se) {
		msg := se.Message
		if msg == "" {
			msg = fmt.Sprintf("service returned status %d", se.StatusCode)
		}
		code := ErrService
		if se.Code != "" {
			code = se.Code
		}
		return &ErrorEnvelope{Code: code, Message: msg, Cause: err}
	}
	if IsTimeout(err) {
		env := NewBackendTimeoutError()
		env.Cause = err
		return env
	}
	return &ErrorEnvelope{Code: ErrInternalError, Message: err.Error(), Cause: err}
}

// IsCancelled reports whether err is a CANCELLED outcome.
func IsCancelled(err error) bool {
	return ErrorCode(err) == ErrCancelled
}

// IsConfigurationError reports whether err is a CONFIGURATION_ERROR.
func IsConfigurationError(err error) bool {
	return ErrorCode(err) == ErrConfiguration
}
