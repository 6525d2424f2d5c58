package courier

import (
	"errors"
	"fmt"
)

// CourierError represents an error reported by, or while talking to, a courier.
type CourierError struct {
	Provider   string
	Code       string
	Message    string
	StatusCode int
	Kind       FailureKind
	Retryable  bool
	Cause      error
}

// Error implements the error interface.
func (e *CourierError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error (%s): %s: %v", e.Provider, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Provider, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *CourierError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for CourierError.
func (e *CourierError) Is(target error) bool {
	t, ok := target.(*CourierError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewCourierError creates a new business CourierError.
func NewCourierError(provider, code, message string) *CourierError {
	return &CourierError{
		Provider: provider,
		Code:     code,
		Message:  message,
		Kind:     FailureBusiness,
	}
}

// WithCause adds a cause to the error.
func (e *CourierError) WithCause(err error) *CourierError {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error.
func (e *CourierError) WithStatusCode(code int) *CourierError {
	e.StatusCode = code
	return e
}

// WithKind sets the failure kind. Transport failures are retryable.
func (e *CourierError) WithKind(kind FailureKind) *CourierError {
	e.Kind = kind
	e.Retryable = kind == FailureTransport
	return e
}

// Sentinel errors for common courier scenarios.
var (
	// ErrUnserviceable indicates the origin or destination postal code is not served.
	ErrUnserviceable = errors.New("route not serviceable")

	// ErrCODUnsupported indicates COD was requested on a prepaid-only route.
	ErrCODUnsupported = errors.New("cod not supported on route")

	// ErrNoAWB indicates the provider accepted the request but returned no tracking number.
	ErrNoAWB = errors.New("no tracking number returned")

	// ErrNoTracking indicates the provider reported no tracking entries.
	ErrNoTracking = errors.New("no tracking entries")

	// ErrMissingCredentials indicates required credential fields are empty.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrInvalidRequest indicates required request fields are missing.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMalformedResponse indicates the provider response could not be decoded.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrServiceUnavailable indicates the provider is temporarily unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrCancellationNotAllowed indicates the provider refused the cancellation.
	ErrCancellationNotAllowed = errors.New("cancellation not allowed")

	// ErrProviderNotFound indicates the requested provider is not registered.
	ErrProviderNotFound = errors.New("provider not found")
)

// IsRetryable returns true if the error is transient.
func IsRetryable(err error) bool {
	var ce *CourierError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return Classify(err) == FailureTransport
}
