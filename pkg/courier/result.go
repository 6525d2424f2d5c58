package courier

import (
	"context"
	"errors"
	"net"
)

// FailureKind classifies a failed result so callers can decide whether a
// retry makes sense.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureBusiness   FailureKind = "business"   // unserviceable route, rejected payload, no AWB
	FailureTransport  FailureKind = "transport"  // timeout, connection error, malformed body
	FailureValidation FailureKind = "validation" // missing credentials or request fields
	FailureCancelled  FailureKind = "cancelled"  // caller cancelled the operation
)

// Result is the outcome of a courier operation that carries no value.
type Result struct {
	Success bool
	Kind    FailureKind
	Message string
	Err     error
}

// OK returns a successful result.
func OK() Result {
	return Result{Success: true}
}

// Fail returns a business failure with the given message.
func Fail(msg string) Result {
	return Result{Kind: FailureBusiness, Message: msg}
}

// Failf returns a failure of the given kind.
func Failf(kind FailureKind, msg string, err error) Result {
	return Result{Kind: kind, Message: msg, Err: err}
}

// FromError converts an error raised at the adapter boundary into a failure
// result, classifying it as business, transport or cancelled.
func FromError(err error) Result {
	if err == nil {
		return OK()
	}
	msg := err.Error()
	var ce *CourierError
	if errors.As(err, &ce) && ce.Message != "" {
		msg = ce.Message
	}
	return Result{Kind: Classify(err), Message: msg, Err: err}
}

// AsError returns the failure as an error, or nil on success.
func (r Result) AsError() error {
	if r.Success {
		return nil
	}
	if r.Err != nil {
		return r.Err
	}
	return errors.New(r.Message)
}

// Retryable reports whether the failure is transient.
func (r Result) Retryable() bool {
	return !r.Success && r.Kind == FailureTransport
}

// ResultOf is a Result carrying a value on success.
type ResultOf[T any] struct {
	Result
	Value T
}

// OKOf returns a successful result carrying v.
func OKOf[T any](v T) ResultOf[T] {
	return ResultOf[T]{Result: OK(), Value: v}
}

// FailOf returns a business failure with no value.
func FailOf[T any](msg string) ResultOf[T] {
	return ResultOf[T]{Result: Fail(msg)}
}

// FailOfKind returns a failure of the given kind with no value.
func FailOfKind[T any](kind FailureKind, msg string, err error) ResultOf[T] {
	return ResultOf[T]{Result: Failf(kind, msg, err)}
}

// FromErrorOf converts err into a failure result with no value.
func FromErrorOf[T any](err error) ResultOf[T] {
	return ResultOf[T]{Result: FromError(err)}
}

// Classify maps an error to a failure kind.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, context.Canceled) {
		return FailureCancelled
	}
	var ce *CourierError
	if errors.As(err, &ce) && ce.Kind != "" {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransport
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransport
	}
	if errors.Is(err, ErrMissingCredentials) || errors.Is(err, ErrInvalidRequest) {
		return FailureValidation
	}
	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrServiceUnavailable) {
		return FailureTransport
	}
	return FailureBusiness
}
