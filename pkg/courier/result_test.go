package courier_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tournevent/courier/pkg/courier"
)

func TestResult_OK(t *testing.T) {
	res := courier.OKOf(42)

	assert.True(t, res.Success)
	assert.Equal(t, 42, res.Value)
	assert.NoError(t, res.AsError())
	assert.False(t, res.Retryable())
}

func TestResult_Fail(t *testing.T) {
	res := courier.FailOf[string]("route closed")

	assert.False(t, res.Success)
	assert.Equal(t, courier.FailureBusiness, res.Kind)
	assert.Empty(t, res.Value)
	assert.EqualError(t, res.AsError(), "route closed")
}

func TestFromError_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want courier.FailureKind
	}{
		{"nil", nil, courier.FailureNone},
		{"cancelled", context.Canceled, courier.FailureCancelled},
		{"wrapped cancelled", fmt.Errorf("call: %w", context.Canceled), courier.FailureCancelled},
		{"deadline", context.DeadlineExceeded, courier.FailureTransport},
		{"missing credentials", courier.ErrMissingCredentials, courier.FailureValidation},
		{"malformed", courier.ErrMalformedResponse, courier.FailureTransport},
		{"courier error kind wins", courier.NewCourierError("x", "C", "m").WithKind(courier.FailureValidation), courier.FailureValidation},
		{"plain error", errors.New("boom"), courier.FailureBusiness},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, courier.Classify(tt.err))
			res := courier.FromError(tt.err)
			assert.Equal(t, tt.err == nil, res.Success)
			assert.Equal(t, tt.want, res.Kind)
		})
	}
}

func TestFromError_UsesCourierErrorMessage(t *testing.T) {
	err := courier.NewCourierError("delhivery", "HTTP_400", "Invalid waybill").WithCause(courier.ErrInvalidRequest)

	res := courier.FromErrorOf[[]byte](err)

	assert.Equal(t, "Invalid waybill", res.Message)
	assert.ErrorIs(t, res.AsError(), courier.ErrInvalidRequest)
}

func TestResult_RetryableOnlyForTransport(t *testing.T) {
	assert.True(t, courier.Failf(courier.FailureTransport, "timeout", nil).Retryable())
	assert.False(t, courier.Failf(courier.FailureBusiness, "rejected", nil).Retryable())
	assert.False(t, courier.Failf(courier.FailureCancelled, "cancelled", nil).Retryable())
}
