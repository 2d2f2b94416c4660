package errors

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStagingError(t *testing.T) {
	cause := errors.New("constraint failed")
	err := NewStagingError("stage", "pending.new.k1", cause)

	assert.Equal(t, ErrCodeStaging, err.Code)
	assert.Equal(t, "pending.new.k1", err.Context["staging_key"])
	assert.Equal(t, "stage", err.Context["operation"])
	assert.True(t, errors.Is(err, cause))
}

func TestNewQueueFullError(t *testing.T) {
	err := NewQueueFullError(16)

	assert.True(t, err.Retryable)
	assert.Equal(t, 16, err.Context["capacity"])
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatusCode(err))
}

func TestNewFilteredError(t *testing.T) {
	err := NewFilteredError("source_not_allowed", errors.New("not allowed"))

	assert.Equal(t, ErrCodeFiltered, err.Code)
	assert.Equal(t, http.StatusAccepted, HTTPStatusCode(err))
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrCodeValidationFailed, http.StatusBadRequest},
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
		{ErrCodeTimeout, http.StatusRequestTimeout},
		{ErrCodeListenerDisabled, http.StatusServiceUnavailable},
		{ErrCodeDatabaseQuery, http.StatusServiceUnavailable},
		{ErrCodeStaging, http.StatusServiceUnavailable},
		{ErrCodeInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatusCode(New(tt.code, "x")))
		})
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusCode(errors.New("plain")))
}

func TestToHTTPResponse_HidesSensitiveContext(t *testing.T) {
	err := NewValidationError("sender", "Alice", "must not be empty").
		WithContext("body", "secret text")

	resp := ToHTTPResponse(err, "req-1")

	assert.Equal(t, ErrCodeValidationFailed, resp.Error.Code)
	assert.Equal(t, "req-1", resp.RequestID)
	ctx, ok := resp.Error.Context.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "sender", ctx["field"])
	assert.NotContains(t, ctx, "value")
	assert.NotContains(t, ctx, "body")
}

func TestToHTTPResponse_PlainError(t *testing.T) {
	resp := ToHTTPResponse(errors.New("boom"), "")

	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
	assert.Equal(t, "An internal error occurred", resp.Error.Message)
	assert.Nil(t, resp.Error.Context)
}

func TestContextHelpers(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-9")
	ctx = ContextWithTraceID(ctx, "trace-1")
	ctx = ContextWithSourceApp(ctx, "com.whatsapp")

	assert.Equal(t, "req-9", RequestIDFromContext(ctx))
	assert.Equal(t, "", RequestIDFromContext(context.Background()))

	err := WithContextFromRequest(New(ErrCodeInternalError, "x"), ctx)
	assert.Equal(t, "req-9", err.Context["request_id"])
	assert.Equal(t, "trace-1", err.Context["trace_id"])
	assert.Equal(t, "com.whatsapp", err.Context["source_app"])
}

func TestChain(t *testing.T) {
	assert.Nil(t, Chain())

	single := New(ErrCodeStaging, "one")
	assert.Same(t, single, Chain(single))

	chained := Chain(
		New(ErrCodeStaging, "first").WithContext("staging_key", "a"),
		New(ErrCodeDatabaseQuery, "second").WithContext("staging_key", "b"),
	)
	assert.Equal(t, ErrCodeStaging, chained.Code)
	assert.Equal(t, "a", chained.Context["staging_key"])
	assert.Equal(t, "b", chained.Context["staging_key_2"])
	assert.Contains(t, chained.Message, "(2) second")
}
