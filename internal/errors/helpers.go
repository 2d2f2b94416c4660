package errors

import (
	"context"
	"fmt"
	"net/http"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
	sourceAppKey contextKey = "source_app"
)

// ContextWithRequestID stores a request identifier for later error enrichment.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ContextWithTraceID stores a trace identifier for later error enrichment.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// ContextWithSourceApp stores the source application of the event being handled.
func ContextWithSourceApp(ctx context.Context, sourceApp string) context.Context {
	return context.WithValue(ctx, sourceAppKey, sourceApp)
}

// RequestIDFromContext returns the request identifier, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewStagingError creates an error for a failed staging area operation.
func NewStagingError(operation, key string, err error) *AppError {
	return Wrap(err, ErrCodeStaging, fmt.Sprintf("staging %s failed", operation)).
		WithContext("operation", operation).
		WithContext("staging_key", key).
		WithUserMessage("Staging operation failed")
}

// NewFilteredError marks an event that was dropped on purpose.
func NewFilteredError(reason string, cause error) *AppError {
	return Wrap(cause, ErrCodeFiltered, "event filtered").
		WithContext("reason", reason).
		WithUserMessage("Event ignored")
}

// NewQueueFullError signals that the serialized ingest queue cannot accept more work.
func NewQueueFullError(capacity int) *AppError {
	appErr := New(ErrCodeQueueFull, "ingest queue is full").
		WithContext("capacity", capacity).
		WithUserMessage("Too many pending events, please retry")
	appErr.Retryable = true
	return appErr
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit int, window string) *AppError {
	return New(ErrCodeRateLimit, "rate limit exceeded").
		WithContext("limit", limit).
		WithContext("window", window).
		WithUserMessage("Too many requests, please try again later")
}

// Context helpers

// FromContext extracts error context from a context.Context if present
func FromContext(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}

	errorCtx := make(map[string]interface{})

	if requestID := ctx.Value(requestIDKey); requestID != nil {
		errorCtx["request_id"] = requestID
	}
	if traceID := ctx.Value(traceIDKey); traceID != nil {
		errorCtx["trace_id"] = traceID
	}
	if sourceApp := ctx.Value(sourceAppKey); sourceApp != nil {
		errorCtx["source_app"] = sourceApp
	}

	return errorCtx
}

// WithContextFromRequest adds request context to an error
func WithContextFromRequest(err *AppError, ctx context.Context) *AppError {
	if err == nil || ctx == nil {
		return err
	}

	for k, v := range FromContext(ctx) {
		err = err.WithContext(k, v)
	}

	return err
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeRateLimit, ErrCodeQueueFull:
		return http.StatusTooManyRequests
	case ErrCodeFiltered:
		return http.StatusAccepted
	case ErrCodeListenerDisabled, ErrCodeShuttingDown,
		ErrCodeDatabaseConnection, ErrCodeDatabaseQuery, ErrCodeDatabaseMigration, ErrCodeStaging:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the standardized HTTP error body
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// sensitiveContextKeys never leave the process in an HTTP response.
var sensitiveContextKeys = map[string]bool{
	"value":       true,
	"sender":      true,
	"body":        true,
	"staging_key": true,
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	if len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			if !sensitiveContextKeys[k] {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}

	return response
}

// Chain multiple errors together for complex operations
func Chain(errors ...*AppError) *AppError {
	if len(errors) == 0 {
		return nil
	}
	if len(errors) == 1 {
		return errors[0]
	}

	primary := errors[0]
	var messages []string
	var allContext = make(map[string]interface{})

	for i, err := range errors {
		if i == 0 {
			messages = append(messages, err.Message)
		} else {
			messages = append(messages, fmt.Sprintf("(%d) %s", i+1, err.Message))
		}

		for k, v := range err.Context {
			key := k
			if i > 0 {
				key = fmt.Sprintf("%s_%d", k, i+1)
			}
			allContext[key] = v
		}
	}

	return &AppError{
		Code:        primary.Code,
		Message:     fmt.Sprintf("multiple errors: %v", messages),
		Cause:       primary.Cause,
		Context:     allContext,
		Retryable:   primary.Retryable,
		UserMessage: primary.UserMessage,
	}
}
