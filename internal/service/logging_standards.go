package service

// Logging Standards for statushub
//
// This file defines standard field names, log levels, and patterns
// to ensure consistent logging across the application.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldNotificationKey = "notification_key"
	LogFieldStagingKey      = "staging_key"
	LogFieldSourceApp       = "source_app"
	LogFieldSender          = "sender"
	LogFieldBody            = "body"
	LogFieldRequestID       = "request_id"
	LogFieldSessionID       = "session_id"

	// Service and operation fields
	LogFieldComponent = "component"
	LogFieldOperation = "operation"
	LogFieldMode      = "commit_mode"
	LogFieldJob       = "job"

	// Event fields
	LogFieldKind      = "kind"
	LogFieldShape     = "shape"
	LogFieldLineCount = "line_count"
	LogFieldVerbose   = "verbose"

	// Drain results
	LogFieldCommitted = "committed"
	LogFieldFailed    = "failed"
	LogFieldMalformed = "malformed"
	LogFieldChanged   = "rows_changed"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldDelay    = "delay_ms"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Log Level Usage Guidelines
//
// DEBUG: per-line classification, staging writes, duplicate absorbs, empty drains.
//
// INFO: startup and shutdown, consumer attach and detach, non-empty drains,
// deletions that found no row to mark.
//
// WARN: store failures on a single event, malformed staged rows, drain
// failures that will be retried, more than one row affected by a deletion.
//
// ERROR: failures that stop a component, such as the worker or the committer
// being unable to start.
//
// FATAL: only in main, when the store cannot be opened or migrated.

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Completed operations: "[Operation] completed"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"

// Example Usage:
//
// logger.WithFields(logrus.Fields{
//     LogFieldComponent:       "listener",
//     LogFieldNotificationKey: privacy.MaskNotificationKey(key),
//     LogFieldLineCount:       len(lines),
// }).Debug("Processing notification")
