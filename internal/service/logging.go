package service

import (
	"context"
	"strings"

	"statushub/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose returns a context carrying the verbose logging flag.
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// LogWithContext creates a logger entry with optional sensitive information
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	return logger.WithField(LogFieldVerbose, IsVerboseLogging(ctx))
}

// LogLineProcessing logs one classified line. Sender and text are only
// written in clear when verbose logging is on.
func LogLineProcessing(ctx context.Context, logger *logrus.Logger, sourceApp, notificationKey, sender, text, kind string) {
	fields := logrus.Fields{
		LogFieldSourceApp: sourceApp,
		LogFieldKind:      kind,
	}
	if IsVerboseLogging(ctx) {
		fields[LogFieldNotificationKey] = notificationKey
		fields[LogFieldSender] = sender
		fields[LogFieldBody] = text
	} else {
		fields[LogFieldNotificationKey] = privacy.MaskNotificationKey(notificationKey)
		fields[LogFieldSender] = privacy.MaskSender(sender)
		fields[LogFieldBody] = privacy.MaskBody(text)
	}
	logger.WithFields(fields).Debug("Classified notification line")
}

// ConversationFields returns the log fields identifying a conversation,
// masked unless verbose logging is on.
func ConversationFields(ctx context.Context, sender, sourceApp string) logrus.Fields {
	if IsVerboseLogging(ctx) {
		return logrus.Fields{LogFieldSender: sender, LogFieldSourceApp: sourceApp}
	}
	return logrus.Fields{LogFieldSender: privacy.MaskSender(sender), LogFieldSourceApp: sourceApp}
}

// LogDrainSummary logs the outcome of a drain run.
func LogDrainSummary(logger *logrus.Logger, result DrainResult) {
	entry := logger.WithFields(logrus.Fields{
		LogFieldCommitted: result.Committed,
		LogFieldFailed:    result.Failed,
		LogFieldMalformed: result.Malformed,
		LogFieldChanged:   result.RowsChanged,
	})
	switch {
	case result.Failed > 0 || result.Malformed > 0:
		entry.Warn("Drain completed with errors")
	case result.Committed > 0:
		entry.Info("Drain completed")
	default:
		entry.Debug("Drain found nothing to commit")
	}
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
