package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger()

	require.NotNil(t, logger.Logger)
	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok, "Logger should use JSON formatter")
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)

	err := NewStagingError("remove", "pending.delete.k", errors.New("locked"))
	logger.LogError(err, "Failed to remove staged entry", logrus.Fields{"seq": 7})

	entry := decodeLine(t, &buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "STAGING", entry["error_code"])
	assert.Equal(t, "remove", entry["operation"])
	assert.Equal(t, float64(7), entry["seq"])
	assert.Equal(t, "Failed to remove staged entry", entry["msg"])
	assert.NotEqual(t, "pending.delete.k", entry["staging_key"])
}

func TestLogger_LogRetryableError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)

	logger.LogRetryableError(NewQueueFullError(8), "Queue saturated")
	assert.Equal(t, "warning", decodeLine(t, &buf)["level"])

	buf.Reset()
	logger.LogRetryableError(New(ErrCodeDatabaseMigration, "bad schema"), "Migration failed")
	assert.Equal(t, "error", decodeLine(t, &buf)["level"])
}

func TestLogger_WithError_PlainError(t *testing.T) {
	var buf bytes.Buffer
	logger := WrapLogger(logrus.New())
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(&buf)

	logger.WithError(errors.New("boom")).Info("handled")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "boom", entry["error"])
	assert.NotContains(t, entry, "error_code")
}
