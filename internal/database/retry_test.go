package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableDBOperationNoReturn_Success(t *testing.T) {
	callCount := 0

	err := retryableDBOperationNoReturn(context.Background(), func() error {
		callCount++
		return nil
	}, "insert message")

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount)
}

func TestRetryableDBOperationNoReturn_SuccessAfterBusy(t *testing.T) {
	callCount := 0

	err := retryableDBOperationNoReturn(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("database is locked")
		}
		return nil
	}, "insert message")

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestRetryableDBOperationNoReturn_TriggerAbortNotRetried(t *testing.T) {
	callCount := 0

	err := retryableDBOperationNoReturn(context.Background(), func() error {
		callCount++
		return errors.New("is_deleted cannot be reverted")
	}, "update message")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "update message failed (non-retryable)")
	assert.Equal(t, 1, callCount)
}

func TestRetryableDBOperationNoReturn_MaxAttemptsReached(t *testing.T) {
	callCount := 0
	var callTimes []time.Time

	err := retryableDBOperationNoReturn(context.Background(), func() error {
		callCount++
		callTimes = append(callTimes, time.Now())
		return errors.New("database is locked")
	}, "mark deleted")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark deleted failed after 3 attempts")
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, 3, callCount)
	require.Len(t, callTimes, 3)
	assert.GreaterOrEqual(t, callTimes[2].Sub(callTimes[1]), callTimes[1].Sub(callTimes[0])/2)
}

func TestRetryableDBOperationNoReturn_ContextCanceledBeforeCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	callCount := 0
	err := retryableDBOperationNoReturn(ctx, func() error {
		callCount++
		return nil
	}, "insert message")

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, callCount)
}

func TestRetryableDBOperationNoReturn_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	err := retryableDBOperationNoReturn(ctx, func() error {
		callCount++
		cancel()
		return errors.New("database is locked")
	}, "insert message")

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, callCount)
}

func TestRetryableDBOperation_ReturnsValue(t *testing.T) {
	callCount := 0

	n, err := retryableDBOperation(context.Background(), func() (int64, error) {
		callCount++
		if callCount == 1 {
			return 0, errors.New("SQLITE_BUSY")
		}
		return 1, nil
	}, "mark deleted")

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 2, callCount)
}

func TestIsRetryableDBError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked"), true},
		{"table locked", errors.New("database table is locked: messages"), true},
		{"busy", errors.New("SQLITE_BUSY"), true},
		{"disk I/O error", errors.New("disk I/O error"), true},
		{"context canceled", context.Canceled, false},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), false},
		{"unique constraint", errors.New("UNIQUE constraint failed: messages.sender"), false},
		{"no such table", errors.New("no such table: pending_writes"), false},
		{"case sensitive", errors.New("Database Is Locked"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryableDBError(tt.err))
		})
	}
}
