package service

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "statushub/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_RunsInSubmissionOrder(t *testing.T) {
	w := NewWorker(16, quietLogger())
	w.Start(context.Background())
	defer w.Stop()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, w.Submit("record", func(context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestWorker_QueueFull(t *testing.T) {
	w := NewWorker(1, quietLogger())
	// Not started: the single slot fills and stays full.
	require.NoError(t, w.Submit("first", func(context.Context) {}))

	err := w.Submit("second", func(context.Context) {})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeQueueFull, apperrors.GetCode(err))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, 1, w.Pending())
}

func TestWorker_StopRunsQueuedJobsThenRefuses(t *testing.T) {
	w := NewWorker(8, quietLogger())
	ran := 0
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Submit("count", func(context.Context) { ran++ }))
	}
	w.Start(context.Background())
	w.Stop()

	assert.Equal(t, 3, ran)
	err := w.Submit("late", func(context.Context) {})
	assert.Equal(t, apperrors.ErrCodeShuttingDown, apperrors.GetCode(err))
	w.Stop()
}

func TestWorker_RecoversFromPanic(t *testing.T) {
	w := NewWorker(4, quietLogger())
	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, w.Submit("boom", func(context.Context) { panic("boom") }))
	ran := false
	require.NoError(t, w.Submit("after", func(context.Context) { ran = true }))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Flush(ctx))
	assert.True(t, ran)
}
