package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"statushub/internal/constants"
	"statushub/internal/database"
	apperrors "statushub/internal/errors"
	"statushub/internal/metrics"
	"statushub/internal/models"
	"statushub/internal/staging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Pending(ctx context.Context, limit int) ([]*models.PendingEntry, []staging.Malformed, error) {
	args := m.Called(ctx, limit)
	entries, _ := args.Get(0).([]*models.PendingEntry)
	malformed, _ := args.Get(1).([]staging.Malformed)
	return entries, malformed, args.Error(2)
}

func (m *mockQueue) Commit(ctx context.Context, entry *models.PendingEntry, apply func(w database.MessageWriter) error) error {
	args := m.Called(ctx, entry, apply)
	return args.Error(0)
}

func (m *mockQueue) Remove(ctx context.Context, stagingKey string) error {
	args := m.Called(ctx, stagingKey)
	return args.Error(0)
}

// acceptingWriter inserts everything and deletes nothing.
type acceptingWriter struct{}

func (acceptingWriter) InsertIfAbsent(context.Context, *models.MessageRecord) (bool, error) {
	return true, nil
}

func (acceptingWriter) MarkDeleted(context.Context, string, string) (int64, error) {
	return 0, nil
}

func stage(t *testing.T, p *pipeline, key, sender string, kind models.EventKind, lines ...string) {
	t.Helper()
	_, err := staging.New(p.db, quietLogger()).Stage(context.Background(), key, sender, lines, constants.WhatsAppPackage, kind)
	require.NoError(t, err)
}

func TestCommitter_DrainIsIdempotent(t *testing.T) {
	p := newPipeline(t, constants.CommitModeDeferred)
	ctx := context.Background()

	stage(t, p, "k1", "Bob", models.EventKindNew, "hey", "there")
	result, err := p.committer.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Committed: 1, RowsChanged: 2}, result)
	assert.Equal(t, 1, p.consumer.Count())

	// A re-run after a crash sees the same entry staged again.
	stage(t, p, "k1", "Bob", models.EventKindNew, "hey", "there")
	result, err = p.committer.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Committed: 1}, result)
	assert.Equal(t, 1, p.consumer.Count())

	assert.Len(t, p.rows(t), 2)
	pending, err := p.db.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestCommitter_DrainAppliesInStagingOrder(t *testing.T) {
	p := newPipeline(t, constants.CommitModeDeferred)
	ctx := context.Background()

	stage(t, p, "k1", "Alice", models.EventKindNew, "hi")
	stage(t, p, "k2", "Alice", models.EventKindNew, "bye")
	stage(t, p, "k3", "Alice", models.EventKindDelete, "This message was deleted")

	result, err := p.committer.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Committed)
	assert.Equal(t, int64(3), result.RowsChanged)

	rows := p.rows(t)
	require.Len(t, rows, 2)
	assert.Equal(t, "hi", rows[0].Body)
	assert.False(t, rows[0].IsDeleted)
	assert.Equal(t, "bye", rows[1].Body)
	assert.True(t, rows[1].IsDeleted)
}

func TestCommitter_SameNotificationKeyDrainsEveryEntry(t *testing.T) {
	p := newPipeline(t, constants.CommitModeDeferred)
	ctx := context.Background()
	for _, body := range []string{"a", "b"} {
		_, err := p.db.InsertIfAbsent(ctx, models.NewMessageRecord("Bob", body, constants.WhatsAppPackage, "kc"))
		require.NoError(t, err)
	}

	stage(t, p, "kc", "Bob", models.EventKindNew, "hey")
	stage(t, p, "kc", "Bob", models.EventKindDelete, "This message was deleted")
	stage(t, p, "kc", "Bob", models.EventKindDelete, "This message was deleted")
	stage(t, p, "kc", "Bob", models.EventKindNew, "how are you")

	result, err := p.committer.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Committed: 4, RowsChanged: 4}, result)

	assert.Equal(t, []rowState{
		{Sender: "Bob", Body: "a"},
		{Sender: "Bob", Body: "b", Deleted: true},
		{Sender: "Bob", Body: "hey", Deleted: true},
		{Sender: "Bob", Body: "how are you"},
	}, p.states(t))
}

func TestCommitter_CountsOnlyCommittedMutations(t *testing.T) {
	const app = "org.example.counted"
	inserted := func() uint64 {
		return metrics.GetRegistry().CounterValue(metrics.MessagesInserted, map[string]string{"source_app": app})
	}
	before := inserted()

	logger := quietLogger()
	queue := &mockQueue{}
	c := NewCommitter(CommitterConfig{
		Queue:    queue,
		Worker:   NewWorker(4, logger),
		Notifier: NewNotifier(logger),
		Logger:   logger,
	})

	retried := &models.PendingEntry{StagingKey: "pending.new.r#1", NotificationKey: "r", Sender: "Bob", Body: "x", SourceApp: app, Kind: models.EventKindNew}
	rolledBack := &models.PendingEntry{StagingKey: "pending.new.f#1", NotificationKey: "f", Sender: "Bob", Body: "y", SourceApp: app, Kind: models.EventKindNew}

	queue.On("Pending", mock.Anything, constants.DefaultDrainBatchSize).
		Return([]*models.PendingEntry{retried, rolledBack}, nil, nil).Once()
	// A busy retry runs the transaction body twice before it commits.
	queue.On("Commit", mock.Anything, retried, mock.Anything).
		Run(func(args mock.Arguments) {
			apply := args.Get(2).(func(w database.MessageWriter) error)
			require.NoError(t, apply(acceptingWriter{}))
			require.NoError(t, apply(acceptingWriter{}))
		}).
		Return(nil).Once()
	// The body succeeds but the transaction never commits.
	queue.On("Commit", mock.Anything, rolledBack, mock.Anything).
		Run(func(args mock.Arguments) {
			apply := args.Get(2).(func(w database.MessageWriter) error)
			require.NoError(t, apply(acceptingWriter{}))
		}).
		Return(errors.New("database is locked")).Once()

	result, err := c.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Committed: 1, Failed: 1, RowsChanged: 1}, result)
	assert.Equal(t, before+1, inserted())
	queue.AssertExpectations(t)
}

func TestCommitter_EmptyDrainDoesNotSignal(t *testing.T) {
	p := newPipeline(t, constants.CommitModeDeferred)

	result, err := p.committer.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{}, result)
	assert.Zero(t, p.consumer.Count())
}

func TestCommitter_FailureIsIsolatedPerEntry(t *testing.T) {
	logger := quietLogger()
	queue := &mockQueue{}
	notifier := NewNotifier(logger)
	consumer := &countingConsumer{}
	notifier.Attach(consumer)

	c := NewCommitter(CommitterConfig{
		Queue:    queue,
		Worker:   NewWorker(4, logger),
		Notifier: notifier,
		Logger:   logger,
	})

	broken := &models.PendingEntry{StagingKey: "pending.new.a", NotificationKey: "a", Sender: "Bob", Body: "x", SourceApp: "com.whatsapp", Kind: models.EventKindNew}
	healthy := &models.PendingEntry{StagingKey: "pending.new.b", NotificationKey: "b", Sender: "Bob", Body: "y", SourceApp: "com.whatsapp", Kind: models.EventKindNew}

	queue.On("Pending", mock.Anything, constants.DefaultDrainBatchSize).
		Return([]*models.PendingEntry{broken, healthy}, []staging.Malformed{{StagingKey: "pending.new.bad", Err: errors.New("bad")}}, nil).Once()
	queue.On("Remove", mock.Anything, "pending.new.bad").Return(nil).Once()
	queue.On("Commit", mock.Anything, broken, mock.Anything).
		Return(apperrors.NewStagingError("commit", broken.StagingKey, errors.New("database is locked"))).Once()
	queue.On("Commit", mock.Anything, healthy, mock.Anything).
		Run(func(args mock.Arguments) {
			apply := args.Get(2).(func(w database.MessageWriter) error)
			require.NoError(t, apply(acceptingWriter{}))
		}).
		Return(nil).Once()

	result, err := c.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Committed: 1, Failed: 1, Malformed: 1, RowsChanged: 1}, result)
	assert.Equal(t, 1, consumer.Count())
	queue.AssertExpectations(t)
}

func TestCommitter_ListFailure(t *testing.T) {
	logger := quietLogger()
	queue := &mockQueue{}
	queue.On("Pending", mock.Anything, mock.Anything).Return(nil, nil, errors.New("database is locked")).Once()

	c := NewCommitter(CommitterConfig{
		Queue:    queue,
		Worker:   NewWorker(4, logger),
		Notifier: NewNotifier(logger),
		Logger:   logger,
	})

	_, err := c.Drain(context.Background())
	assert.Error(t, err)
}

func TestCommitter_AttachTriggersDrain(t *testing.T) {
	p := newPipeline(t, constants.CommitModeDeferred)
	require.True(t, p.notifier.Detach(p.consumer))
	p.notifier.OnAttach(p.committer.RequestDrain)

	stage(t, p, "k1", "Bob", models.EventKindNew, "left over")

	consumer := &countingConsumer{}
	p.notifier.Attach(consumer)

	require.Eventually(t, func() bool { return consumer.Count() == 1 }, waitFor, tick)
	rows := p.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "left over", rows[0].Body)
}

func TestCommitter_StartDrainsOrphans(t *testing.T) {
	p := newPipeline(t, constants.CommitModeDeferred)
	stage(t, p, "k1", "Bob", models.EventKindNew, "from last run")

	require.NoError(t, p.committer.Start())
	require.Eventually(t, func() bool { return p.consumer.Count() == 1 }, waitFor, tick)
	assert.Len(t, p.rows(t), 1)
}

func TestCommitter_InvalidSchedule(t *testing.T) {
	logger := quietLogger()
	c := NewCommitter(CommitterConfig{
		Queue:           &mockQueue{},
		Worker:          NewWorker(4, logger),
		Notifier:        NewNotifier(logger),
		RedriveSchedule: "every tuesday",
		Logger:          logger,
	})

	err := c.Start()
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidConfig, apperrors.GetCode(err))
}

func TestCommitter_ScheduleDrainCoalesces(t *testing.T) {
	p := newPipeline(t, constants.CommitModeDeferred)
	stage(t, p, "k1", "Bob", models.EventKindNew, "hey")

	for i := 0; i < 5; i++ {
		p.committer.ScheduleDrain()
	}

	require.Eventually(t, func() bool { return p.consumer.Count() == 1 }, waitFor, tick)
	p.flush(t)
	assert.Equal(t, 1, p.consumer.Count())
}
