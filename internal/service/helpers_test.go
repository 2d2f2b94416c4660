package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"statushub/internal/constants"
	"statushub/internal/database"
	"statushub/internal/models"
	"statushub/internal/staging"
	"statushub/pkg/notification"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

type countingConsumer struct {
	n atomic.Int32
}

func (c *countingConsumer) Notify() { c.n.Add(1) }

func (c *countingConsumer) Count() int { return int(c.n.Load()) }

func setupStore(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(context.Background(), models.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "statushub.db"),
	}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func flatEvent(t *testing.T, sender, key string, lines ...string) *notification.RawEvent {
	t.Helper()
	title, err := json.Marshal(sender)
	require.NoError(t, err)
	textLines, err := json.Marshal(lines)
	require.NoError(t, err)
	return &notification.RawEvent{
		PackageName: constants.WhatsAppPackage,
		Key:         key,
		Extras: map[string]json.RawMessage{
			notification.ExtraTitle:     title,
			notification.ExtraTextLines: textLines,
		},
	}
}

type pipeline struct {
	db        *database.Database
	worker    *Worker
	notifier  *Notifier
	listener  *Listener
	committer *Committer
	consumer  *countingConsumer
}

func newPipeline(t *testing.T, mode string) *pipeline {
	t.Helper()
	return buildPipeline(t, mode, true)
}

// newManualPipeline never drains on its own: staged events stay until the
// test calls Drain.
func newManualPipeline(t *testing.T, mode string) *pipeline {
	t.Helper()
	return buildPipeline(t, mode, false)
}

func buildPipeline(t *testing.T, mode string, autoDrain bool) *pipeline {
	t.Helper()
	logger := quietLogger()
	db := setupStore(t)

	worker := NewWorker(64, logger)
	worker.Start(context.Background())
	t.Cleanup(worker.Stop)

	notifier := NewNotifier(logger)
	committer := NewCommitter(CommitterConfig{
		Queue:    staging.New(db, logger),
		Worker:   worker,
		Notifier: notifier,
		Debounce: 10 * time.Millisecond,
		Logger:   logger,
	})
	t.Cleanup(committer.Stop)

	var drains DrainScheduler
	if autoDrain {
		drains = committer
	}

	listener := NewListener(ListenerConfig{
		Normalizer: notification.NewNormalizer(constants.DefaultAllowedApps),
		Worker:     worker,
		Store:      db,
		Stager:     staging.New(db, logger),
		Drains:     drains,
		Notifier:   notifier,
		Mode:       mode,
		Enabled:    true,
		Logger:     logger,
	})

	consumer := &countingConsumer{}
	notifier.Attach(consumer)

	return &pipeline{
		db:        db,
		worker:    worker,
		notifier:  notifier,
		listener:  listener,
		committer: committer,
		consumer:  consumer,
	}
}

func (p *pipeline) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.worker.Flush(ctx))
}

func (p *pipeline) rows(t *testing.T) []*models.MessageRecord {
	t.Helper()
	rows, err := p.db.ListMessages(context.Background(), 0, 0, true)
	require.NoError(t, err)
	return rows
}

// rowState is the part of a stored row both commit modes must agree on.
type rowState struct {
	Sender  string
	Body    string
	Deleted bool
}

func (p *pipeline) states(t *testing.T) []rowState {
	t.Helper()
	var out []rowState
	for _, r := range p.rows(t) {
		out = append(out, rowState{Sender: r.Sender, Body: r.Body, Deleted: r.IsDeleted})
	}
	return out
}

// feed posts every event, waits for the worker and, in deferred mode,
// drains once.
func (p *pipeline) feed(t *testing.T, events ...*notification.RawEvent) {
	t.Helper()
	ctx := context.Background()
	for _, ev := range events {
		require.NoError(t, p.listener.OnEvent(ctx, ev))
	}
	p.flush(t)
	if p.listener.Mode() == constants.CommitModeDeferred {
		_, err := p.committer.Drain(ctx)
		require.NoError(t, err)
	}
}
