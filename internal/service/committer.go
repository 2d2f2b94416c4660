package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"statushub/internal/constants"
	"statushub/internal/database"
	apperrors "statushub/internal/errors"
	"statushub/internal/metrics"
	"statushub/internal/models"
	"statushub/internal/retry"
	"statushub/internal/staging"
	"statushub/internal/tracing"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// PendingQueue is the staging area the committer drains.
type PendingQueue interface {
	Pending(ctx context.Context, limit int) ([]*models.PendingEntry, []staging.Malformed, error)
	Commit(ctx context.Context, entry *models.PendingEntry, apply func(w database.MessageWriter) error) error
	Remove(ctx context.Context, stagingKey string) error
}

// DrainResult summarizes one drain run.
type DrainResult struct {
	Committed   int
	Failed      int
	Malformed   int
	RowsChanged int64
}

// CommitterConfig wires a Committer.
type CommitterConfig struct {
	Queue           PendingQueue
	Worker          *Worker
	Notifier        *Notifier
	Debounce        time.Duration
	RedriveSchedule string
	BatchSize       int
	Backoff         *retry.Backoff
	Logger          *logrus.Logger
}

// Committer moves staged entries into the message store. Drains run on the
// worker so they are ordered with direct writes. A drain may run any number
// of times for the same entry and converges to the same store state.
type Committer struct {
	queue     PendingQueue
	worker    *Worker
	notifier  *Notifier
	debounce  time.Duration
	schedule  string
	batchSize int
	backoff   *retry.Backoff
	logger    *logrus.Logger

	queued atomic.Bool

	mu          sync.Mutex
	stopped     bool
	debounceTmr *time.Timer
	retryTmr    *time.Timer
	failedRuns  int
	cron        *cron.Cron
}

func NewCommitter(cfg CommitterConfig) *Committer {
	if cfg.Debounce <= 0 {
		cfg.Debounce = time.Duration(constants.DefaultCommitDebounceMs) * time.Millisecond
	}
	if cfg.RedriveSchedule == "" {
		cfg.RedriveSchedule = constants.DefaultRedriveSchedule
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.DefaultDrainBatchSize
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.NewBackoff(retry.DefaultBackoffConfig())
	}
	return &Committer{
		queue:     cfg.Queue,
		worker:    cfg.Worker,
		notifier:  cfg.Notifier,
		debounce:  cfg.Debounce,
		schedule:  cfg.RedriveSchedule,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
		logger:    cfg.Logger,
	}
}

// Start schedules the periodic re-drive and queues a drain for entries
// left over from a previous run.
func (c *Committer) Start() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	scheduler := cron.New(cron.WithParser(parser))
	if _, err := scheduler.AddFunc(c.schedule, c.RequestDrain); err != nil {
		return apperrors.NewConfigError("commit.redrive_schedule", fmt.Sprintf("invalid schedule %q: %v", c.schedule, err))
	}

	c.mu.Lock()
	c.cron = scheduler
	c.stopped = false
	c.mu.Unlock()

	scheduler.Start()
	c.logger.WithFields(logrus.Fields{
		LogFieldComponent: "committer",
		"schedule":        c.schedule,
	}).Info("Starting deferred committer")

	c.RequestDrain()
	return nil
}

// Stop cancels pending timers and the re-drive schedule. Staged entries
// that were not drained stay staged for the next start.
func (c *Committer) Stop() {
	c.mu.Lock()
	c.stopped = true
	if c.debounceTmr != nil {
		c.debounceTmr.Stop()
		c.debounceTmr = nil
	}
	if c.retryTmr != nil {
		c.retryTmr.Stop()
		c.retryTmr = nil
	}
	scheduler := c.cron
	c.cron = nil
	c.mu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	c.logger.WithField(LogFieldComponent, "committer").Info("Deferred committer stopped")
}

// ScheduleDrain requests a drain after the debounce delay. Calls made while
// a delayed drain is already pending are folded into it.
func (c *Committer) ScheduleDrain() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.debounceTmr != nil {
		return
	}
	c.debounceTmr = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		c.debounceTmr = nil
		c.mu.Unlock()
		c.RequestDrain()
	})
}

// RequestDrain queues a drain on the worker unless one is already queued.
func (c *Committer) RequestDrain() {
	if !c.queued.CompareAndSwap(false, true) {
		return
	}
	err := c.worker.Submit("drain", func(ctx context.Context) {
		c.queued.Store(false)
		c.run(ctx)
	})
	if err != nil {
		c.queued.Store(false)
		apperrors.WrapLogger(c.logger).LogWarn(err, "Skipping drain: worker unavailable", logrus.Fields{
			LogFieldComponent: "committer",
		})
	}
}

func (c *Committer) run(ctx context.Context) {
	result, err := c.Drain(ctx)
	if err != nil {
		apperrors.WrapLogger(c.logger).LogWarn(err, "Failed to list staged entries", logrus.Fields{
			LogFieldComponent: "committer",
		})
	}
	LogDrainSummary(c.logger, result)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil && result.Failed == 0 {
		c.failedRuns = 0
		return
	}

	c.failedRuns++
	if c.stopped || c.failedRuns >= c.backoff.MaxAttempts() {
		// The periodic re-drive picks the entries up from here.
		return
	}
	delay := c.backoff.GetNextDelay(c.failedRuns)
	if c.retryTmr != nil {
		c.retryTmr.Stop()
	}
	c.retryTmr = time.AfterFunc(delay, c.RequestDrain)
	c.logger.WithFields(logrus.Fields{
		LogFieldComponent: "committer",
		LogFieldAttempt:   c.failedRuns,
		LogFieldDelay:     delay.Milliseconds(),
	}).Warn(fmt.Sprintf("Retrying drain (attempt %d/%d)", c.failedRuns+1, c.backoff.MaxAttempts()))
}

// Drain commits every staged entry. Each entry is committed and removed
// in one transaction; a failing entry stays staged and does not stop the
// others. Malformed rows are logged and removed. The consumer is signalled
// once when any row changed.
func (c *Committer) Drain(ctx context.Context) (DrainResult, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "committer.drain")
	defer span.End()

	var result DrainResult
	var listErr error
	for {
		entries, malformed, err := c.queue.Pending(ctx, c.batchSize)
		if err != nil {
			tracing.RecordError(ctx, err)
			listErr = err
			break
		}

		for _, m := range malformed {
			result.Malformed++
			metrics.IncrementCounter(metrics.DrainEntries, map[string]string{"outcome": "malformed"})
			apperrors.WrapLogger(c.logger).LogWarn(m.Err, "Discarding malformed staged entry", logrus.Fields{
				LogFieldStagingKey: m.StagingKey,
			})
			if err := c.queue.Remove(ctx, m.StagingKey); err != nil {
				apperrors.WrapLogger(c.logger).LogWarn(err, "Failed to remove malformed staged entry", logrus.Fields{
					LogFieldStagingKey: m.StagingKey,
				})
			}
		}

		batchFailed := 0
		for _, entry := range entries {
			rows, err := c.commitEntry(ctx, entry)
			if err != nil {
				batchFailed++
				metrics.IncrementCounter(metrics.DrainEntries, map[string]string{"outcome": "failed"})
				apperrors.WrapLogger(c.logger).LogWarn(err, "Failed to commit staged entry", logrus.Fields{
					LogFieldStagingKey: entry.StagingKey,
					LogFieldKind:       string(entry.Kind),
				})
				continue
			}
			result.Committed++
			result.RowsChanged += rows
			metrics.IncrementCounter(metrics.DrainEntries, map[string]string{"outcome": "committed"})
		}
		result.Failed += batchFailed

		// Failed entries would head the next batch again.
		if batchFailed > 0 || len(entries)+len(malformed) < c.batchSize {
			break
		}
	}

	if result.RowsChanged > 0 {
		c.notifier.Signal()
	}

	tracing.AddSpanAttributes(ctx,
		tracing.AttrEntryCount.Int(result.Committed),
		tracing.AttrChanged.Int64(result.RowsChanged),
	)
	metrics.IncrementCounter(metrics.DrainRuns, nil)
	metrics.RecordTimer(metrics.DrainDuration, time.Since(start), nil)
	return result, listErr
}

func (c *Committer) commitEntry(ctx context.Context, entry *models.PendingEntry) (int64, error) {
	var outcomes []lineOutcome
	err := c.queue.Commit(ctx, entry, func(w database.MessageWriter) error {
		// A retried transaction starts over.
		outcomes = outcomes[:0]
		for _, text := range entry.Lines() {
			outcome, err := applyLine(ctx, w, entry.NotificationKey, entry.Sender, entry.SourceApp, ClassifiedLine{Text: text, Kind: entry.Kind})
			if err != nil {
				return err
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	var rows int64
	for _, outcome := range outcomes {
		outcome.record()
		rows += outcome.rows
	}
	if rows == 0 && entry.Kind == models.EventKindDelete {
		c.logger.WithField(LogFieldStagingKey, entry.StagingKey).Info("Deletion found no live message to mark")
	}
	return rows, nil
}
