package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"statushub/internal/constants"
	apperrors "statushub/internal/errors"
	"statushub/internal/metrics"
	"statushub/internal/models"
	"statushub/internal/tracing"
	"statushub/pkg/notification"

	"github.com/sirupsen/logrus"
)

// MessageStore is the durable store mutation surface.
type MessageStore interface {
	InsertIfAbsent(ctx context.Context, record *models.MessageRecord) (bool, error)
	MarkDeleted(ctx context.Context, sender, sourceApp string) (int64, error)
}

// Stager durably records observed events for the deferred committer.
type Stager interface {
	Stage(ctx context.Context, notificationKey, sender string, lines []string, sourceApp string, kind models.EventKind) (*models.PendingEntry, error)
}

// DrainScheduler is told when new entries were staged.
type DrainScheduler interface {
	ScheduleDrain()
}

// ListenerConfig wires a Listener.
type ListenerConfig struct {
	Normalizer *notification.Normalizer
	Worker     *Worker
	Store      MessageStore
	Stager     Stager
	Drains     DrainScheduler
	Notifier   *Notifier
	Mode       string
	Enabled    bool
	Logger     *logrus.Logger
}

// Listener is the ingestion entry point. OnEvent runs on the caller and
// only normalizes; classification and every store access happen on the
// worker in arrival order.
type Listener struct {
	normalizer *notification.Normalizer
	worker     *Worker
	store      MessageStore
	stager     Stager
	drains     DrainScheduler
	notifier   *Notifier
	mode       string
	enabled    atomic.Bool
	logger     *logrus.Logger
}

func NewListener(cfg ListenerConfig) *Listener {
	mode := cfg.Mode
	if mode == "" {
		mode = constants.CommitModeDirect
	}
	l := &Listener{
		normalizer: cfg.Normalizer,
		worker:     cfg.Worker,
		store:      cfg.Store,
		stager:     cfg.Stager,
		drains:     cfg.Drains,
		notifier:   cfg.Notifier,
		mode:       mode,
		logger:     cfg.Logger,
	}
	l.enabled.Store(cfg.Enabled)
	return l
}

// Enabled reports whether events are being captured.
func (l *Listener) Enabled() bool {
	return l.enabled.Load()
}

// SetEnabled turns capture on or off.
func (l *Listener) SetEnabled(enabled bool) {
	if l.enabled.Swap(enabled) != enabled {
		l.logger.WithField("enabled", enabled).Info("Listener state changed")
	}
}

// Mode returns the commit mode in effect.
func (l *Listener) Mode() string {
	return l.mode
}

// OnEvent accepts one raw platform event. It never blocks on the store. A
// filtered event yields a FILTERED error, which callers treat as success.
func (l *Listener) OnEvent(ctx context.Context, ev *notification.RawEvent) error {
	if !l.Enabled() {
		metrics.IncrementCounter(metrics.EventsRejected, map[string]string{"reason": "disabled"})
		return apperrors.New(apperrors.ErrCodeListenerDisabled, "listener is disabled")
	}

	n, err := l.normalizer.Normalize(ev)
	if err != nil {
		if notification.IsFiltered(err) {
			metrics.IncrementCounter(metrics.EventsFiltered, map[string]string{"reason": filterReason(err)})
			l.logger.WithError(err).Debug("Skipping notification: filtered")
			return apperrors.NewFilteredError(err.Error(), err)
		}
		metrics.IncrementCounter(metrics.EventsRejected, map[string]string{"reason": "invalid"})
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid notification event")
	}

	metrics.IncrementCounter(metrics.EventsReceived, map[string]string{"source_app": n.SourceApp})
	requestID := tracing.GetRequestID(ctx)

	err = l.worker.Submit("process_event", func(workerCtx context.Context) {
		if requestID != "" {
			workerCtx = tracing.WithRequestID(workerCtx, requestID)
		}
		l.process(workerCtx, n)
	})
	if err != nil {
		metrics.IncrementCounter(metrics.EventsRejected, map[string]string{"reason": string(apperrors.GetCode(err))})
		return err
	}
	return nil
}

func (l *Listener) process(ctx context.Context, n *notification.Notification) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "listener.process_event",
		tracing.AttrSourceApp.String(n.SourceApp),
		tracing.AttrLineCount.Int(len(n.Lines)),
		tracing.AttrCommitMode.String(l.mode),
	)
	defer span.End()

	lines := ClassifyLines(n)
	for _, line := range lines {
		metrics.IncrementCounter(metrics.LinesClassified, map[string]string{"kind": string(line.Kind)})
		LogLineProcessing(ctx, l.logger, n.SourceApp, n.Key, n.Sender, line.Text, string(line.Kind))
	}

	if l.mode == constants.CommitModeDeferred {
		l.stage(ctx, n, lines)
	} else {
		changed := l.apply(ctx, n, lines)
		tracing.AddSpanAttributes(ctx, tracing.AttrChanged.Int64(changed))
		if changed > 0 {
			l.notifier.Signal()
		}
	}

	metrics.RecordTimer(metrics.EventProcessing, time.Since(start), map[string]string{"mode": l.mode})
}

// apply writes the event straight to the store and returns the number of
// rows it changed. A store failure abandons the rest of the event.
func (l *Listener) apply(ctx context.Context, n *notification.Notification, lines []ClassifiedLine) int64 {
	var changed int64
	for _, line := range lines {
		if line.Kind == models.EventKindIgnore {
			continue
		}
		rows, err := ApplyLine(ctx, l.store, n.Key, n.Sender, n.SourceApp, line)
		if err != nil {
			metrics.IncrementCounter(metrics.StoreErrors, map[string]string{"operation": string(line.Kind)})
			tracing.RecordError(ctx, err)
			apperrors.WrapLogger(l.logger).LogWarn(err, "Skipping notification: store write failed", logrus.Fields{
				LogFieldSourceApp: n.SourceApp,
				LogFieldKind:      string(line.Kind),
			})
			break
		}
		if rows == 0 && line.Kind == models.EventKindDelete {
			l.logger.WithFields(ConversationFields(ctx, n.Sender, n.SourceApp)).Info("Deletion found no live message to mark")
		}
		changed += rows
	}
	return changed
}

// stage records the event for the deferred committer. Consecutive lines
// of the same kind form one entry and entries are staged in line order, so
// a drain applies them exactly as direct mode would. A staging failure
// abandons the rest of the event.
func (l *Listener) stage(ctx context.Context, n *notification.Notification, lines []ClassifiedLine) {
	staged := 0
	for _, run := range stagingRuns(lines) {
		if _, err := l.stager.Stage(ctx, n.Key, n.Sender, run.lines, n.SourceApp, run.kind); err != nil {
			metrics.IncrementCounter(metrics.StoreErrors, map[string]string{"operation": "stage"})
			tracing.RecordError(ctx, err)
			apperrors.WrapLogger(l.logger).LogWarn(err, "Failed to stage notification", logrus.Fields{
				LogFieldSourceApp: n.SourceApp,
				LogFieldKind:      string(run.kind),
			})
			break
		}
		metrics.IncrementCounter(metrics.EntriesStaged, map[string]string{"kind": string(run.kind)})
		staged++
	}

	tracing.AddSpanAttributes(ctx, tracing.AttrEntryCount.Int(staged))
	if staged > 0 && l.drains != nil {
		l.drains.ScheduleDrain()
	}
}

type stagingRun struct {
	kind  models.EventKind
	lines []string
}

// stagingRuns groups consecutive non-ignored lines of the same kind.
func stagingRuns(lines []ClassifiedLine) []stagingRun {
	var runs []stagingRun
	for _, line := range lines {
		if line.Kind == models.EventKindIgnore {
			continue
		}
		if last := len(runs) - 1; last >= 0 && runs[last].kind == line.Kind {
			runs[last].lines = append(runs[last].lines, line.Text)
			continue
		}
		runs = append(runs, stagingRun{kind: line.Kind, lines: []string{line.Text}})
	}
	return runs
}

// ApplyLine performs the store mutation for one classified line, records
// its metrics and returns the number of rows changed. Ignored lines change
// nothing.
func ApplyLine(ctx context.Context, store MessageStore, notificationKey, sender, sourceApp string, line ClassifiedLine) (int64, error) {
	outcome, err := applyLine(ctx, store, notificationKey, sender, sourceApp, line)
	if err != nil {
		return 0, err
	}
	outcome.record()
	return outcome.rows, nil
}

// lineOutcome is the store effect of one line, kept apart from metrics so
// a transaction can count it only once it has committed.
type lineOutcome struct {
	kind      models.EventKind
	sourceApp string
	rows      int64
}

func (o lineOutcome) record() {
	switch o.kind {
	case models.EventKindNew:
		if o.rows == 0 {
			metrics.IncrementCounter(metrics.MessagesDuplicate, nil)
			return
		}
		metrics.IncrementCounter(metrics.MessagesInserted, map[string]string{"source_app": o.sourceApp})
	case models.EventKindDelete:
		if o.rows == 0 {
			metrics.IncrementCounter(metrics.DeletionsUnmatched, nil)
			return
		}
		metrics.AddToCounter(metrics.DeletionsApplied, float64(o.rows), nil)
	}
}

func applyLine(ctx context.Context, store MessageStore, notificationKey, sender, sourceApp string, line ClassifiedLine) (lineOutcome, error) {
	outcome := lineOutcome{kind: line.Kind, sourceApp: sourceApp}
	switch line.Kind {
	case models.EventKindNew:
		inserted, err := store.InsertIfAbsent(ctx, models.NewMessageRecord(sender, line.Text, sourceApp, notificationKey))
		if err != nil {
			return outcome, err
		}
		if inserted {
			outcome.rows = 1
		}
	case models.EventKindDelete:
		rows, err := store.MarkDeleted(ctx, sender, sourceApp)
		if err != nil {
			return outcome, err
		}
		outcome.rows = rows
	}
	return outcome, nil
}

func filterReason(err error) string {
	switch {
	case errors.Is(err, notification.ErrSourceNotAllowed):
		return "source_app"
	case errors.Is(err, notification.ErrMissingKey):
		return "missing_key"
	case errors.Is(err, notification.ErrMissingSender):
		return "missing_sender"
	case errors.Is(err, notification.ErrSystemNotification):
		return "system"
	case errors.Is(err, notification.ErrUnrecognizedShape):
		return "shape"
	default:
		return "other"
	}
}
