package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"statushub/internal/constants"
	apperrors "statushub/internal/errors"

	"github.com/sirupsen/logrus"
)

type job struct {
	name string
	fn   func(ctx context.Context)
}

// Worker runs submitted jobs one at a time in submission order on a single
// goroutine. Every store mutation goes through it.
type Worker struct {
	jobs    chan job
	mu      sync.RWMutex
	closed  bool
	started atomic.Bool
	done    chan struct{}
	logger  *logrus.Logger
}

func NewWorker(queueSize int, logger *logrus.Logger) *Worker {
	if queueSize <= 0 {
		queueSize = constants.DefaultListenerQueueSize
	}
	return &Worker{
		jobs:   make(chan job, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start launches the worker goroutine. Calling it more than once has no effect.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	w.logger.WithField(LogFieldComponent, "worker").Info("Starting worker")
	for j := range w.jobs {
		w.execute(ctx, j)
	}
	w.logger.WithField(LogFieldComponent, "worker").Info("Worker stopped")
}

func (w *Worker) execute(ctx context.Context, j job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithFields(logrus.Fields{
				LogFieldComponent: "worker",
				LogFieldJob:       j.name,
				"panic":           fmt.Sprint(r),
			}).Error("Job panicked")
		}
	}()
	j.fn(ctx)
	w.logger.WithFields(logrus.Fields{
		LogFieldJob:      j.name,
		LogFieldDuration: time.Since(start).Milliseconds(),
	}).Debug("Job completed")
}

// Submit queues fn without blocking. It fails when the queue is full or the
// worker has been stopped.
func (w *Worker) Submit(name string, fn func(ctx context.Context)) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return apperrors.New(apperrors.ErrCodeShuttingDown, "worker is stopped")
	}
	select {
	case w.jobs <- job{name: name, fn: fn}:
		return nil
	default:
		return apperrors.NewQueueFullError(cap(w.jobs))
	}
}

// Flush blocks until every job submitted before the call has run.
func (w *Worker) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return apperrors.New(apperrors.ErrCodeShuttingDown, "worker is stopped")
	}
	select {
	case w.jobs <- job{name: "flush", fn: func(context.Context) { close(barrier) }}:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued jobs.
func (w *Worker) Pending() int {
	return len(w.jobs)
}

// Stop refuses new jobs, runs the ones already queued and waits for the
// goroutine to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()

	if w.started.Load() {
		<-w.done
	}
}
