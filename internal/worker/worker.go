// Package worker drains the download job queue. Each source runs at most
// one job at a time so a single slow host never starves the others.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"tubevault/internal/executor"
	"tubevault/internal/jobs"
	"tubevault/internal/status"
)

const DefaultPollInterval = 1 * time.Second

// JobExecutor runs one claimed job to completion.
type JobExecutor interface {
	Execute(ctx context.Context, job *jobs.Job) (*executor.Outcome, error)
}

// Config tunes the polling and retry cadence.
type Config struct {
	PollInterval time.Duration
	RetryDelay   time.Duration
}

// Worker claims ready jobs per source and hands them to the executor.
type Worker struct {
	store  *jobs.Store
	exec   JobExecutor
	status *status.Publisher
	logger *slog.Logger

	pollInterval time.Duration
	retryDelay   time.Duration

	mu         sync.Mutex
	semaphores map[string]*semaphore.Weighted
	wg         sync.WaitGroup
	active     int
}

// New builds a worker over the given store and executor.
func New(store *jobs.Store, exec JobExecutor, pub *status.Publisher, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = jobs.DefaultRetryDelay
	}
	return &Worker{
		store:        store,
		exec:         exec,
		status:       pub,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		retryDelay:   cfg.RetryDelay,
		semaphores:   map[string]*semaphore.Weighted{},
	}
}

func (w *Worker) sourceSemaphore(source string) *semaphore.Weighted {
	w.mu.Lock()
	defer w.mu.Unlock()
	sem, ok := w.semaphores[source]
	if !ok {
		sem = semaphore.NewWeighted(1)
		w.semaphores[source] = sem
	}
	return sem
}

// startWorker launches a drain goroutine for the source unless one is
// already running. Returns whether a new worker was started.
func (w *Worker) startWorker(ctx context.Context, source string) bool {
	sem := w.sourceSemaphore(source)
	if !sem.TryAcquire(1) {
		return false
	}
	w.mu.Lock()
	w.active++
	w.mu.Unlock()
	w.wg.Add(1)
	go func() {
		defer func() {
			sem.Release(1)
			w.mu.Lock()
			w.active--
			w.mu.Unlock()
			w.wg.Done()
		}()
		w.drainSource(ctx, source)
	}()
	return true
}

func (w *Worker) anyActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active > 0
}

// drainSource claims jobs for one source until its queue is empty.
func (w *Worker) drainSource(ctx context.Context, source string) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.store.ClaimNext(ctx, source)
		if err != nil {
			w.logger.Error("Claiming job failed", "source", source, "error", err)
			return
		}
		if job == nil {
			return
		}
		w.logger.Info("Job running",
			"trace_id", job.TraceID, "job_id", job.ID, "source", job.Source)
		w.executeJob(ctx, job)
	}
}

func (w *Worker) executeJob(ctx context.Context, job *jobs.Job) {
	if ctx.Err() != nil {
		// The claimed row must still transition even though ctx is dead,
		// or the job stays running and blocks dedup forever.
		if err := w.store.MarkCanceled(context.WithoutCancel(ctx), job, "canceled before start"); err != nil {
			w.logger.Warn("Cancel before start failed", "job_id", job.ID, "error", err)
		}
		return
	}
	_, err := w.exec.Execute(ctx, job)
	if err != nil {
		w.handleJobError(ctx, job, err)
		return
	}
	if err := w.store.MarkCompleted(ctx, job); err != nil {
		w.logger.Warn("Completion transition failed", "job_id", job.ID, "error", err)
	}
}

// handleJobError requeues retryable failures with backoff until the
// attempt budget runs out, then fails the job for good.
func (w *Worker) handleJobError(ctx context.Context, job *jobs.Job, execErr error) {
	if ctx.Err() != nil {
		if err := w.store.MarkCanceled(context.WithoutCancel(ctx), job, "canceled"); err != nil {
			w.logger.Warn("Cancel transition failed", "job_id", job.ID, "error", err)
		}
		return
	}
	message := execErr.Error()
	attempts := job.Attempts + 1
	if jobs.IsRetryable(message) && attempts < job.MaxAttempts {
		retryAt := time.Now().Add(jobs.RetryDelay(w.retryDelay, attempts))
		if err := w.store.MarkFailed(ctx, job, message, retryAt, attempts); err != nil {
			w.logger.Warn("Retry transition failed", "job_id", job.ID, "error", err)
		}
		return
	}
	if err := w.store.MarkFailed(ctx, job, message, time.Time{}, attempts); err != nil {
		w.logger.Warn("Failure transition failed", "job_id", job.ID, "error", err)
		return
	}
	if w.status != nil {
		w.status.RecordFailure(message)
	}
}

// RunUntilIdle drains every ready source and returns once the queue has no
// claimable jobs, no scheduled retry is pending, and all workers have
// finished. The sleep between polls shortens to the nearest retry time so
// requeued jobs are picked up promptly.
func (w *Worker) RunUntilIdle(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			break
		}
		sources, err := w.store.ListReadySources(ctx)
		if err != nil {
			return err
		}
		for _, source := range sources {
			w.startWorker(ctx, source)
		}
		sleep := w.pollInterval
		if len(sources) == 0 && !w.anyActive() {
			next, err := w.store.NextReadyTime(ctx)
			if err != nil {
				return err
			}
			if next.IsZero() {
				break
			}
			if until := time.Until(next); until < sleep {
				sleep = until
			}
			if sleep < time.Millisecond {
				sleep = time.Millisecond
			}
		}
		select {
		case <-ctx.Done():
		case <-time.After(sleep):
		}
	}
	w.wg.Wait()
	return ctx.Err()
}

// Run polls for ready sources until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		sources, err := w.store.ListReadySources(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("Listing ready sources failed", "error", err)
		}
		for _, source := range sources {
			w.startWorker(ctx, source)
		}
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return
		case <-ticker.C:
		}
	}
	w.wg.Wait()
}
