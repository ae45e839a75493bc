package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/meterline/internal/metrics"
	"github.com/DukeRupert/meterline/internal/repository"
	"github.com/google/uuid"
)

// Worker polls the jobs table and runs registered handlers. Several
// processes may run workers against the same table; a job is claimed with
// FOR UPDATE SKIP LOCKED so each runs once per attempt.
type Worker struct {
	db       *sql.DB
	queries  *repository.Queries
	handlers map[string]JobHandler
	config   Config
	logger   *slog.Logger

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a Worker. Register handlers, then call Start.
func New(db *sql.DB, queries *repository.Queries, config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		db:       db,
		queries:  queries,
		handlers: make(map[string]JobHandler),
		config:   config,
		logger:   logger.With("component", "worker"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Register adds a handler for its job type, replacing any earlier one.
func (w *Worker) Register(handler JobHandler) {
	jobType := handler.Type()
	if _, exists := w.handlers[jobType]; exists {
		w.logger.Warn("Overwriting existing handler", "job_type", jobType)
	}
	w.handlers[jobType] = handler
	w.logger.Debug("Registered job handler", "job_type", jobType)
}

// Start recovers jobs orphaned by a crashed process and launches the
// polling goroutines. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	if err := w.recoverStaleJobs(ctx); err != nil {
		w.logger.Error("Failed to recover stale jobs", "error", err)
	}

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, i+1)
	}

	w.logger.Info("Worker started",
		"concurrency", w.config.Concurrency,
		"job_types", len(w.handlers),
	)
}

// Stop signals the pollers and waits up to ShutdownTimeout for in-flight
// jobs. A job cut off here is picked up again by stale recovery.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopCh)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, some jobs may still be running")
	}
}

func (w *Worker) recoverStaleJobs(ctx context.Context) error {
	count, err := w.queries.RecoverStaleJobs(ctx, w.config.StaleJobThreshold.Seconds())
	if err != nil {
		return fmt.Errorf("recover stale jobs: %w", err)
	}
	if count > 0 {
		w.logger.Warn("Recovered stale jobs", "count", count, "threshold", w.config.StaleJobThreshold)
	}
	return nil
}

func (w *Worker) runWorker(ctx context.Context, workerID int) {
	defer w.wg.Done()

	logger := w.logger.With("worker_id", workerID)
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain the queue before waiting for the next tick so a burst
			// of reconcile_team jobs is not paced by the poll interval.
			for {
				err := w.processNextJob(ctx, logger)
				if errors.Is(err, sql.ErrNoRows) {
					break
				}
				if err != nil {
					logger.Error("Failed to process job", "error", err)
					break
				}
				if w.stopping() {
					return
				}
			}
		}
	}
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// processNextJob claims and runs one job. It returns sql.ErrNoRows when
// the queue has nothing due.
func (w *Worker) processNextJob(ctx context.Context, logger *slog.Logger) error {
	job, err := w.claim(ctx)
	if err != nil {
		return err
	}

	attempt := job.Attempts + 1
	logger = logger.With("job_id", job.ID, "job_type", job.JobType, "attempt", attempt)
	logger.Info("Processing job")

	if attempt > 1 {
		metrics.JobRetried(job.JobType)
	}
	metrics.JobStarted(job.JobType)
	start := time.Now()

	if err := w.executeJob(ctx, job); err != nil {
		metrics.JobFailed(job.JobType)
		w.markJobFailed(ctx, logger, job, attempt, err)
		return fmt.Errorf("execute job: %w", err)
	}

	metrics.JobCompleted(job.JobType, time.Since(start))
	logger.Info("Job completed", "duration_ms", time.Since(start).Milliseconds())
	return w.markJobCompleted(ctx, job.ID)
}

// claim dequeues the next due job and marks it running in one transaction.
func (w *Worker) claim(ctx context.Context) (repository.Job, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return repository.Job{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := w.queries.WithTx(tx)

	job, err := qtx.DequeueJob(ctx)
	if err != nil {
		return repository.Job{}, err
	}
	if err := qtx.UpdateJobStarted(ctx, job.ID); err != nil {
		return repository.Job{}, fmt.Errorf("mark job started: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return repository.Job{}, fmt.Errorf("commit dequeue: %w", err)
	}
	return job, nil
}

// executeJob runs the job's handler under JobTimeout.
func (w *Worker) executeJob(ctx context.Context, job repository.Job) error {
	handler, ok := w.handlers[job.JobType]
	if !ok {
		return Permanentf("no handler registered for job type: %s", job.JobType)
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	return handler.Handle(jobCtx, job.Payload)
}

func (w *Worker) markJobCompleted(ctx context.Context, jobID uuid.UUID) error {
	if err := w.queries.UpdateJobCompleted(ctx, jobID); err != nil {
		return fmt.Errorf("update job completed: %w", err)
	}
	return nil
}

// markJobFailed reschedules the job with backoff, or fails it for good when
// the error is permanent. The query itself fails jobs that have used all
// their attempts.
func (w *Worker) markJobFailed(ctx context.Context, logger *slog.Logger, job repository.Job, attempt int32, jobErr error) {
	permanent := IsPermanent(jobErr)
	switch {
	case permanent:
		logger.Warn("Job failed permanently, will not retry", "error", jobErr)
	case attempt >= job.MaxAttempts:
		// Sweeps are re-enqueued by the next cron slot; a lost
		// reconcile_team is caught by the nightly team sweep.
		logger.Error("Job exhausted its attempts", "error", jobErr, "max_attempts", job.MaxAttempts)
	default:
		logger.Warn("Job failed, will retry", "error", jobErr)
	}

	params := repository.UpdateJobFailedParams{
		ID:           job.ID,
		ErrorMessage: sql.NullString{String: jobErr.Error(), Valid: true},
		Permanent:    permanent,
	}
	if err := w.queries.UpdateJobFailed(ctx, params); err != nil {
		logger.Error("Failed to mark job as failed", "error", err)
	}
}

// Stats returns the number of jobs per status.
func (w *Worker) Stats(ctx context.Context) (map[string]int64, error) {
	rows, err := w.queries.CountJobsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	stats := make(map[string]int64, len(rows))
	for _, r := range rows {
		stats[r.Status] = r.Count
	}
	return stats, nil
}
