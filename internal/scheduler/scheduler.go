// Package scheduler is the renewal clock. It enqueues the periodic sweep
// jobs on cron schedules; the worker executes them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/meterline/internal/worker"
	"github.com/robfig/cron/v3"
)

// Default schedules, in UTC.
const (
	DefaultRenewalSchedule       = "5 * * * *"
	DefaultOverageRetrySchedule  = "*/15 * * * *"
	DefaultTeamReconcileSchedule = "30 3 * * *"
)

// SlotFormat identifies a tick in dedupe keys. Ticks are at most once a
// minute, so two scheduler instances firing the same tick share a slot.
const SlotFormat = "200601021504"

// SweepEnqueuer enqueues a sweep job. It returns worker.ErrDuplicateJob when
// the slot was already enqueued.
type SweepEnqueuer interface {
	EnqueueSweep(ctx context.Context, jobType string, asOf time.Time, slot string) error
}

// Config holds the cron expression for each sweep. An empty expression
// disables that sweep.
type Config struct {
	RenewalSchedule       string
	OverageRetrySchedule  string
	TeamReconcileSchedule string
}

// DefaultConfig returns the default schedules.
func DefaultConfig() Config {
	return Config{
		RenewalSchedule:       DefaultRenewalSchedule,
		OverageRetrySchedule:  DefaultOverageRetrySchedule,
		TeamReconcileSchedule: DefaultTeamReconcileSchedule,
	}
}

// Scheduler enqueues sweep jobs on their schedules.
type Scheduler struct {
	cron     *cron.Cron
	enqueuer SweepEnqueuer
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Scheduler and registers every configured sweep.
func New(config Config, enqueuer SweepEnqueuer, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		enqueuer: enqueuer,
		logger:   logger.With("component", "scheduler"),
		now:      time.Now,
	}

	entries := []struct {
		jobType  string
		schedule string
	}{
		{worker.JobTypeRenewalSweep, config.RenewalSchedule},
		{worker.JobTypeOverageRetry, config.OverageRetrySchedule},
		{worker.JobTypeTeamReconcileSweep, config.TeamReconcileSchedule},
	}
	for _, e := range entries {
		if e.schedule == "" {
			s.logger.Info("Sweep disabled", "job_type", e.jobType)
			continue
		}
		jobType := e.jobType
		if _, err := s.cron.AddFunc(e.schedule, func() { s.Tick(context.Background(), jobType) }); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", jobType, e.schedule, err)
		}
		s.logger.Info("Sweep scheduled", "job_type", jobType, "schedule", e.schedule)
	}

	return s, nil
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and waits for a running tick to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
	}
}

// Tick enqueues one sweep of jobType for the current minute.
func (s *Scheduler) Tick(ctx context.Context, jobType string) {
	asOf := s.now().UTC().Truncate(time.Minute)
	slot := asOf.Format(SlotFormat)

	err := s.enqueuer.EnqueueSweep(ctx, jobType, asOf, slot)
	switch {
	case errors.Is(err, worker.ErrDuplicateJob):
		s.logger.Debug("Sweep already enqueued", "job_type", jobType, "slot", slot)
	case err != nil:
		s.logger.Error("Failed to enqueue sweep", "job_type", jobType, "slot", slot, "error", err)
	default:
		s.logger.Info("Sweep enqueued", "job_type", jobType, "slot", slot)
	}
}

// Entries returns the number of registered sweeps.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
