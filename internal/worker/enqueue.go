package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/meterline/internal/repository"
	"github.com/google/uuid"
)

// Job type constants - these must match the JobHandler.Type() values
const (
	JobTypeRenewalSweep       = "renewal_sweep"
	JobTypeOverageRetry       = "overage_retry"
	JobTypeTeamReconcileSweep = "team_reconcile_sweep"
	JobTypeReconcileTeam      = "reconcile_team"
)

// Priority constants for job scheduling
const (
	PriorityLow    = 0
	PriorityNormal = 10
	PriorityHigh   = 20
)

// ErrDuplicateJob is returned when a job with the same unique key already exists.
var ErrDuplicateJob = errors.New("job with this unique key already exists")

// SweepPayload is the payload of the periodic sweep jobs.
type SweepPayload struct {
	// AsOf is the tick the sweep was scheduled for.
	AsOf time.Time `json:"as_of"`
}

// ReconcileTeamPayload is the payload for single-team seat reconciliation.
type ReconcileTeamPayload struct {
	TeamID uuid.UUID `json:"team_id"`
}

// EnqueueOption is a functional option for customizing job enqueue parameters.
type EnqueueOption func(*repository.EnqueueJobParams)

// WithPriority sets the job priority.
func WithPriority(priority int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.Priority = priority
	}
}

// WithMaxAttempts sets the maximum number of retry attempts.
func WithMaxAttempts(attempts int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.MaxAttempts = attempts
	}
}

// WithDelay schedules the job to run after a delay.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.ScheduledAt = time.Now().Add(delay)
	}
}

// WithUniqueKey deduplicates the job: a second enqueue with the same key is
// skipped and returns ErrDuplicateJob.
func WithUniqueKey(key string) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.UniqueKey = sql.NullString{String: key, Valid: key != ""}
	}
}

// EnqueueJob is a generic helper for enqueuing jobs with custom options.
func EnqueueJob(
	ctx context.Context,
	queries *repository.Queries,
	jobType string,
	payload interface{},
	opts ...EnqueueOption,
) (repository.Job, error) {
	// Marshal the payload to JSON
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return repository.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	// Default parameters
	params := repository.EnqueueJobParams{
		JobType:     jobType,
		Payload:     payloadJSON,
		Priority:    PriorityNormal,
		MaxAttempts: 3,
		ScheduledAt: time.Now(),
	}

	// Apply options
	for _, opt := range opts {
		opt(&params)
	}

	job, err := queries.EnqueueJob(ctx, params)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) && params.UniqueKey.Valid {
			return repository.Job{}, ErrDuplicateJob
		}
		return repository.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	return job, nil
}

// EnqueueSweep enqueues one of the periodic sweep jobs for the tick asOf.
// slot identifies the tick for deduplication, so concurrent schedulers
// enqueue each tick once.
func EnqueueSweep(
	ctx context.Context,
	queries *repository.Queries,
	jobType string,
	asOf time.Time,
	slot string,
	opts ...EnqueueOption,
) (repository.Job, error) {
	opts = append([]EnqueueOption{
		WithUniqueKey(jobType + ":" + slot),
		WithPriority(PriorityHigh),
	}, opts...)
	return EnqueueJob(ctx, queries, jobType, SweepPayload{AsOf: asOf.UTC()}, opts...)
}

// EnqueueReconcileTeam enqueues a seat reconciliation for one team.
func EnqueueReconcileTeam(
	ctx context.Context,
	queries *repository.Queries,
	teamID uuid.UUID,
	opts ...EnqueueOption,
) (repository.Job, error) {
	return EnqueueJob(ctx, queries, JobTypeReconcileTeam, ReconcileTeamPayload{TeamID: teamID}, opts...)
}

// Enqueuer schedules follow-up jobs on behalf of the services.
type Enqueuer struct {
	queries *repository.Queries
}

// NewEnqueuer creates an Enqueuer.
func NewEnqueuer(queries *repository.Queries) *Enqueuer {
	return &Enqueuer{queries: queries}
}

// ScheduleTeamReconcile queues a delayed reconcile for teamID. Requests
// falling into the same delay window collapse into one job.
func (e *Enqueuer) ScheduleTeamReconcile(ctx context.Context, teamID uuid.UUID, delay time.Duration) error {
	runAt := time.Now().Add(delay)
	window := runAt.Truncate(delay).Unix()
	key := fmt.Sprintf("%s:%s:%d", JobTypeReconcileTeam, teamID, window)

	_, err := EnqueueReconcileTeam(ctx, e.queries, teamID,
		WithDelay(delay),
		WithUniqueKey(key),
		WithMaxAttempts(5),
	)
	if errors.Is(err, ErrDuplicateJob) {
		return nil
	}
	return err
}

// EnqueueSweep enqueues a periodic sweep for the tick identified by slot.
// A tick that was already enqueued returns ErrDuplicateJob.
func (e *Enqueuer) EnqueueSweep(ctx context.Context, jobType string, asOf time.Time, slot string) error {
	_, err := EnqueueSweep(ctx, e.queries, jobType, asOf, slot)
	return err
}
