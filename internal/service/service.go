// Package service contains the business logic layer.
//
// The services here form the metering engine: usage counters, entitlement
// decisions, overage billing, plan changes, team seats and the renewal tick.
// They depend on store.Store for persistence and on narrow interfaces for
// every external collaborator.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/store"
	"github.com/google/uuid"
)

// Defaults for batch sizes used by the periodic passes.
const (
	DefaultSweepBatchSize = 500
	DefaultSweepWorkers   = 4
)

// Option configures optional service behaviour.
type Option func(*options)

type options struct {
	now       func() time.Time
	batchSize int
}

// WithClock overrides the time source. Services default to time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithBatchSize sets how many rows a sweep reads per page.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, batchSize: DefaultSweepBatchSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SeatReconciler recomputes and reports a team's billable seats.
// TeamService implements it; PlanChangeService uses it after plan switches.
type SeatReconciler interface {
	Reconcile(ctx context.Context, teamID uuid.UUID) (*domain.TeamBillingState, error)
}

// ReconcileScheduler queues a delayed seat reconciliation for a team whose
// ledger report failed.
type ReconcileScheduler interface {
	ScheduleTeamReconcile(ctx context.Context, teamID uuid.UUID, delay time.Duration) error
}

// loadSubscriber fetches a subscriber and maps a missing row to a domain
// not-found error.
func loadSubscriber(ctx context.Context, st store.SubscriberStore, op string, id uuid.UUID) (*domain.Subscriber, error) {
	sub, err := st.GetSubscriber(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound(op, "subscriber", id.String())
		}
		return nil, domain.Internal(err, op, "failed to load subscriber")
	}
	return sub, nil
}

// loadTeam is loadSubscriber for teams.
func loadTeam(ctx context.Context, st store.TeamStore, op string, id uuid.UUID) (*domain.Team, error) {
	team, err := st.GetTeam(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound(op, "team", id.String())
		}
		return nil, domain.Internal(err, op, "failed to load team")
	}
	return team, nil
}

// withOp re-labels a plan registry error with the caller's operation.
func withOp(err error, op string) error {
	var e *domain.Error
	if errors.As(err, &e) {
		c := *e
		c.Op = op
		return &c
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConflict)
}
