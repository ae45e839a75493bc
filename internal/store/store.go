// Package store persists the engine's state: subscriber counters, usage
// events, overage charges, scheduled plan changes and teams.
//
// Two implementations are provided. Postgres is the production store and
// relies on single-statement updates for counter atomicity. Memory keeps
// everything behind a mutex and backs tests and local development.
package store

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a uniqueness constraint is violated.
	ErrConflict = errors.New("store: conflict")

	// ErrNoTx is returned by Lock outside InTx.
	ErrNoTx = errors.New("store: not in a transaction")
)

// Cursor is a keyset position for sweeps that page through due rows in
// (At, ID) order. The zero Cursor starts from the beginning.
type Cursor struct {
	At time.Time
	ID uuid.UUID
}

// After reports whether the row (at, id) sorts strictly after c.
func (c Cursor) After(at time.Time, id uuid.UUID) bool {
	if !at.Equal(c.At) {
		return at.After(c.At)
	}
	return bytes.Compare(id[:], c.ID[:]) > 0
}

// Store is the persistence contract used by the services.
type Store interface {
	// InTx runs fn against a transactional view of the store. Writes made
	// through that view are committed when fn returns nil and discarded
	// otherwise.
	InTx(ctx context.Context, fn func(Store) error) error

	// Lock takes an exclusive lock on key that is held until the enclosing
	// transaction ends. It fails with ErrNoTx outside InTx.
	Lock(ctx context.Context, key string) error

	SubscriberStore
	UsageEventStore
	OverageChargeStore
	ChangeStore
	TeamStore
}

// SubscriberStore holds subscriber records and their usage counters.
type SubscriberStore interface {
	CreateSubscriber(ctx context.Context, s *domain.Subscriber) error
	GetSubscriber(ctx context.Context, id uuid.UUID) (*domain.Subscriber, error)

	// IncrementUsage atomically adds units to the monthly and daily counters
	// and returns the post-increment values. The daily counter restarts when
	// its stored day differs from day.
	IncrementUsage(ctx context.Context, id uuid.UUID, units int64, day time.Time) (domain.Usage, error)

	// ResetMonthlyUsage zeroes the monthly counter and advances renews_at to
	// next, only if renews_at still equals expected. It reports whether the
	// reset happened.
	ResetMonthlyUsage(ctx context.Context, id uuid.UUID, expected, next time.Time) (bool, error)

	UpdateSubscriberStatus(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus) error
	UpdateSubscriberOverage(ctx context.Context, id uuid.UUID, enabled bool) error

	// UpdateSubscriberPlan switches the plan and clears any pending downgrade.
	UpdateSubscriberPlan(ctx context.Context, id uuid.UUID, plan domain.PlanID) error

	// SetPendingDowngrade records or clears (nil plan) the scheduled downgrade.
	SetPendingDowngrade(ctx context.Context, id uuid.UUID, plan *domain.PlanID, at *time.Time) error

	// ListSubscribersDueForRenewal pages through subscribers whose renews_at
	// is at or before asOf, ordered by (renews_at, id) and strictly after.
	ListSubscribersDueForRenewal(ctx context.Context, asOf time.Time, after Cursor, limit int) ([]domain.Subscriber, error)
}

// UsageEventStore is the append-only usage audit log.
type UsageEventStore interface {
	InsertUsageEvent(ctx context.Context, e *domain.UsageEvent) error
	SumUsageUnits(ctx context.Context, subscriberID uuid.UUID, from, to time.Time) (int64, error)
}

// OverageChargeStore holds billable overage lines.
type OverageChargeStore interface {
	InsertOverageCharge(ctx context.Context, c *domain.OverageCharge) error
	ListPendingOverageCharges(ctx context.Context, limit int) ([]domain.OverageCharge, error)
	ListOverageChargesForPeriod(ctx context.Context, subscriberID uuid.UUID, period time.Time) ([]domain.OverageCharge, error)

	// MarkOverageChargesBilled moves the listed charges that are still
	// pending to billed and returns how many moved.
	MarkOverageChargesBilled(ctx context.Context, ids []uuid.UUID, billedAt time.Time) (int64, error)

	// RecordOverageAttempt counts a failed delivery of a pending charge and
	// fails it once maxAttempts is reached. The updated charge is returned.
	RecordOverageAttempt(ctx context.Context, id uuid.UUID, lastError string, maxAttempts int) (*domain.OverageCharge, error)
}

// ChangeStore holds plan change records.
type ChangeStore interface {
	// InsertChange fails with ErrConflict when the subscriber already has a
	// pending change and the new one is pending too.
	InsertChange(ctx context.Context, c *domain.SubscriptionChange) error
	GetPendingChange(ctx context.Context, subscriberID uuid.UUID) (*domain.SubscriptionChange, error)

	// UpdateChangeStatus performs a guarded transition; ErrNotFound is
	// returned when the change is not in the from status.
	UpdateChangeStatus(ctx context.Context, id uuid.UUID, from, to domain.ChangeStatus) error
	MarkChangeBlocked(ctx context.Context, id uuid.UUID, reason domain.Reason, checkedAt time.Time) error

	// ListDueChanges pages through pending changes scheduled at or before
	// asOf, ordered by (scheduled_at, id) and strictly after.
	ListDueChanges(ctx context.Context, asOf time.Time, after Cursor, limit int) ([]domain.SubscriptionChange, error)
}

// TeamStore holds teams and their members.
type TeamStore interface {
	CreateTeam(ctx context.Context, t *domain.Team) error

	// GetTeam returns the team with a fresh MemberCount.
	GetTeam(ctx context.Context, id uuid.UUID) (*domain.Team, error)
	ListTeamIDsByOwner(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error)
	ListTeamIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
	UpdateTeamReportedSeats(ctx context.Context, id uuid.UUID, seats int64, at time.Time) error

	// AddTeamMember fails with ErrConflict for a duplicate email in the team.
	AddTeamMember(ctx context.Context, m *domain.TeamMember) error
	RemoveTeamMember(ctx context.Context, teamID, memberID uuid.UUID) error
}
