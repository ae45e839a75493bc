package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChangeType distinguishes upgrades from downgrades.
type ChangeType string

const (
	ChangeTypeUpgrade   ChangeType = "upgrade"
	ChangeTypeDowngrade ChangeType = "downgrade"
)

// ChangeStatus represents the lifecycle of a scheduled plan change.
type ChangeStatus string

const (
	ChangeStatusPending  ChangeStatus = "pending"
	ChangeStatusApplied  ChangeStatus = "applied"
	ChangeStatusCanceled ChangeStatus = "canceled"
)

// CanTransitionTo checks if a change can move to the target status.
//
// Valid transitions:
// - pending -> applied (renewal sweep, or immediately for upgrades)
// - pending -> canceled (user cancels, or a newer downgrade supersedes it)
//
// Applied and canceled are terminal.
func (s ChangeStatus) CanTransitionTo(target ChangeStatus) bool {
	if s != ChangeStatusPending {
		return false
	}
	return target == ChangeStatusApplied || target == ChangeStatusCanceled
}

// SubscriptionChange records a requested plan transition.
type SubscriptionChange struct {
	ID           uuid.UUID
	SubscriberID uuid.UUID
	FromPlan     PlanID
	ToPlan       PlanID
	Type         ChangeType
	Status       ChangeStatus
	ScheduledAt  time.Time

	// BlockedReason is set when a sweep found the change no longer valid.
	BlockedReason Reason
	LastCheckedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransitionTo moves the change to target, or returns an error leaving it untouched.
func (c *SubscriptionChange) TransitionTo(target ChangeStatus) error {
	if !c.Status.CanTransitionTo(target) {
		return fmt.Errorf("cannot transition change from %s to %s", c.Status, target)
	}
	c.Status = target
	return nil
}

// IsDue reports whether a pending change should be applied at asOf.
func (c *SubscriptionChange) IsDue(asOf time.Time) bool {
	return c.Status == ChangeStatusPending && !c.ScheduledAt.After(asOf)
}

// BlockedDowngrade describes a due downgrade that failed re-validation.
type BlockedDowngrade struct {
	Change  SubscriptionChange
	Reason  Reason
	Current int64
	Limit   int64
}

// SweepResult summarizes one pass of the downgrade sweep.
type SweepResult struct {
	Applied []SubscriptionChange
	Blocked []BlockedDowngrade
	Failed  int
}
