package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the possible states of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusPaused   SubscriptionStatus = "paused"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue,
		SubscriptionStatusCanceled, SubscriptionStatusPaused:
		return true
	}
	return false
}

// PermitsUsage reports whether metered actions may run under this status.
// Past due and canceled subscriptions may not consume units, overage included.
func (s SubscriptionStatus) PermitsUsage() bool {
	return s != SubscriptionStatusPastDue && s != SubscriptionStatusCanceled
}

// Subscriber is the engine-owned billing state of one account.
type Subscriber struct {
	ID             uuid.UUID
	PlanID         PlanID
	Status         SubscriptionStatus
	RenewsAt       *time.Time
	OverageEnabled bool

	MonthlyUsage   int64
	DailyUsage     int64
	DailyUsageDate time.Time // UTC midnight of the day DailyUsage belongs to

	PendingDowngradePlan *PlanID
	PendingDowngradeAt   *time.Time

	// LedgerUsageItemID references the metered line item in the external ledger.
	LedgerUsageItemID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPendingDowngrade reports whether a downgrade is scheduled.
func (s *Subscriber) HasPendingDowngrade() bool {
	return s.PendingDowngradePlan != nil
}

// NextRenewal returns the renewal timestamp, or the first day of the month
// after now when the subscriber has none.
func (s *Subscriber) NextRenewal(now time.Time) time.Time {
	if s.RenewsAt != nil {
		return *s.RenewsAt
	}
	return FirstOfNextMonth(now)
}

// UsageAt returns the subscriber's counters as seen at now, treating a daily
// counter from an earlier day as zero.
func (s *Subscriber) UsageAt(now time.Time) Usage {
	u := Usage{Monthly: s.MonthlyUsage}
	if SameDay(s.DailyUsageDate, now) {
		u.Daily = s.DailyUsage
	}
	return u
}

// Usage is a pair of consumption counters.
type Usage struct {
	Monthly int64 `json:"monthly"`
	Daily   int64 `json:"daily"`
}

// Day truncates t to UTC midnight.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}

// FirstOfNextMonth returns UTC midnight of the first day of the month after t.
func FirstOfNextMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// NextRenewalAfter advances renewal by whole months until it is after asOf.
func NextRenewalAfter(renewal, asOf time.Time) time.Time {
	next := renewal
	for !next.After(asOf) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}
