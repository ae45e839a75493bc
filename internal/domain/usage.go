package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActionType identifies a metered action.
type ActionType string

const (
	ActionRepurpose ActionType = "repurpose"
)

// ParseActionType validates an action type, defaulting empty input to repurpose.
func ParseActionType(s string) (ActionType, bool) {
	switch ActionType(s) {
	case "", ActionRepurpose:
		return ActionRepurpose, true
	}
	return "", false
}

// Decision is the outcome of an entitlement check.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	IsOverage bool   `json:"is_overage"`
	Reason    Reason `json:"reason,omitempty"`

	// Used and Limit are the counter and ceiling behind the decision.
	Used  int64 `json:"used"`
	Limit Limit `json:"limit"`
}

// Allow builds an allowing decision.
func Allow(overage bool, used int64, limit Limit) Decision {
	return Decision{Allowed: true, IsOverage: overage, Used: used, Limit: limit}
}

// Deny builds a denying decision.
func Deny(reason Reason, used int64, limit Limit) Decision {
	return Decision{Allowed: false, Reason: reason, Used: used, Limit: limit}
}

// UsageEvent is an append-only audit record of consumed units.
type UsageEvent struct {
	ID             uuid.UUID
	SubscriberID   uuid.UUID
	ActionType     ActionType
	Units          int64
	OverageUnits   int64
	IsOverage      bool
	UnitPriceCents int64 // overage unit price, 0 when within plan
	Counted        bool  // false when the counter update failed
	Metadata       map[string]string
	OccurredAt     time.Time
}

// UsageRecord is the result of recording consumed units.
type UsageRecord struct {
	Usage  Usage
	Event  *UsageEvent
	Charge *OverageCharge
}

// DenialError converts a denied decision into the matching error. It returns
// nil for allowed decisions.
func DenialError(op string, d Decision) *Error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonDailyLimitReached:
		return DailyLimitReached(op, d.Used, int64(d.Limit))
	case ReasonMonthlyLimitReached:
		return MonthlyLimitReached(op, d.Used, int64(d.Limit))
	case ReasonSubscriptionNotActive:
		return &Error{Code: EPAYMENT, Reason: d.Reason, Op: op, Message: "subscription is not active"}
	}
	return &Error{Code: EINVALID, Reason: d.Reason, Op: op, Message: "action not permitted"}
}
