package domain

import (
	"time"

	"github.com/google/uuid"
)

// Statement is the archived usage summary for one closed billing period.
type Statement struct {
	SubscriberID       uuid.UUID `json:"subscriber_id"`
	PlanID             PlanID    `json:"plan_id"`
	PeriodStart        time.Time `json:"period_start"`
	PeriodEnd          time.Time `json:"period_end"`
	UnitsUsed          int64     `json:"units_used"`
	IncludedUnits      Limit     `json:"included_units"`
	OverageUnits       int64     `json:"overage_units"`
	OverageAmountCents int64     `json:"overage_amount_cents"`
	Currency           string    `json:"currency"`
	OverageAmount      string    `json:"overage_amount"`
	GeneratedAt        time.Time `json:"generated_at"`
}
