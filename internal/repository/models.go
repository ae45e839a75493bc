package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type Job struct {
	ID           uuid.UUID       `json:"id"`
	JobType      string          `json:"job_type"`
	Payload      json.RawMessage `json:"payload"`
	UniqueKey    sql.NullString  `json:"unique_key"`
	Status       string          `json:"status"`
	Priority     int32           `json:"priority"`
	Attempts     int32           `json:"attempts"`
	MaxAttempts  int32           `json:"max_attempts"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	StartedAt    sql.NullTime    `json:"started_at"`
	CompletedAt  sql.NullTime    `json:"completed_at"`
	ErrorMessage sql.NullString  `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
}

type OverageCharge struct {
	ID             uuid.UUID      `json:"id"`
	SubscriberID   uuid.UUID      `json:"subscriber_id"`
	Units          int64          `json:"units"`
	UnitPriceCents int64          `json:"unit_price_cents"`
	AmountCents    int64          `json:"amount_cents"`
	Currency       string         `json:"currency"`
	Status         string         `json:"status"`
	Period         time.Time      `json:"period"`
	Feature        string         `json:"feature"`
	Attempts       int32          `json:"attempts"`
	LastError      sql.NullString `json:"last_error"`
	CreatedAt      time.Time      `json:"created_at"`
	BilledAt       sql.NullTime   `json:"billed_at"`
}

type Subscriber struct {
	ID                   uuid.UUID      `json:"id"`
	PlanID               string         `json:"plan_id"`
	Status               string         `json:"status"`
	RenewsAt             sql.NullTime   `json:"renews_at"`
	OverageEnabled       bool           `json:"overage_enabled"`
	MonthlyUsage         int64          `json:"monthly_usage"`
	DailyUsage           int64          `json:"daily_usage"`
	DailyUsageDate       time.Time      `json:"daily_usage_date"`
	PendingDowngradePlan sql.NullString `json:"pending_downgrade_plan"`
	PendingDowngradeAt   sql.NullTime   `json:"pending_downgrade_at"`
	LedgerUsageItemID    string         `json:"ledger_usage_item_id"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

type SubscriptionChange struct {
	ID            uuid.UUID      `json:"id"`
	SubscriberID  uuid.UUID      `json:"subscriber_id"`
	FromPlan      string         `json:"from_plan"`
	ToPlan        string         `json:"to_plan"`
	ChangeType    string         `json:"change_type"`
	Status        string         `json:"status"`
	ScheduledAt   time.Time      `json:"scheduled_at"`
	BlockedReason sql.NullString `json:"blocked_reason"`
	LastCheckedAt sql.NullTime   `json:"last_checked_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type Team struct {
	ID               uuid.UUID     `json:"id"`
	OwnerID          uuid.UUID     `json:"owner_id"`
	Name             string        `json:"name"`
	SeatItemID       string        `json:"seat_item_id"`
	ReportedSeats    sql.NullInt64 `json:"reported_seats"`
	LastReconciledAt sql.NullTime  `json:"last_reconciled_at"`
	CreatedAt        time.Time     `json:"created_at"`
}

type TeamMember struct {
	ID        uuid.UUID `json:"id"`
	TeamID    uuid.UUID `json:"team_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type UsageEvent struct {
	ID             uuid.UUID             `json:"id"`
	SubscriberID   uuid.UUID             `json:"subscriber_id"`
	ActionType     string                `json:"action_type"`
	Units          int64                 `json:"units"`
	OverageUnits   int64                 `json:"overage_units"`
	IsOverage      bool                  `json:"is_overage"`
	UnitPriceCents int64                 `json:"unit_price_cents"`
	Counted        bool                  `json:"counted"`
	Metadata       pqtype.NullRawMessage `json:"metadata"`
	OccurredAt     time.Time             `json:"occurred_at"`
}
