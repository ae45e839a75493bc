package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const subscriberColumns = `id, plan_id, status, renews_at, overage_enabled, monthly_usage, daily_usage, daily_usage_date, pending_downgrade_plan, pending_downgrade_at, ledger_usage_item_id, created_at, updated_at`

func scanSubscriber(row interface{ Scan(...interface{}) error }) (Subscriber, error) {
	var i Subscriber
	err := row.Scan(
		&i.ID,
		&i.PlanID,
		&i.Status,
		&i.RenewsAt,
		&i.OverageEnabled,
		&i.MonthlyUsage,
		&i.DailyUsage,
		&i.DailyUsageDate,
		&i.PendingDowngradePlan,
		&i.PendingDowngradeAt,
		&i.LedgerUsageItemID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createSubscriber = `-- name: CreateSubscriber :one
INSERT INTO subscribers (id, plan_id, status, renews_at, overage_enabled, daily_usage_date, ledger_usage_item_id)
VALUES ($1, $2, $3, $4, $5, $6::date, $7)
RETURNING ` + subscriberColumns

type CreateSubscriberParams struct {
	ID                uuid.UUID    `json:"id"`
	PlanID            string       `json:"plan_id"`
	Status            string       `json:"status"`
	RenewsAt          sql.NullTime `json:"renews_at"`
	OverageEnabled    bool         `json:"overage_enabled"`
	DailyUsageDate    time.Time    `json:"daily_usage_date"`
	LedgerUsageItemID string       `json:"ledger_usage_item_id"`
}

func (q *Queries) CreateSubscriber(ctx context.Context, arg CreateSubscriberParams) (Subscriber, error) {
	row := q.db.QueryRowContext(ctx, createSubscriber,
		arg.ID,
		arg.PlanID,
		arg.Status,
		arg.RenewsAt,
		arg.OverageEnabled,
		arg.DailyUsageDate,
		arg.LedgerUsageItemID,
	)
	return scanSubscriber(row)
}

const getSubscriberByID = `-- name: GetSubscriberByID :one
SELECT ` + subscriberColumns + ` FROM subscribers
WHERE id = $1`

func (q *Queries) GetSubscriberByID(ctx context.Context, id uuid.UUID) (Subscriber, error) {
	row := q.db.QueryRowContext(ctx, getSubscriberByID, id)
	return scanSubscriber(row)
}

const incrementSubscriberUsage = `-- name: IncrementSubscriberUsage :one
UPDATE subscribers
SET monthly_usage = monthly_usage + $2,
    daily_usage = CASE WHEN daily_usage_date = $3::date THEN daily_usage + $2 ELSE $2 END,
    daily_usage_date = $3::date,
    updated_at = NOW()
WHERE id = $1
RETURNING monthly_usage, daily_usage`

type IncrementSubscriberUsageParams struct {
	ID    uuid.UUID `json:"id"`
	Units int64     `json:"units"`
	Day   time.Time `json:"day"`
}

type IncrementSubscriberUsageRow struct {
	MonthlyUsage int64 `json:"monthly_usage"`
	DailyUsage   int64 `json:"daily_usage"`
}

// IncrementSubscriberUsage adds units to both counters in a single statement,
// restarting the daily counter when the stored day differs.
func (q *Queries) IncrementSubscriberUsage(ctx context.Context, arg IncrementSubscriberUsageParams) (IncrementSubscriberUsageRow, error) {
	row := q.db.QueryRowContext(ctx, incrementSubscriberUsage, arg.ID, arg.Units, arg.Day)
	var i IncrementSubscriberUsageRow
	err := row.Scan(&i.MonthlyUsage, &i.DailyUsage)
	return i, err
}

const resetSubscriberMonthlyUsage = `-- name: ResetSubscriberMonthlyUsage :execrows
UPDATE subscribers
SET monthly_usage = 0,
    renews_at = $3,
    updated_at = NOW()
WHERE id = $1 AND renews_at = $2`

type ResetSubscriberMonthlyUsageParams struct {
	ID           uuid.UUID `json:"id"`
	RenewsAt     time.Time `json:"renews_at"`
	NextRenewsAt time.Time `json:"next_renews_at"`
}

func (q *Queries) ResetSubscriberMonthlyUsage(ctx context.Context, arg ResetSubscriberMonthlyUsageParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, resetSubscriberMonthlyUsage, arg.ID, arg.RenewsAt, arg.NextRenewsAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updateSubscriberStatus = `-- name: UpdateSubscriberStatus :execrows
UPDATE subscribers
SET status = $2, updated_at = NOW()
WHERE id = $1`

type UpdateSubscriberStatusParams struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

func (q *Queries) UpdateSubscriberStatus(ctx context.Context, arg UpdateSubscriberStatusParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateSubscriberStatus, arg.ID, arg.Status)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updateSubscriberOverage = `-- name: UpdateSubscriberOverage :execrows
UPDATE subscribers
SET overage_enabled = $2, updated_at = NOW()
WHERE id = $1`

type UpdateSubscriberOverageParams struct {
	ID             uuid.UUID `json:"id"`
	OverageEnabled bool      `json:"overage_enabled"`
}

func (q *Queries) UpdateSubscriberOverage(ctx context.Context, arg UpdateSubscriberOverageParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateSubscriberOverage, arg.ID, arg.OverageEnabled)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updateSubscriberPlan = `-- name: UpdateSubscriberPlan :execrows
UPDATE subscribers
SET plan_id = $2,
    pending_downgrade_plan = NULL,
    pending_downgrade_at = NULL,
    updated_at = NOW()
WHERE id = $1`

type UpdateSubscriberPlanParams struct {
	ID     uuid.UUID `json:"id"`
	PlanID string    `json:"plan_id"`
}

func (q *Queries) UpdateSubscriberPlan(ctx context.Context, arg UpdateSubscriberPlanParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateSubscriberPlan, arg.ID, arg.PlanID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const setSubscriberPendingDowngrade = `-- name: SetSubscriberPendingDowngrade :execrows
UPDATE subscribers
SET pending_downgrade_plan = $2,
    pending_downgrade_at = $3,
    updated_at = NOW()
WHERE id = $1`

type SetSubscriberPendingDowngradeParams struct {
	ID                   uuid.UUID      `json:"id"`
	PendingDowngradePlan sql.NullString `json:"pending_downgrade_plan"`
	PendingDowngradeAt   sql.NullTime   `json:"pending_downgrade_at"`
}

func (q *Queries) SetSubscriberPendingDowngrade(ctx context.Context, arg SetSubscriberPendingDowngradeParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, setSubscriberPendingDowngrade, arg.ID, arg.PendingDowngradePlan, arg.PendingDowngradeAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listSubscribersDueForRenewal = `-- name: ListSubscribersDueForRenewal :many
SELECT ` + subscriberColumns + ` FROM subscribers
WHERE renews_at IS NOT NULL AND renews_at <= $1
  AND (renews_at, id) > ($2::timestamptz, $3::uuid)
ORDER BY renews_at, id
LIMIT $4`

type ListSubscribersDueForRenewalParams struct {
	AsOf    time.Time `json:"as_of"`
	AfterAt time.Time `json:"after_at"`
	AfterID uuid.UUID `json:"after_id"`
	Limit   int32     `json:"limit"`
}

func (q *Queries) ListSubscribersDueForRenewal(ctx context.Context, arg ListSubscribersDueForRenewalParams) ([]Subscriber, error) {
	rows, err := q.db.QueryContext(ctx, listSubscribersDueForRenewal, arg.AsOf, arg.AfterAt, arg.AfterID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Subscriber
	for rows.Next() {
		i, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
