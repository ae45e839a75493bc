package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const subscriptionChangeColumns = `id, subscriber_id, from_plan, to_plan, change_type, status, scheduled_at, blocked_reason, last_checked_at, created_at, updated_at`

func scanSubscriptionChange(row interface{ Scan(...interface{}) error }) (SubscriptionChange, error) {
	var i SubscriptionChange
	err := row.Scan(
		&i.ID,
		&i.SubscriberID,
		&i.FromPlan,
		&i.ToPlan,
		&i.ChangeType,
		&i.Status,
		&i.ScheduledAt,
		&i.BlockedReason,
		&i.LastCheckedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const insertSubscriptionChange = `-- name: InsertSubscriptionChange :one
INSERT INTO subscription_changes (id, subscriber_id, from_plan, to_plan, change_type, status, scheduled_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
RETURNING ` + subscriptionChangeColumns

type InsertSubscriptionChangeParams struct {
	ID           uuid.UUID `json:"id"`
	SubscriberID uuid.UUID `json:"subscriber_id"`
	FromPlan     string    `json:"from_plan"`
	ToPlan       string    `json:"to_plan"`
	ChangeType   string    `json:"change_type"`
	Status       string    `json:"status"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (q *Queries) InsertSubscriptionChange(ctx context.Context, arg InsertSubscriptionChangeParams) (SubscriptionChange, error) {
	row := q.db.QueryRowContext(ctx, insertSubscriptionChange,
		arg.ID,
		arg.SubscriberID,
		arg.FromPlan,
		arg.ToPlan,
		arg.ChangeType,
		arg.Status,
		arg.ScheduledAt,
		arg.CreatedAt,
	)
	return scanSubscriptionChange(row)
}

const getPendingSubscriptionChange = `-- name: GetPendingSubscriptionChange :one
SELECT ` + subscriptionChangeColumns + ` FROM subscription_changes
WHERE subscriber_id = $1 AND status = 'pending'`

func (q *Queries) GetPendingSubscriptionChange(ctx context.Context, subscriberID uuid.UUID) (SubscriptionChange, error) {
	row := q.db.QueryRowContext(ctx, getPendingSubscriptionChange, subscriberID)
	return scanSubscriptionChange(row)
}

const updateSubscriptionChangeStatus = `-- name: UpdateSubscriptionChangeStatus :execrows
UPDATE subscription_changes
SET status = $3, updated_at = NOW()
WHERE id = $1 AND status = $2`

type UpdateSubscriptionChangeStatusParams struct {
	ID         uuid.UUID `json:"id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
}

func (q *Queries) UpdateSubscriptionChangeStatus(ctx context.Context, arg UpdateSubscriptionChangeStatusParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateSubscriptionChangeStatus, arg.ID, arg.FromStatus, arg.ToStatus)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markSubscriptionChangeBlocked = `-- name: MarkSubscriptionChangeBlocked :execrows
UPDATE subscription_changes
SET blocked_reason = $2, last_checked_at = $3, updated_at = NOW()
WHERE id = $1 AND status = 'pending'`

type MarkSubscriptionChangeBlockedParams struct {
	ID            uuid.UUID      `json:"id"`
	BlockedReason sql.NullString `json:"blocked_reason"`
	LastCheckedAt sql.NullTime   `json:"last_checked_at"`
}

func (q *Queries) MarkSubscriptionChangeBlocked(ctx context.Context, arg MarkSubscriptionChangeBlockedParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, markSubscriptionChangeBlocked, arg.ID, arg.BlockedReason, arg.LastCheckedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listDueSubscriptionChanges = `-- name: ListDueSubscriptionChanges :many
SELECT ` + subscriptionChangeColumns + ` FROM subscription_changes
WHERE status = 'pending' AND scheduled_at <= $1
  AND (scheduled_at, id) > ($2::timestamptz, $3::uuid)
ORDER BY scheduled_at, id
LIMIT $4`

type ListDueSubscriptionChangesParams struct {
	AsOf    time.Time `json:"as_of"`
	AfterAt time.Time `json:"after_at"`
	AfterID uuid.UUID `json:"after_id"`
	Limit   int32     `json:"limit"`
}

func (q *Queries) ListDueSubscriptionChanges(ctx context.Context, arg ListDueSubscriptionChangesParams) ([]SubscriptionChange, error) {
	rows, err := q.db.QueryContext(ctx, listDueSubscriptionChanges, arg.AsOf, arg.AfterAt, arg.AfterID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SubscriptionChange
	for rows.Next() {
		i, err := scanSubscriptionChange(rows)
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
