package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const overageChargeColumns = `id, subscriber_id, units, unit_price_cents, amount_cents, currency, status, period, feature, attempts, last_error, created_at, billed_at`

func scanOverageCharge(row interface{ Scan(...interface{}) error }) (OverageCharge, error) {
	var i OverageCharge
	err := row.Scan(
		&i.ID,
		&i.SubscriberID,
		&i.Units,
		&i.UnitPriceCents,
		&i.AmountCents,
		&i.Currency,
		&i.Status,
		&i.Period,
		&i.Feature,
		&i.Attempts,
		&i.LastError,
		&i.CreatedAt,
		&i.BilledAt,
	)
	return i, err
}

func collectOverageCharges(rows *sql.Rows) ([]OverageCharge, error) {
	defer rows.Close()
	var items []OverageCharge
	for rows.Next() {
		i, err := scanOverageCharge(rows)
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

const insertOverageCharge = `-- name: InsertOverageCharge :one
INSERT INTO overage_charges (id, subscriber_id, units, unit_price_cents, amount_cents, currency, status, period, feature, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date, $9, $10)
RETURNING ` + overageChargeColumns

type InsertOverageChargeParams struct {
	ID             uuid.UUID `json:"id"`
	SubscriberID   uuid.UUID `json:"subscriber_id"`
	Units          int64     `json:"units"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	Period         time.Time `json:"period"`
	Feature        string    `json:"feature"`
	CreatedAt      time.Time `json:"created_at"`
}

func (q *Queries) InsertOverageCharge(ctx context.Context, arg InsertOverageChargeParams) (OverageCharge, error) {
	row := q.db.QueryRowContext(ctx, insertOverageCharge,
		arg.ID,
		arg.SubscriberID,
		arg.Units,
		arg.UnitPriceCents,
		arg.AmountCents,
		arg.Currency,
		arg.Status,
		arg.Period,
		arg.Feature,
		arg.CreatedAt,
	)
	return scanOverageCharge(row)
}

const listPendingOverageCharges = `-- name: ListPendingOverageCharges :many
SELECT ` + overageChargeColumns + ` FROM overage_charges
WHERE status = 'pending'
ORDER BY created_at
LIMIT $1`

func (q *Queries) ListPendingOverageCharges(ctx context.Context, limit int32) ([]OverageCharge, error) {
	rows, err := q.db.QueryContext(ctx, listPendingOverageCharges, limit)
	if err != nil {
		return nil, err
	}
	return collectOverageCharges(rows)
}

const listOverageChargesForPeriod = `-- name: ListOverageChargesForPeriod :many
SELECT ` + overageChargeColumns + ` FROM overage_charges
WHERE subscriber_id = $1 AND period = $2::date
ORDER BY created_at`

type ListOverageChargesForPeriodParams struct {
	SubscriberID uuid.UUID `json:"subscriber_id"`
	Period       time.Time `json:"period"`
}

func (q *Queries) ListOverageChargesForPeriod(ctx context.Context, arg ListOverageChargesForPeriodParams) ([]OverageCharge, error) {
	rows, err := q.db.QueryContext(ctx, listOverageChargesForPeriod, arg.SubscriberID, arg.Period)
	if err != nil {
		return nil, err
	}
	return collectOverageCharges(rows)
}

const markOverageChargeBilled = `-- name: MarkOverageChargeBilled :execrows
UPDATE overage_charges
SET status = 'billed', billed_at = $2, attempts = attempts + 1, last_error = NULL
WHERE id = $1 AND status = 'pending'`

type MarkOverageChargeBilledParams struct {
	ID       uuid.UUID `json:"id"`
	BilledAt time.Time `json:"billed_at"`
}

func (q *Queries) MarkOverageChargeBilled(ctx context.Context, arg MarkOverageChargeBilledParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, markOverageChargeBilled, arg.ID, arg.BilledAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const recordOverageChargeAttempt = `-- name: RecordOverageChargeAttempt :one
UPDATE overage_charges
SET attempts = attempts + 1,
    last_error = $2,
    status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE status END
WHERE id = $1 AND status = 'pending'
RETURNING ` + overageChargeColumns

type RecordOverageChargeAttemptParams struct {
	ID          uuid.UUID      `json:"id"`
	LastError   sql.NullString `json:"last_error"`
	MaxAttempts int32          `json:"max_attempts"`
}

// RecordOverageChargeAttempt counts a failed delivery and moves the charge to
// failed once MaxAttempts is reached.
func (q *Queries) RecordOverageChargeAttempt(ctx context.Context, arg RecordOverageChargeAttemptParams) (OverageCharge, error) {
	row := q.db.QueryRowContext(ctx, recordOverageChargeAttempt, arg.ID, arg.LastError, arg.MaxAttempts)
	return scanOverageCharge(row)
}
