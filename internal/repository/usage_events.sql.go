package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const insertUsageEvent = `-- name: InsertUsageEvent :one
INSERT INTO usage_events (id, subscriber_id, action_type, units, overage_units, is_overage, unit_price_cents, counted, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id, subscriber_id, action_type, units, overage_units, is_overage, unit_price_cents, counted, metadata, occurred_at`

type InsertUsageEventParams struct {
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

func (q *Queries) InsertUsageEvent(ctx context.Context, arg InsertUsageEventParams) (UsageEvent, error) {
	row := q.db.QueryRowContext(ctx, insertUsageEvent,
		arg.ID,
		arg.SubscriberID,
		arg.ActionType,
		arg.Units,
		arg.OverageUnits,
		arg.IsOverage,
		arg.UnitPriceCents,
		arg.Counted,
		arg.Metadata,
		arg.OccurredAt,
	)
	var i UsageEvent
	err := row.Scan(
		&i.ID,
		&i.SubscriberID,
		&i.ActionType,
		&i.Units,
		&i.OverageUnits,
		&i.IsOverage,
		&i.UnitPriceCents,
		&i.Counted,
		&i.Metadata,
		&i.OccurredAt,
	)
	return i, err
}

const sumUsageUnitsBetween = `-- name: SumUsageUnitsBetween :one
SELECT COALESCE(SUM(units), 0)::bigint
FROM usage_events
WHERE subscriber_id = $1 AND occurred_at >= $2 AND occurred_at < $3`

type SumUsageUnitsBetweenParams struct {
	SubscriberID uuid.UUID `json:"subscriber_id"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
}

func (q *Queries) SumUsageUnitsBetween(ctx context.Context, arg SumUsageUnitsBetweenParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, sumUsageUnitsBetween, arg.SubscriberID, arg.From, arg.To)
	var total int64
	err := row.Scan(&total)
	return total, err
}
