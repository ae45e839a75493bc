package billing

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageReport_IdempotencyKey(t *testing.T) {
	id := uuid.MustParse("5b0f4a8e-8c52-4f3e-9d57-3b1e0d6a2f11")
	period := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	a := UsageReport{SubscriberID: id, Period: period, Feature: "repurpose_overage", Quantity: 3}
	b := a

	assert.Equal(t, a.IdempotencyKey(), b.IdempotencyKey())
	assert.Equal(t, "usage:5b0f4a8e-8c52-4f3e-9d57-3b1e0d6a2f11:2026-05-01:repurpose_overage:3", a.IdempotencyKey())

	b.Quantity = 4
	assert.NotEqual(t, a.IdempotencyKey(), b.IdempotencyKey())
}

func TestStripeLedger_RequiresItem(t *testing.T) {
	l := &StripeLedger{timeout: time.Second, logger: slog.Default()}

	err := l.ReportUsage(context.Background(), UsageReport{SubscriberID: uuid.New(), Quantity: 1})
	assert.ErrorIs(t, err, ErrNoLedgerItem)

	err = l.SetSeatQuantity(context.Background(), SeatReport{TeamID: uuid.New(), Quantity: 1})
	assert.ErrorIs(t, err, ErrNoLedgerItem)
}

func TestLogLedger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogLedger(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, l.ReportUsage(context.Background(), UsageReport{
		SubscriberID: uuid.New(),
		Period:       time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Feature:      "repurpose_overage",
		Quantity:     7,
	}))
	require.NoError(t, l.SetSeatQuantity(context.Background(), SeatReport{TeamID: uuid.New(), Quantity: 2}))

	out := buf.String()
	assert.Contains(t, out, "quantity=7")
	assert.Contains(t, out, "period=2026-05-01")
	assert.Contains(t, out, "quantity=2")
}
