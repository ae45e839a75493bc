package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/DukeRupert/meterline/internal/billing"
	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverageService_ReportsPeriodTotal(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	sub := e.seed(t, domain.PlanBasic, 60, true)

	_, err := e.overage.RecordOverage(ctx, sub.ID, 1, 10)
	require.NoError(t, err)
	_, err = e.overage.RecordOverage(ctx, sub.ID, 2, 10)
	require.NoError(t, err)

	reports := e.ledger.usageReports()
	require.Len(t, reports, 2)
	assert.Equal(t, int64(1), reports[0].Quantity)
	assert.Equal(t, int64(3), reports[1].Quantity, "each report carries the period total")
	assert.Equal(t, DefaultOverageFeature, reports[1].Feature)
	assert.NotEqual(t, reports[0].IdempotencyKey(), reports[1].IdempotencyKey())
}

func TestOverageService_RetryPending(t *testing.T) {
	ctx := context.Background()

	t.Run("pending charges are billed once the ledger recovers", func(t *testing.T) {
		e := newEngine(t)
		sub := e.seed(t, domain.PlanPro, 250, true)

		e.ledger.usageErr = errors.New("ledger unavailable")
		charge, err := e.overage.RecordOverage(ctx, sub.ID, 2, 8)
		require.Error(t, err)
		assert.Equal(t, domain.ReasonLedgerReportFailed, domain.ErrorReason(err))
		require.NotNil(t, charge)
		assert.Equal(t, domain.ChargeStatusPending, charge.Status)
		assert.Equal(t, "ledger unavailable", charge.LastError)

		e.ledger.usageErr = nil
		result, err := e.overage.RetryPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Periods)
		assert.Equal(t, int64(1), result.Billed)

		charges, err := e.store.ListOverageChargesForPeriod(ctx, sub.ID, charge.Period)
		require.NoError(t, err)
		require.Len(t, charges, 1)
		assert.Equal(t, domain.ChargeStatusBilled, charges[0].Status)
		assert.NotNil(t, charges[0].BilledAt)
	})

	t.Run("charges fail after max attempts and raise an alert", func(t *testing.T) {
		e := newEngine(t)
		sub := e.seed(t, domain.PlanPro, 250, true)
		e.ledger.usageErr = errors.New("ledger unavailable")

		charge, err := e.overage.RecordOverage(ctx, sub.ID, 1, 8)
		require.Error(t, err)

		result, err := e.overage.RetryPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Failed)

		charges, err := e.store.ListOverageChargesForPeriod(ctx, sub.ID, charge.Period)
		require.NoError(t, err)
		require.Len(t, charges, 1)
		assert.Equal(t, domain.ChargeStatusFailed, charges[0].Status)
		assert.Equal(t, 2, charges[0].Attempts)

		require.Len(t, e.notifier.failed, 1)
		assert.Equal(t, charge.ID, e.notifier.failed[0].ID)

		// Failed charges are no longer retried.
		result, err = e.overage.RetryPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Periods)
	})

	t.Run("nothing pending", func(t *testing.T) {
		e := newEngine(t)
		result, err := e.overage.RetryPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, &RetryResult{}, result)
	})
}

func TestOverageService_RecordOverageValidation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	sub := e.seed(t, domain.PlanBasic, 60, true)

	tests := []struct {
		name  string
		id    uuid.UUID
		units int64
		price int64
		code  string
	}{
		{"zero units", sub.ID, 0, 10, domain.EINVALID},
		{"zero price", sub.ID, 1, 0, domain.EINVALID},
		{"unknown subscriber", uuid.New(), 1, 10, domain.ENOTFOUND},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.overage.RecordOverage(ctx, tt.id, tt.units, tt.price)
			require.Error(t, err)
			assert.Equal(t, tt.code, domain.ErrorCode(err))
		})
	}
}

func TestOverageService_ChargeStoredDuringReportStaysPending(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	sub := e.seed(t, domain.PlanBasic, 60, true)

	var late *domain.OverageCharge
	var once sync.Once
	e.ledger.onUsage = func(r billing.UsageReport) {
		once.Do(func() {
			// A concurrent request stores its charge while the first
			// report is in flight.
			late = &domain.OverageCharge{
				ID: uuid.New(), SubscriberID: sub.ID, Units: 1, UnitPriceCents: 10, AmountCents: 10,
				Currency: domain.DefaultCurrency, Status: domain.ChargeStatusPending,
				Period: r.Period, Feature: DefaultOverageFeature, CreatedAt: testNow,
			}
			require.NoError(t, e.store.InsertOverageCharge(ctx, late))
		})
	}

	first, err := e.overage.RecordOverage(ctx, sub.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeStatusBilled, first.Status)

	billedUnits := func() int64 {
		charges, err := e.store.ListOverageChargesForPeriod(ctx, sub.ID, first.Period)
		require.NoError(t, err)
		var n int64
		for _, c := range charges {
			if c.Status == domain.ChargeStatusBilled {
				n += c.Units
			}
		}
		return n
	}

	reports := e.ledger.usageReports()
	require.Len(t, reports, 1)
	assert.Equal(t, int64(1), reports[0].Quantity)
	assert.Equal(t, int64(1), billedUnits(), "only the reported charge is billed")

	result, err := e.overage.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Billed)

	reports = e.ledger.usageReports()
	require.Len(t, reports, 2)
	assert.Equal(t, int64(2), reports[1].Quantity)
	assert.Equal(t, reports[1].Quantity, billedUnits())
}

func TestOverageService_ConcurrentRecordsReportFullTotal(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	sub := e.seed(t, domain.PlanPro, 250, true)

	const requests = 20
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.overage.RecordOverage(ctx, sub.ID, 1, 8)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	reports := e.ledger.usageReports()
	require.NotEmpty(t, reports)
	assert.Equal(t, int64(requests), reports[len(reports)-1].Quantity)
	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i].Quantity, reports[i-1].Quantity, "reports arrive in total order")
	}
}
