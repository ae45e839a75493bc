package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/plans"
	"github.com/DukeRupert/meterline/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenewalService_RenewDue(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	archive, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, testLogger())
	require.NoError(t, err)
	svc := NewRenewalService(e.store, plans.Default(), archive, testLogger(), WithClock(e.clock.Now))

	sub := e.seed(t, domain.PlanBasic, 60, true)
	_, err = e.entitlements.RecordUsage(ctx, RecordUsageParams{SubscriberID: sub.ID, Units: 2})
	require.NoError(t, err)

	renewal := *sub.RenewsAt
	notDue := e.seed(t, domain.PlanPro, 5, false)
	later := renewal.AddDate(0, 0, 10)
	_, err = e.store.ResetMonthlyUsage(ctx, notDue.ID, renewal, later)
	require.NoError(t, err)

	asOf := renewal.Add(2 * time.Hour)
	result, err := svc.RenewDue(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Renewed)
	assert.Equal(t, 0, result.Failed)

	got := e.subscriber(t, sub.ID)
	assert.Equal(t, int64(0), got.MonthlyUsage)
	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), *got.RenewsAt)

	statement, err := storage.LoadStatement(ctx, archive, sub.ID, domain.PeriodStart(renewal))
	require.NoError(t, err)
	assert.Equal(t, int64(62), statement.UnitsUsed)
	assert.Equal(t, domain.Limit(60), statement.IncludedUnits)
	assert.Equal(t, int64(2), statement.OverageUnits)
	assert.Equal(t, int64(20), statement.OverageAmountCents)
	assert.Equal(t, renewal, statement.PeriodEnd.UTC())

	// A second tick for the same instant has nothing left to do.
	result, err = svc.RenewDue(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Renewed)
}

func TestRenewalService_WithoutArchive(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	svc := NewRenewalService(e.store, plans.Default(), nil, testLogger(), WithClock(e.clock.Now))

	sub := e.seed(t, domain.PlanFree, 9, false)
	renewal := *sub.RenewsAt

	// Two missed months are skipped in one tick.
	result, err := svc.RenewDue(ctx, renewal.AddDate(0, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Renewed)
	assert.Equal(t, renewal.AddDate(0, 3, 0), *e.subscriber(t, sub.ID).RenewsAt)
}

// rejectingArchive fails to store statements for the listed subscribers.
type rejectingArchive struct {
	storage.Storage
	reject map[uuid.UUID]bool
}

func (a rejectingArchive) Put(ctx context.Context, key string, data io.Reader, opts storage.PutOptions) error {
	for id := range a.reject {
		if strings.HasPrefix(key, storage.StatementPrefix(id)) {
			return errors.New("bucket unavailable")
		}
	}
	return a.Storage.Put(ctx, key, data, opts)
}

func TestRenewalService_PagesPastFailingArchives(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	local, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, testLogger())
	require.NoError(t, err)
	archive := rejectingArchive{Storage: local, reject: map[uuid.UUID]bool{}}
	svc := NewRenewalService(e.store, plans.Default(), archive, testLogger(),
		WithClock(e.clock.Now), WithBatchSize(2))

	for i := 0; i < 4; i++ {
		sub := e.seed(t, domain.PlanBasic, 10, false)
		archive.reject[sub.ID] = true
	}

	// Renews after every failing subscriber, so it sorts last.
	renewsAt := domain.FirstOfNextMonth(testNow).Add(time.Hour)
	last := &domain.Subscriber{
		ID:             uuid.New(),
		PlanID:         domain.PlanBasic,
		Status:         domain.SubscriptionStatusActive,
		RenewsAt:       &renewsAt,
		MonthlyUsage:   7,
		DailyUsageDate: domain.Day(testNow),
	}
	require.NoError(t, e.store.CreateSubscriber(ctx, last))

	result, err := svc.RenewDue(ctx, renewsAt)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Failed)
	assert.Equal(t, 1, result.Renewed)
	assert.Equal(t, int64(0), e.subscriber(t, last.ID).MonthlyUsage)
}
