package service

import (
	"context"
	"testing"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberService_Signup(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	sub, err := e.subscribers.Signup(ctx, SignupParams{LedgerUsageItemID: "si_usage"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, sub.ID)
	assert.Equal(t, domain.PlanFree, sub.PlanID)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), *sub.RenewsAt)

	got, err := e.subscribers.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "si_usage", got.LedgerUsageItemID)
	assert.Equal(t, int64(0), got.MonthlyUsage)

	_, err = e.subscribers.Signup(ctx, SignupParams{ID: sub.ID})
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
}

func TestSubscriberService_SetStatus(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	sub := e.seed(t, domain.PlanBasic, 0, false)

	tests := []struct {
		name   string
		id     uuid.UUID
		status domain.SubscriptionStatus
		code   string
	}{
		{"past due", sub.ID, domain.SubscriptionStatusPastDue, ""},
		{"unknown status", sub.ID, domain.SubscriptionStatus("frozen"), domain.EINVALID},
		{"unknown subscriber", uuid.New(), domain.SubscriptionStatusActive, domain.ENOTFOUND},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.subscribers.SetStatus(ctx, tt.id, tt.status)
			if tt.code != "" {
				require.Error(t, err)
				assert.Equal(t, tt.code, domain.ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.status, e.subscriber(t, tt.id).Status)
		})
	}
}

func TestSubscriberService_SetOverageEnabled(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	sub := e.seed(t, domain.PlanBasic, 60, false)

	d, err := e.entitlements.CanPerformAction(ctx, sub.ID, domain.ActionRepurpose)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	require.NoError(t, e.subscribers.SetOverageEnabled(ctx, sub.ID, true))

	d, err = e.entitlements.CanPerformAction(ctx, sub.ID, domain.ActionRepurpose)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.IsOverage)
}
