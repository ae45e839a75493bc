package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionChange_TransitionTo(t *testing.T) {
	tests := []struct {
		name      string
		from      ChangeStatus
		to        ChangeStatus
		wantErr   bool
		wantState ChangeStatus
	}{
		{"pending to applied", ChangeStatusPending, ChangeStatusApplied, false, ChangeStatusApplied},
		{"pending to canceled", ChangeStatusPending, ChangeStatusCanceled, false, ChangeStatusCanceled},
		{"applied to canceled", ChangeStatusApplied, ChangeStatusCanceled, true, ChangeStatusApplied},
		{"canceled to applied", ChangeStatusCanceled, ChangeStatusApplied, true, ChangeStatusCanceled},
		{"pending to pending", ChangeStatusPending, ChangeStatusPending, true, ChangeStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change := &SubscriptionChange{Status: tt.from}
			err := change.TransitionTo(tt.to)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "cannot transition")
				assert.Equal(t, tt.from, change.Status)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.wantState, change.Status)
			}
		})
	}
}

func TestSubscriptionChange_IsDue(t *testing.T) {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := &SubscriptionChange{Status: ChangeStatusPending, ScheduledAt: at}

	assert.False(t, c.IsDue(at.Add(-time.Second)))
	assert.True(t, c.IsDue(at))
	assert.True(t, c.IsDue(at.Add(time.Hour)))

	c.Status = ChangeStatusCanceled
	assert.False(t, c.IsDue(at.Add(time.Hour)))
}

func TestBillableSeats(t *testing.T) {
	assert.Equal(t, int64(1), BillableSeats(4, 3))
	assert.Equal(t, int64(0), BillableSeats(3, 3))
	assert.Equal(t, int64(0), BillableSeats(0, 3))
}

func TestTeamBillingState_NeedsReport(t *testing.T) {
	s := &TeamBillingState{BillableAdditionalSeats: 1}
	assert.True(t, s.NeedsReport())

	one := int64(1)
	s.ReportedSeats = &one
	assert.False(t, s.NeedsReport())

	s.BillableAdditionalSeats = 0
	assert.True(t, s.NeedsReport())
}

func TestErrorHelpers(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", UsageExceedsTargetPlan("plan_change.downgrade", 45, 10))

	assert.Equal(t, EINVALID, ErrorCode(err))
	assert.Equal(t, ReasonUsageExceedsTargetPlan, ErrorReason(err))
	assert.Equal(t, "plan_change.downgrade", ErrorOp(err))

	current, limit, ok := ErrorLimits(err)
	assert.True(t, ok)
	assert.Equal(t, int64(45), current)
	assert.Equal(t, int64(10), limit)

	_, _, ok = ErrorLimits(NoPendingDowngrade("op"))
	assert.False(t, ok)

	internal := CounterUpdateFailed(errors.New("connection reset"), "usage.increment")
	assert.Equal(t, ReasonCounterUpdateFailed, ErrorReason(internal))
	assert.Equal(t, "An internal error occurred. Please try again later.", ErrorMessage(internal))
	assert.Equal(t, EINTERNAL, ErrorCode(errors.New("plain")))
}

func TestFormatCents(t *testing.T) {
	assert.Contains(t, FormatCents(10, DefaultCurrency), "0.10")
	assert.Contains(t, FormatCents(1999, DefaultCurrency), "19.99")
}
