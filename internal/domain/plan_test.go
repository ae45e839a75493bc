package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlanID_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b PlanID
		want int
	}{
		{"free below basic", PlanFree, PlanBasic, -1},
		{"basic below pro", PlanBasic, PlanPro, -1},
		{"pro below agency", PlanPro, PlanAgency, -1},
		{"agency above free", PlanAgency, PlanFree, 1},
		{"same tier", PlanPro, PlanPro, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
		})
	}
}

func TestParsePlanID(t *testing.T) {
	id, ok := ParsePlanID("  Pro ")
	assert.True(t, ok)
	assert.Equal(t, PlanPro, id)

	_, ok = ParsePlanID("enterprise")
	assert.False(t, ok)
	assert.Equal(t, -1, PlanID("enterprise").Ordinal())
}

func TestLimit(t *testing.T) {
	assert.True(t, Limit(60).Allows(59))
	assert.False(t, Limit(60).Allows(60))
	assert.True(t, Limit(60).Fits(60))
	assert.False(t, Limit(60).Fits(61))
	assert.True(t, Unlimited.Allows(1_000_000))
	assert.True(t, Unlimited.Fits(1_000_000))
	assert.Equal(t, "unlimited", Unlimited.String())
	assert.Equal(t, "60", Limit(60).String())
}

func TestPlan_Validate(t *testing.T) {
	valid := Plan{ID: PlanBasic, Name: "Basic", MonthlyLimit: 60, DailyLimit: Unlimited, OveragePriceCents: 10, IncludedSeats: 1}
	assert.NoError(t, valid.Validate())
	assert.True(t, valid.AllowsOverage())

	tests := []struct {
		name   string
		mutate func(p *Plan)
	}{
		{"unknown tier", func(p *Plan) { p.ID = "gold" }},
		{"missing name", func(p *Plan) { p.Name = "" }},
		{"negative monthly limit", func(p *Plan) { p.MonthlyLimit = -5 }},
		{"negative daily limit", func(p *Plan) { p.DailyLimit = -2 }},
		{"negative overage price", func(p *Plan) { p.OveragePriceCents = -1 }},
		{"negative seats", func(p *Plan) { p.IncludedSeats = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestPlan_AllowsOverage_UnlimitedPlan(t *testing.T) {
	p := Plan{ID: PlanAgency, Name: "Agency", MonthlyLimit: Unlimited, OveragePriceCents: 5}
	assert.False(t, p.AllowsOverage())
}

func TestSubscriber_UsageAt(t *testing.T) {
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	s := &Subscriber{MonthlyUsage: 40, DailyUsage: 7, DailyUsageDate: day}

	sameDay := s.UsageAt(day.Add(23 * time.Hour))
	assert.Equal(t, Usage{Monthly: 40, Daily: 7}, sameDay)

	nextDay := s.UsageAt(day.Add(25 * time.Hour))
	assert.Equal(t, Usage{Monthly: 40, Daily: 0}, nextDay)
}

func TestSubscriber_NextRenewal(t *testing.T) {
	now := time.Date(2026, 12, 20, 15, 0, 0, 0, time.UTC)

	s := &Subscriber{}
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), s.NextRenewal(now))

	renews := time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC)
	s.RenewsAt = &renews
	assert.Equal(t, renews, s.NextRenewal(now))
}

func TestNextRenewalAfter(t *testing.T) {
	renewal := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	asOf := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC), NextRenewalAfter(renewal, asOf))
}

func TestSubscriptionStatus_PermitsUsage(t *testing.T) {
	assert.True(t, SubscriptionStatusActive.PermitsUsage())
	assert.True(t, SubscriptionStatusTrialing.PermitsUsage())
	assert.False(t, SubscriptionStatusPastDue.PermitsUsage())
	assert.False(t, SubscriptionStatusCanceled.PermitsUsage())
}
