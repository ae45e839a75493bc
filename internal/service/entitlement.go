package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/metrics"
	"github.com/DukeRupert/meterline/internal/plans"
	"github.com/DukeRupert/meterline/internal/store"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EntitlementService decides whether metered actions may run and records
// them once they have.
type EntitlementService interface {
	// CanPerformAction is a read-only check. A denial is a normal decision,
	// not an error; errors are reserved for unknown subscribers and plans.
	CanPerformAction(ctx context.Context, subscriberID uuid.UUID, action domain.ActionType) (domain.Decision, error)

	// RecordUsage meters an action that has already completed: it increments
	// the counters, appends a usage event and charges any units past the
	// monthly limit.
	RecordUsage(ctx context.Context, params RecordUsageParams) (*domain.UsageRecord, error)
}

// RecordUsageParams contains parameters for recording consumed units.
type RecordUsageParams struct {
	SubscriberID uuid.UUID
	Action       domain.ActionType
	Units        int64
	Metadata     map[string]string
}

// =============================================================================
// Implementation
// =============================================================================

type entitlementService struct {
	store   store.Store
	plans   *plans.Registry
	usage   UsageService
	overage OverageService
	logger  *slog.Logger
	now     func() time.Time
}

// NewEntitlementService creates a new EntitlementService.
func NewEntitlementService(
	st store.Store,
	registry *plans.Registry,
	usage UsageService,
	overage OverageService,
	logger *slog.Logger,
	opts ...Option,
) EntitlementService {
	o := buildOptions(opts)
	return &entitlementService{
		store:   st,
		plans:   registry,
		usage:   usage,
		overage: overage,
		logger:  logger,
		now:     o.now,
	}
}

func (s *entitlementService) CanPerformAction(ctx context.Context, subscriberID uuid.UUID, action domain.ActionType) (domain.Decision, error) {
	const op = "entitlement.check"

	sub, err := loadSubscriber(ctx, s.store, op, subscriberID)
	if err != nil {
		return domain.Decision{}, err
	}
	plan, err := s.plans.PlanFor(sub.PlanID)
	if err != nil {
		return domain.Decision{}, withOp(err, op)
	}

	decision := decide(sub, plan, sub.UsageAt(s.now()))
	metrics.Decision(decision.Allowed, decision.IsOverage, string(decision.Reason))

	if !decision.Allowed {
		s.logger.Debug("action denied",
			"subscriber_id", subscriberID,
			"action", action,
			"reason", decision.Reason,
			"used", decision.Used,
			"limit", decision.Limit,
		)
	}
	return decision, nil
}

// decide applies the entitlement rules in order: subscription status, the
// daily hard cap, then the monthly limit with optional paid overage.
func decide(sub *domain.Subscriber, plan domain.Plan, usage domain.Usage) domain.Decision {
	if !sub.Status.PermitsUsage() {
		return domain.Deny(domain.ReasonSubscriptionNotActive, usage.Monthly, plan.MonthlyLimit)
	}
	if !plan.DailyLimit.Allows(usage.Daily) {
		return domain.Deny(domain.ReasonDailyLimitReached, usage.Daily, plan.DailyLimit)
	}
	if plan.MonthlyLimit.Allows(usage.Monthly) {
		return domain.Allow(false, usage.Monthly, plan.MonthlyLimit)
	}
	if overageChargeable(sub, plan) {
		return domain.Allow(true, usage.Monthly, plan.MonthlyLimit)
	}
	return domain.Deny(domain.ReasonMonthlyLimitReached, usage.Monthly, plan.MonthlyLimit)
}

func overageChargeable(sub *domain.Subscriber, plan domain.Plan) bool {
	return sub.OverageEnabled && plan.AllowsOverage()
}

// overUnits returns how many of the units just added pushed the monthly
// counter past limit.
func overUnits(monthlyAfter, units int64, limit domain.Limit) int64 {
	if limit.IsUnlimited() || monthlyAfter <= int64(limit) {
		return 0
	}
	over := monthlyAfter - int64(limit)
	if over > units {
		return units
	}
	return over
}

func (s *entitlementService) RecordUsage(ctx context.Context, params RecordUsageParams) (*domain.UsageRecord, error) {
	const op = "entitlement.record_usage"

	if params.Units == 0 {
		params.Units = 1
	}
	if params.Units < 0 {
		return nil, domain.Invalid(op, "units must be positive")
	}
	if params.Action == "" {
		params.Action = domain.ActionRepurpose
	}

	sub, err := loadSubscriber(ctx, s.store, op, params.SubscriberID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.PlanFor(sub.PlanID)
	if err != nil {
		return nil, withOp(err, op)
	}

	now := s.now().UTC()
	event := &domain.UsageEvent{
		ID:           uuid.New(),
		SubscriberID: sub.ID,
		ActionType:   params.Action,
		Units:        params.Units,
		Metadata:     params.Metadata,
		OccurredAt:   now,
	}

	usage, err := s.usage.Increment(ctx, sub.ID, params.Units)
	if err != nil {
		if domain.ErrorReason(err) == domain.ReasonCounterUpdateFailed {
			// The action already happened. Keep an uncounted audit row so the
			// counter can be reconciled by hand.
			if insertErr := s.store.InsertUsageEvent(ctx, event); insertErr != nil {
				s.logger.Error("failed to append uncounted usage event",
					"subscriber_id", sub.ID,
					"units", params.Units,
					"error", insertErr,
				)
			}
		}
		return nil, err
	}
	event.Counted = true

	over := overUnits(usage.Monthly, params.Units, plan.MonthlyLimit)
	charge := over > 0 && overageChargeable(sub, plan)

	switch {
	case charge:
		event.IsOverage = true
		event.OverageUnits = over
		event.UnitPriceCents = plan.OveragePriceCents
		metrics.UsageUnits.WithLabelValues("included").Add(float64(params.Units - over))
		metrics.UsageUnits.WithLabelValues("overage").Add(float64(over))
	case over > 0:
		s.logger.Warn("usage exceeded monthly limit without overage",
			"subscriber_id", sub.ID,
			"plan", plan.ID,
			"monthly_usage", usage.Monthly,
			"monthly_limit", plan.MonthlyLimit,
			"units_over", over,
		)
		metrics.UsageUnits.WithLabelValues("included").Add(float64(params.Units - over))
		metrics.UsageUnits.WithLabelValues("uncharged").Add(float64(over))
	default:
		metrics.UsageUnits.WithLabelValues("included").Add(float64(params.Units))
	}

	if err := s.store.InsertUsageEvent(ctx, event); err != nil {
		s.logger.Error("failed to append usage event",
			"op", op,
			"subscriber_id", sub.ID,
			"event_id", event.ID,
			"error", err,
		)
	}

	record := &domain.UsageRecord{Usage: usage, Event: event}
	if !charge {
		return record, nil
	}

	c, err := s.overage.RecordOverage(ctx, sub.ID, over, plan.OveragePriceCents)
	if err != nil && c == nil {
		s.logger.Error("failed to record overage charge",
			"op", op,
			"subscriber_id", sub.ID,
			"units", over,
			"error", err,
		)
		return record, err
	}
	record.Charge = c
	return record, nil
}
