package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/metrics"
	"github.com/DukeRupert/meterline/internal/notify"
	"github.com/DukeRupert/meterline/internal/plans"
	"github.com/DukeRupert/meterline/internal/store"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// PlanChangeService validates and schedules plan transitions. Upgrades take
// effect immediately; downgrades wait for the subscriber's next renewal.
type PlanChangeService interface {
	RequestUpgrade(ctx context.Context, subscriberID uuid.UUID, target domain.PlanID) (*domain.SubscriptionChange, error)

	// RequestDowngrade schedules a downgrade, replacing any pending one.
	// Current monthly usage and owned team sizes must fit the target plan.
	RequestDowngrade(ctx context.Context, subscriberID uuid.UUID, target domain.PlanID) (*domain.SubscriptionChange, error)

	CancelPendingDowngrade(ctx context.Context, subscriberID uuid.UUID) error

	// ApplyDueDowngrades applies pending downgrades scheduled at or before
	// asOf. Each one is re-validated; a change that no longer fits stays
	// pending and is reported through the notifier.
	ApplyDueDowngrades(ctx context.Context, asOf time.Time) (*domain.SweepResult, error)
}

// =============================================================================
// Implementation
// =============================================================================

type planChangeService struct {
	store    store.Store
	plans    *plans.Registry
	seats    SeatReconciler
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
	batch    int
}

// NewPlanChangeService creates a new PlanChangeService.
func NewPlanChangeService(
	st store.Store,
	registry *plans.Registry,
	seats SeatReconciler,
	notifier notify.Notifier,
	logger *slog.Logger,
	opts ...Option,
) PlanChangeService {
	o := buildOptions(opts)
	return &planChangeService{
		store:    st,
		plans:    registry,
		seats:    seats,
		notifier: notifier,
		logger:   logger,
		now:      o.now,
		batch:    o.batchSize,
	}
}

func (s *planChangeService) RequestUpgrade(ctx context.Context, subscriberID uuid.UUID, target domain.PlanID) (*domain.SubscriptionChange, error) {
	const op = "plan_change.upgrade"

	sub, err := loadSubscriber(ctx, s.store, op, subscriberID)
	if err != nil {
		return nil, err
	}
	ok, err := s.plans.IsUpgrade(sub.PlanID, target)
	if err != nil {
		return nil, withOp(err, op)
	}
	if !ok {
		metrics.PlanChanges.WithLabelValues(string(domain.ChangeTypeUpgrade), "rejected").Inc()
		return nil, domain.InvalidUpgradeDirection(op, sub.PlanID, target)
	}

	now := s.now().UTC()
	change := &domain.SubscriptionChange{
		ID:           uuid.New(),
		SubscriberID: sub.ID,
		FromPlan:     sub.PlanID,
		ToPlan:       target,
		Type:         domain.ChangeTypeUpgrade,
		Status:       domain.ChangeStatusApplied,
		ScheduledAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.store.InTx(ctx, func(tx store.Store) error {
		if err := cancelPending(ctx, tx, sub.ID); err != nil {
			return err
		}
		if err := tx.UpdateSubscriberPlan(ctx, sub.ID, target); err != nil {
			return err
		}
		return tx.InsertChange(ctx, change)
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to apply upgrade")
	}

	metrics.PlanChanges.WithLabelValues(string(domain.ChangeTypeUpgrade), metrics.OutcomeApplied).Inc()
	s.logger.Info("plan upgraded",
		"subscriber_id", sub.ID,
		"from", sub.PlanID,
		"to", target,
	)

	s.reconcileOwnedTeams(ctx, sub.ID)
	return change, nil
}

func (s *planChangeService) RequestDowngrade(ctx context.Context, subscriberID uuid.UUID, target domain.PlanID) (*domain.SubscriptionChange, error) {
	const op = "plan_change.downgrade"

	sub, err := loadSubscriber(ctx, s.store, op, subscriberID)
	if err != nil {
		return nil, err
	}
	ok, err := s.plans.IsDowngrade(sub.PlanID, target)
	if err != nil {
		return nil, withOp(err, op)
	}
	if !ok {
		metrics.PlanChanges.WithLabelValues(string(domain.ChangeTypeDowngrade), "rejected").Inc()
		return nil, domain.InvalidDowngradeDirection(op, sub.PlanID, target)
	}

	if err := s.validateFit(ctx, op, sub, target); err != nil {
		metrics.PlanChanges.WithLabelValues(string(domain.ChangeTypeDowngrade), "rejected").Inc()
		return nil, err
	}

	now := s.now().UTC()
	effective := sub.NextRenewal(now)
	change := &domain.SubscriptionChange{
		ID:           uuid.New(),
		SubscriberID: sub.ID,
		FromPlan:     sub.PlanID,
		ToPlan:       target,
		Type:         domain.ChangeTypeDowngrade,
		Status:       domain.ChangeStatusPending,
		ScheduledAt:  effective,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.store.InTx(ctx, func(tx store.Store) error {
		if err := cancelPending(ctx, tx, sub.ID); err != nil {
			return err
		}
		if err := tx.InsertChange(ctx, change); err != nil {
			return err
		}
		return tx.SetPendingDowngrade(ctx, sub.ID, &target, &effective)
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domain.Conflict(op, "a concurrent plan change is in progress")
		}
		return nil, domain.Internal(err, op, "failed to schedule downgrade")
	}

	metrics.PlanChanges.WithLabelValues(string(domain.ChangeTypeDowngrade), metrics.OutcomePending).Inc()
	s.logger.Info("downgrade scheduled",
		"subscriber_id", sub.ID,
		"from", sub.PlanID,
		"to", target,
		"effective_at", effective,
	)
	return change, nil
}

func (s *planChangeService) CancelPendingDowngrade(ctx context.Context, subscriberID uuid.UUID) error {
	const op = "plan_change.cancel"

	if _, err := loadSubscriber(ctx, s.store, op, subscriberID); err != nil {
		return err
	}

	err := s.store.InTx(ctx, func(tx store.Store) error {
		change, err := tx.GetPendingChange(ctx, subscriberID)
		if err != nil {
			return err
		}
		if err := tx.UpdateChangeStatus(ctx, change.ID, domain.ChangeStatusPending, domain.ChangeStatusCanceled); err != nil {
			return err
		}
		return tx.SetPendingDowngrade(ctx, subscriberID, nil, nil)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NoPendingDowngrade(op)
		}
		return domain.Internal(err, op, "failed to cancel downgrade")
	}

	metrics.PlanChanges.WithLabelValues(string(domain.ChangeTypeDowngrade), string(domain.ChangeStatusCanceled)).Inc()
	s.logger.Info("pending downgrade canceled", "subscriber_id", subscriberID)
	return nil
}

func (s *planChangeService) ApplyDueDowngrades(ctx context.Context, asOf time.Time) (*domain.SweepResult, error) {
	const op = "plan_change.apply_due"

	result := &domain.SweepResult{}
	seen := 0
	var cursor store.Cursor
	for {
		due, err := s.store.ListDueChanges(ctx, asOf, cursor, s.batch)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to list due changes")
		}
		if len(due) == 0 {
			break
		}
		last := due[len(due)-1]
		cursor = store.Cursor{At: last.ScheduledAt, ID: last.ID}
		seen += len(due)

		for i := range due {
			s.applyDue(ctx, op, &due[i], asOf, result)
		}
		if len(due) < s.batch {
			break
		}
	}

	if seen > 0 {
		s.logger.Info("downgrade sweep finished",
			"as_of", asOf,
			"due", seen,
			"applied", len(result.Applied),
			"blocked", len(result.Blocked),
			"failed", result.Failed,
		)
	}
	return result, nil
}

// applyDue applies one listed change and records the outcome in result.
func (s *planChangeService) applyDue(ctx context.Context, op string, change *domain.SubscriptionChange, asOf time.Time, result *domain.SweepResult) {
	if !change.IsDue(asOf) || change.Type != domain.ChangeTypeDowngrade {
		return
	}

	applied, blocked, err := s.applyOne(ctx, op, change, asOf)
	switch {
	case err != nil:
		result.Failed++
		metrics.PlanChanges.WithLabelValues(string(domain.ChangeTypeDowngrade), metrics.OutcomeFailed).Inc()
		s.logger.Error("downgrade sweep failed for change",
			"change_id", change.ID,
			"subscriber_id", change.SubscriberID,
			"error", err,
		)
	case blocked != nil:
		result.Blocked = append(result.Blocked, *blocked)
		metrics.PlanChanges.WithLabelValues(string(domain.ChangeTypeDowngrade), metrics.OutcomeBlocked).Inc()
	case applied:
		change.Status = domain.ChangeStatusApplied
		result.Applied = append(result.Applied, *change)
		metrics.PlanChanges.WithLabelValues(string(domain.ChangeTypeDowngrade), metrics.OutcomeApplied).Inc()
		s.reconcileOwnedTeams(ctx, change.SubscriberID)
	}
}

// applyOne re-validates a due downgrade and applies it. A change that no
// longer fits is marked blocked and returned as such.
func (s *planChangeService) applyOne(ctx context.Context, op string, change *domain.SubscriptionChange, asOf time.Time) (bool, *domain.BlockedDowngrade, error) {
	sub, err := loadSubscriber(ctx, s.store, op, change.SubscriberID)
	if err != nil {
		return false, nil, err
	}

	if err := s.validateFit(ctx, op, sub, change.ToPlan); err != nil {
		var e *domain.Error
		if !errors.As(err, &e) || e.Reason == "" || e.Code == domain.EINTERNAL {
			return false, nil, err
		}

		alreadyBlocked := change.BlockedReason == e.Reason
		checkedAt := s.now().UTC()
		if err := s.store.MarkChangeBlocked(ctx, change.ID, e.Reason, checkedAt); err != nil {
			return false, nil, err
		}
		change.BlockedReason = e.Reason
		change.LastCheckedAt = &checkedAt

		blocked := &domain.BlockedDowngrade{
			Change:  *change,
			Reason:  e.Reason,
			Current: e.Current,
			Limit:   e.Limit,
		}
		if alreadyBlocked {
			// Alerted on an earlier sweep for the same reason.
			return false, blocked, nil
		}
		s.logger.Warn("due downgrade no longer fits target plan",
			"change_id", change.ID,
			"subscriber_id", change.SubscriberID,
			"to", change.ToPlan,
			"reason", e.Reason,
			"current", e.Current,
			"limit", e.Limit,
		)
		if err := s.notifier.DowngradeBlocked(ctx, *blocked); err != nil {
			s.logger.Error("failed to send blocked downgrade alert",
				"change_id", change.ID,
				"error", err,
			)
		}
		return false, blocked, nil
	}

	err = s.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateChangeStatus(ctx, change.ID, domain.ChangeStatusPending, domain.ChangeStatusApplied); err != nil {
			return err
		}
		return tx.UpdateSubscriberPlan(ctx, change.SubscriberID, change.ToPlan)
	})
	if err != nil {
		return false, nil, err
	}

	s.logger.Info("downgrade applied",
		"change_id", change.ID,
		"subscriber_id", change.SubscriberID,
		"from", sub.PlanID,
		"to", change.ToPlan,
		"as_of", asOf,
	)
	return true, nil, nil
}

// validateFit checks that the subscriber's monthly usage and owned teams fit
// within target.
func (s *planChangeService) validateFit(ctx context.Context, op string, sub *domain.Subscriber, target domain.PlanID) error {
	plan, err := s.plans.PlanFor(target)
	if err != nil {
		return withOp(err, op)
	}

	if !plan.MonthlyLimit.Fits(sub.MonthlyUsage) {
		return domain.UsageExceedsTargetPlan(op, sub.MonthlyUsage, int64(plan.MonthlyLimit))
	}

	teamIDs, err := s.store.ListTeamIDsByOwner(ctx, sub.ID)
	if err != nil {
		return domain.Internal(err, op, "failed to list owned teams")
	}
	for _, id := range teamIDs {
		team, err := loadTeam(ctx, s.store, op, id)
		if err != nil {
			return err
		}
		if team.MemberCount > plan.IncludedSeats {
			return domain.TeamSizeExceedsTarget(op, team.MemberCount, plan.IncludedSeats)
		}
	}
	return nil
}

// reconcileOwnedTeams re-reports seats after the owner's plan changed.
// Failures are logged; the reconciler schedules its own retries.
func (s *planChangeService) reconcileOwnedTeams(ctx context.Context, ownerID uuid.UUID) {
	if s.seats == nil {
		return
	}
	teamIDs, err := s.store.ListTeamIDsByOwner(ctx, ownerID)
	if err != nil {
		s.logger.Error("failed to list owned teams for reconcile",
			"subscriber_id", ownerID,
			"error", err,
		)
		return
	}
	for _, id := range teamIDs {
		if _, err := s.seats.Reconcile(ctx, id); err != nil {
			s.logger.Warn("team reconcile after plan change failed",
				"team_id", id,
				"subscriber_id", ownerID,
				"error", err,
			)
		}
	}
}

// cancelPending cancels the subscriber's pending change, if any, and clears
// the pending downgrade fields.
func cancelPending(ctx context.Context, tx store.Store, subscriberID uuid.UUID) error {
	existing, err := tx.GetPendingChange(ctx, subscriberID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := tx.UpdateChangeStatus(ctx, existing.ID, domain.ChangeStatusPending, domain.ChangeStatusCanceled); err != nil {
		return err
	}
	return tx.SetPendingDowngrade(ctx, subscriberID, nil, nil)
}
