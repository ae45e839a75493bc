package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/metrics"
	"github.com/DukeRupert/meterline/internal/store"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UsageService reads and updates the per-subscriber consumption counters.
type UsageService interface {
	// CurrentUsage returns the counters with pending resets applied. A daily
	// counter from an earlier day reads as zero; nothing is written.
	CurrentUsage(ctx context.Context, subscriberID uuid.UUID) (domain.Usage, error)

	// Increment atomically adds units to both counters and returns the
	// post-increment values. A failed increment leaves the counters untouched
	// and returns a CounterUpdateFailed error.
	Increment(ctx context.Context, subscriberID uuid.UUID, units int64) (domain.Usage, error)

	// ResetMonthly zeroes the monthly counter if the subscriber's renewal is
	// due at asOf and advances the renewal date. It reports whether a reset
	// happened; a second call for the same renewal is a no-op.
	ResetMonthly(ctx context.Context, subscriberID uuid.UUID, asOf time.Time) (bool, error)
}

// =============================================================================
// Implementation
// =============================================================================

type usageService struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewUsageService creates a new UsageService.
func NewUsageService(st store.Store, logger *slog.Logger, opts ...Option) UsageService {
	o := buildOptions(opts)
	return &usageService{
		store:  st,
		logger: logger,
		now:    o.now,
	}
}

func (s *usageService) CurrentUsage(ctx context.Context, subscriberID uuid.UUID) (domain.Usage, error) {
	const op = "usage.current"

	sub, err := loadSubscriber(ctx, s.store, op, subscriberID)
	if err != nil {
		return domain.Usage{}, err
	}
	return sub.UsageAt(s.now()), nil
}

func (s *usageService) Increment(ctx context.Context, subscriberID uuid.UUID, units int64) (domain.Usage, error) {
	const op = "usage.increment"

	if units <= 0 {
		return domain.Usage{}, domain.Invalid(op, "units must be positive")
	}

	usage, err := s.store.IncrementUsage(ctx, subscriberID, units, domain.Day(s.now()))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Usage{}, domain.NotFound(op, "subscriber", subscriberID.String())
		}
		metrics.CounterUpdateFailures.Inc()
		s.logger.Error("usage counter update failed",
			"op", op,
			"subscriber_id", subscriberID,
			"units", units,
			"error", err,
		)
		return domain.Usage{}, domain.CounterUpdateFailed(err, op)
	}

	return usage, nil
}

func (s *usageService) ResetMonthly(ctx context.Context, subscriberID uuid.UUID, asOf time.Time) (bool, error) {
	const op = "usage.reset_monthly"

	sub, err := loadSubscriber(ctx, s.store, op, subscriberID)
	if err != nil {
		return false, err
	}
	if sub.RenewsAt == nil {
		return false, domain.Invalid(op, "subscriber has no renewal date")
	}
	if sub.RenewsAt.After(asOf) {
		return false, nil
	}

	next := domain.NextRenewalAfter(*sub.RenewsAt, asOf)
	reset, err := s.store.ResetMonthlyUsage(ctx, subscriberID, *sub.RenewsAt, next)
	if err != nil {
		return false, domain.Internal(err, op, "failed to reset monthly usage")
	}

	if reset {
		s.logger.Info("monthly usage reset",
			"subscriber_id", subscriberID,
			"previous_usage", sub.MonthlyUsage,
			"renews_at", next,
		)
	}
	return reset, nil
}
