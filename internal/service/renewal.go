package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/plans"
	"github.com/DukeRupert/meterline/internal/storage"
	"github.com/DukeRupert/meterline/internal/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// RenewalService closes billing periods on the renewal tick.
type RenewalService interface {
	// RenewDue archives a statement for every subscriber whose renewal is at
	// or before asOf, then resets the monthly counter and advances the
	// renewal date. A subscriber whose statement cannot be archived is left
	// for the next tick.
	RenewDue(ctx context.Context, asOf time.Time) (*RenewalResult, error)
}

// RenewalResult summarizes one renewal tick.
type RenewalResult struct {
	Renewed int
	Skipped int // reset already done by a concurrent tick
	Failed  int
}

// =============================================================================
// Implementation
// =============================================================================

type renewalService struct {
	store   store.Store
	plans   *plans.Registry
	storage storage.Storage
	logger  *slog.Logger
	now     func() time.Time
	batch   int
}

// NewRenewalService creates a new RenewalService. A nil storage skips
// statement archiving.
func NewRenewalService(
	st store.Store,
	registry *plans.Registry,
	archive storage.Storage,
	logger *slog.Logger,
	opts ...Option,
) RenewalService {
	o := buildOptions(opts)
	return &renewalService{
		store:   st,
		plans:   registry,
		storage: archive,
		logger:  logger,
		now:     o.now,
		batch:   o.batchSize,
	}
}

func (s *renewalService) RenewDue(ctx context.Context, asOf time.Time) (*RenewalResult, error) {
	const op = "renewal.renew_due"

	result := &RenewalResult{}
	seen := 0
	var cursor store.Cursor
	for {
		due, err := s.store.ListSubscribersDueForRenewal(ctx, asOf, cursor, s.batch)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to list subscribers due for renewal")
		}
		if len(due) == 0 {
			break
		}
		last := due[len(due)-1]
		cursor = store.Cursor{At: *last.RenewsAt, ID: last.ID}
		seen += len(due)

		for i := range due {
			s.renewOne(ctx, &due[i], asOf, result)
		}
		if len(due) < s.batch {
			break
		}
	}

	if seen > 0 {
		s.logger.Info("renewal tick finished",
			"as_of", asOf,
			"due", seen,
			"renewed", result.Renewed,
			"skipped", result.Skipped,
			"failed", result.Failed,
		)
	}
	return result, nil
}

// renewOne archives the closing period's statement and resets the counter.
// A failed archive leaves the subscriber due for the next tick.
func (s *renewalService) renewOne(ctx context.Context, sub *domain.Subscriber, asOf time.Time, result *RenewalResult) {
	if sub.RenewsAt == nil {
		return
	}
	renewal := *sub.RenewsAt

	if s.storage != nil {
		statement, err := s.buildStatement(ctx, sub, renewal)
		if err != nil {
			result.Failed++
			s.logger.Error("failed to build statement",
				"subscriber_id", sub.ID,
				"error", err,
			)
			return
		}
		key, err := storage.SaveStatement(ctx, s.storage, *statement)
		if err != nil {
			result.Failed++
			s.logger.Error("failed to archive statement",
				"subscriber_id", sub.ID,
				"error", err,
			)
			return
		}
		s.logger.Debug("statement archived",
			"subscriber_id", sub.ID,
			"key", key,
		)
	}

	next := domain.NextRenewalAfter(renewal, asOf)
	reset, err := s.store.ResetMonthlyUsage(ctx, sub.ID, renewal, next)
	if err != nil {
		result.Failed++
		s.logger.Error("failed to reset monthly usage",
			"subscriber_id", sub.ID,
			"error", err,
		)
		return
	}
	if !reset {
		result.Skipped++
		return
	}
	result.Renewed++
	s.logger.Info("subscriber renewed",
		"subscriber_id", sub.ID,
		"plan", sub.PlanID,
		"units_used", sub.MonthlyUsage,
		"renews_at", next,
	)
}

func (s *renewalService) buildStatement(ctx context.Context, sub *domain.Subscriber, renewal time.Time) (*domain.Statement, error) {
	periodStart := domain.PeriodStart(renewal)

	var included domain.Limit
	if plan, err := s.plans.PlanFor(sub.PlanID); err == nil {
		included = plan.MonthlyLimit
	}

	charges, err := s.store.ListOverageChargesForPeriod(ctx, sub.ID, periodStart)
	if err != nil {
		return nil, err
	}
	var units, amount int64
	for _, c := range charges {
		if c.Status == domain.ChargeStatusFailed {
			continue
		}
		units += c.Units
		amount += c.AmountCents
	}

	return &domain.Statement{
		SubscriberID:       sub.ID,
		PlanID:             sub.PlanID,
		PeriodStart:        periodStart,
		PeriodEnd:          renewal,
		UnitsUsed:          sub.MonthlyUsage,
		IncludedUnits:      included,
		OverageUnits:       units,
		OverageAmountCents: amount,
		Currency:           domain.DefaultCurrency,
		OverageAmount:      domain.FormatCents(amount, domain.DefaultCurrency),
		GeneratedAt:        s.now().UTC(),
	}, nil
}
