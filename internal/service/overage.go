package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/DukeRupert/meterline/internal/billing"
	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/metrics"
	"github.com/DukeRupert/meterline/internal/notify"
	"github.com/DukeRupert/meterline/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultOverageFeature is the ledger feature key for overage units.
const DefaultOverageFeature = "repurpose_overage"

// DefaultOverageMaxAttempts is how many failed deliveries a charge survives
// before it is marked failed.
const DefaultOverageMaxAttempts = 5

// =============================================================================
// Interface Definition
// =============================================================================

// OverageService turns over-limit units into billable charges and delivers
// them to the ledger.
type OverageService interface {
	// RecordOverage stores a pending charge for units at unitPriceCents and
	// reports the period's overage total to the ledger. The charge is
	// returned even when delivery fails; the error is then LedgerReportFailed
	// and the charge stays pending for RetryPending.
	RecordOverage(ctx context.Context, subscriberID uuid.UUID, units, unitPriceCents int64) (*domain.OverageCharge, error)

	// RetryPending re-delivers every pending charge. It is the background
	// reconciliation pass.
	RetryPending(ctx context.Context) (*RetryResult, error)
}

// OverageConfig tunes overage delivery.
type OverageConfig struct {
	Feature     string
	MaxAttempts int
}

// RetryResult summarizes one retry pass, counted per subscriber period.
type RetryResult struct {
	Periods int
	Billed  int64
	Failed  int64
}

// =============================================================================
// Implementation
// =============================================================================

type overageService struct {
	store    store.Store
	ledger   billing.Ledger
	notifier notify.Notifier
	config   OverageConfig
	logger   *slog.Logger
	now      func() time.Time
	batch    int
}

// NewOverageService creates a new OverageService.
func NewOverageService(
	st store.Store,
	ledger billing.Ledger,
	notifier notify.Notifier,
	config OverageConfig,
	logger *slog.Logger,
	opts ...Option,
) OverageService {
	if config.Feature == "" {
		config.Feature = DefaultOverageFeature
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultOverageMaxAttempts
	}
	o := buildOptions(opts)
	return &overageService{
		store:    st,
		ledger:   ledger,
		notifier: notifier,
		config:   config,
		logger:   logger,
		now:      o.now,
		batch:    o.batchSize,
	}
}

func (s *overageService) RecordOverage(ctx context.Context, subscriberID uuid.UUID, units, unitPriceCents int64) (*domain.OverageCharge, error) {
	const op = "overage.record"

	if units <= 0 {
		return nil, domain.Invalid(op, "units must be positive")
	}
	if unitPriceCents <= 0 {
		return nil, domain.Invalid(op, "unit price must be positive")
	}

	sub, err := loadSubscriber(ctx, s.store, op, subscriberID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	charge := &domain.OverageCharge{
		ID:             uuid.New(),
		SubscriberID:   subscriberID,
		Units:          units,
		UnitPriceCents: unitPriceCents,
		AmountCents:    units * unitPriceCents,
		Currency:       domain.DefaultCurrency,
		Status:         domain.ChargeStatusPending,
		Period:         domain.PeriodStart(sub.NextRenewal(now)),
		Feature:        s.config.Feature,
		CreatedAt:      now,
	}
	if err := s.store.InsertOverageCharge(ctx, charge); err != nil {
		return nil, domain.Internal(err, op, "failed to store overage charge")
	}
	metrics.OverageCharges.WithLabelValues(string(domain.ChargeStatusPending)).Inc()

	s.logger.Info("overage charge recorded",
		"charge_id", charge.ID,
		"subscriber_id", subscriberID,
		"units", units,
		"amount", domain.FormatCents(charge.AmountCents, charge.Currency),
		"period", charge.PeriodKey(),
	)

	if err := s.deliver(ctx, sub, charge.Period); err != nil {
		s.logger.Warn("overage charge left pending",
			"op", op,
			"charge_id", charge.ID,
			"subscriber_id", subscriberID,
			"error", err,
		)
		if updated, getErr := s.chargeByID(ctx, subscriberID, charge.Period, charge.ID); getErr == nil {
			charge = updated
		}
		return charge, domain.LedgerReportFailed(err, op)
	}

	charge.Status = domain.ChargeStatusBilled
	billedAt := now
	charge.BilledAt = &billedAt
	return charge, nil
}

func (s *overageService) RetryPending(ctx context.Context) (*RetryResult, error) {
	const op = "overage.retry_pending"

	pending, err := s.store.ListPendingOverageCharges(ctx, s.batch)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list pending charges")
	}

	type periodKey struct {
		subscriberID uuid.UUID
		period       string
	}
	groups := make(map[periodKey]time.Time)
	for _, c := range pending {
		groups[periodKey{c.SubscriberID, c.PeriodKey()}] = c.Period
	}

	var billed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultSweepWorkers)

	for key, period := range groups {
		g.Go(func() error {
			sub, err := s.store.GetSubscriber(gctx, key.subscriberID)
			if err != nil {
				s.logger.Error("overage retry skipped subscriber",
					"subscriber_id", key.subscriberID,
					"error", err,
				)
				failed.Add(1)
				return nil
			}
			if err := s.deliver(gctx, sub, period); err != nil {
				failed.Add(1)
				return nil
			}
			billed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, domain.Internal(err, op, "retry pass aborted")
	}

	result := &RetryResult{
		Periods: len(groups),
		Billed:  billed.Load(),
		Failed:  failed.Load(),
	}
	if result.Periods > 0 {
		s.logger.Info("overage retry pass finished",
			"periods", result.Periods,
			"billed", result.Billed,
			"failed", result.Failed,
		)
	}
	return result, nil
}

// overageLockKey names the lock that serializes deliveries of one
// subscriber period.
func overageLockKey(subscriberID uuid.UUID, period time.Time) string {
	return "overage:" + subscriberID.String() + ":" + domain.PeriodKey(period)
}

// deliver reports the period's overage total to the ledger while holding the
// period lock, so reports reach the ledger in the order their totals were
// read. On success exactly the charges counted in the total become billed;
// a charge stored after the read stays pending for the next delivery. On
// failure each counted charge records the attempt, and charges that run out
// of attempts are escalated once the transaction commits.
func (s *overageService) deliver(ctx context.Context, sub *domain.Subscriber, period time.Time) error {
	var reportErr error
	var exhausted []domain.OverageCharge

	err := s.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.Lock(ctx, overageLockKey(sub.ID, period)); err != nil {
			return fmt.Errorf("lock overage period: %w", err)
		}

		charges, err := tx.ListOverageChargesForPeriod(ctx, sub.ID, period)
		if err != nil {
			return fmt.Errorf("list charges for period: %w", err)
		}

		var total int64
		var pending []uuid.UUID
		for _, c := range charges {
			if c.Status == domain.ChargeStatusFailed {
				continue
			}
			total += c.Units
			if c.Status == domain.ChargeStatusPending {
				pending = append(pending, c.ID)
			}
		}
		if len(pending) == 0 {
			return nil
		}

		report := billing.UsageReport{
			SubscriberID: sub.ID,
			ItemID:       sub.LedgerUsageItemID,
			Period:       period,
			Feature:      s.config.Feature,
			Quantity:     total,
		}
		reportErr = s.ledger.ReportUsage(ctx, report)
		metrics.Ledger("report_usage", reportErr)

		if reportErr == nil {
			n, err := tx.MarkOverageChargesBilled(ctx, pending, s.now().UTC())
			if err != nil {
				return fmt.Errorf("mark charges billed: %w", err)
			}
			metrics.OverageCharges.WithLabelValues(string(domain.ChargeStatusBilled)).Add(float64(n))
			s.logger.Debug("overage period reported",
				"subscriber_id", sub.ID,
				"period", domain.PeriodKey(period),
				"quantity", total,
				"charges", n,
			)
			return nil
		}

		for _, id := range pending {
			updated, err := tx.RecordOverageAttempt(ctx, id, reportErr.Error(), s.config.MaxAttempts)
			if err != nil {
				return fmt.Errorf("record overage attempt: %w", err)
			}
			if updated.Status == domain.ChargeStatusFailed {
				exhausted = append(exhausted, *updated)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, c := range exhausted {
		metrics.OverageCharges.WithLabelValues(string(domain.ChargeStatusFailed)).Inc()
		s.logger.Error("overage charge failed permanently",
			"charge_id", c.ID,
			"subscriber_id", c.SubscriberID,
			"attempts", c.Attempts,
			"last_error", c.LastError,
		)
		if err := s.notifier.OverageChargeFailed(ctx, c); err != nil {
			s.logger.Error("failed to send overage alert",
				"charge_id", c.ID,
				"error", err,
			)
		}
	}
	return reportErr
}

func (s *overageService) chargeByID(ctx context.Context, subscriberID uuid.UUID, period time.Time, id uuid.UUID) (*domain.OverageCharge, error) {
	charges, err := s.store.ListOverageChargesForPeriod(ctx, subscriberID, period)
	if err != nil {
		return nil, err
	}
	for i := range charges {
		if charges[i].ID == id {
			return &charges[i], nil
		}
	}
	return nil, store.ErrNotFound
}
