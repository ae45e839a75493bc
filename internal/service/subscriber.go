package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/store"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SubscriberService manages the subscriber lifecycle outside of metering.
type SubscriberService interface {
	// Signup creates an active subscriber on the free plan renewing on the
	// first day of next month.
	Signup(ctx context.Context, params SignupParams) (*domain.Subscriber, error)

	Get(ctx context.Context, id uuid.UUID) (*domain.Subscriber, error)

	// SetStatus mirrors the subscription status held by the ledger.
	SetStatus(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus) error

	SetOverageEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// SignupParams contains parameters for creating a subscriber.
type SignupParams struct {
	// ID is optional; a new one is generated when zero.
	ID                uuid.UUID
	LedgerUsageItemID string
	OverageEnabled    bool
}

// =============================================================================
// Implementation
// =============================================================================

type subscriberService struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewSubscriberService creates a new SubscriberService.
func NewSubscriberService(st store.Store, logger *slog.Logger, opts ...Option) SubscriberService {
	o := buildOptions(opts)
	return &subscriberService{
		store:  st,
		logger: logger,
		now:    o.now,
	}
}

func (s *subscriberService) Signup(ctx context.Context, params SignupParams) (*domain.Subscriber, error) {
	const op = "subscriber.signup"

	id := params.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	now := s.now().UTC()
	renewsAt := domain.FirstOfNextMonth(now)
	sub := &domain.Subscriber{
		ID:                id,
		PlanID:            domain.PlanFree,
		Status:            domain.SubscriptionStatusActive,
		RenewsAt:          &renewsAt,
		OverageEnabled:    params.OverageEnabled,
		DailyUsageDate:    domain.Day(now),
		LedgerUsageItemID: params.LedgerUsageItemID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.CreateSubscriber(ctx, sub); err != nil {
		if isConflict(err) {
			return nil, domain.Conflict(op, "subscriber already exists")
		}
		return nil, domain.Internal(err, op, "failed to create subscriber")
	}

	s.logger.Info("subscriber created",
		"subscriber_id", sub.ID,
		"plan", sub.PlanID,
		"renews_at", renewsAt,
	)
	return sub, nil
}

func (s *subscriberService) Get(ctx context.Context, id uuid.UUID) (*domain.Subscriber, error) {
	return loadSubscriber(ctx, s.store, "subscriber.get", id)
}

func (s *subscriberService) SetStatus(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus) error {
	const op = "subscriber.set_status"

	if !status.Valid() {
		return domain.Invalid(op, "unknown subscription status")
	}
	if err := s.store.UpdateSubscriberStatus(ctx, id, status); err != nil {
		if isNotFound(err) {
			return domain.NotFound(op, "subscriber", id.String())
		}
		return domain.Internal(err, op, "failed to update status")
	}

	s.logger.Info("subscription status changed",
		"subscriber_id", id,
		"status", status,
	)
	return nil
}

func (s *subscriberService) SetOverageEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	const op = "subscriber.set_overage"

	if err := s.store.UpdateSubscriberOverage(ctx, id, enabled); err != nil {
		if isNotFound(err) {
			return domain.NotFound(op, "subscriber", id.String())
		}
		return domain.Internal(err, op, "failed to update overage setting")
	}
	return nil
}
