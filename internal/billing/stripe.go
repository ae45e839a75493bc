// Package billing reports metered usage and seat quantities to the external
// billing ledger.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/subscriptionitem"
	"github.com/stripe/stripe-go/v79/usagerecord"
)

// ErrNoLedgerItem is returned when a subscriber or team has no ledger item to
// report against.
var ErrNoLedgerItem = errors.New("billing: no ledger item configured")

// UsageReport sets the overage quantity for one subscriber, billing period
// and feature. Reports are absolute: the quantity replaces whatever was
// reported earlier for the same natural key.
type UsageReport struct {
	SubscriberID uuid.UUID
	ItemID       string
	Period       time.Time
	Feature      string
	Quantity     int64
}

// IdempotencyKey is the natural key of the report.
func (r UsageReport) IdempotencyKey() string {
	return fmt.Sprintf("usage:%s:%s:%s:%d", r.SubscriberID, r.Period.UTC().Format("2006-01-02"), r.Feature, r.Quantity)
}

// SeatReport sets the additional-seat quantity of a team.
type SeatReport struct {
	TeamID   uuid.UUID
	ItemID   string
	Quantity int64
	// At distinguishes repeated reports of the same quantity.
	At time.Time
}

// IdempotencyKey is the natural key of the report.
func (r SeatReport) IdempotencyKey() string {
	return fmt.Sprintf("seats:%s:%d:%d", r.TeamID, r.Quantity, r.At.Unix())
}

// Ledger is the external system of record for invoicing.
// Implementations must be idempotent per report natural key.
type Ledger interface {
	// ReportUsage records the overage quantity for a billing period.
	ReportUsage(ctx context.Context, report UsageReport) error

	// SetSeatQuantity records the billable additional-seat quantity of a team.
	SetSeatQuantity(ctx context.Context, report SeatReport) error
}

// =============================================================================
// Stripe
// =============================================================================

// StripeLedger reports to Stripe: overage as metered usage records on the
// subscriber's usage item, seats as the quantity of the team's seat item.
type StripeLedger struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewStripeLedger configures the Stripe client and returns a ledger whose
// calls are bounded by timeout.
func NewStripeLedger(secretKey string, timeout time.Duration, logger *slog.Logger) *StripeLedger {
	stripe.Key = secretKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(1),
	}))

	return &StripeLedger{
		timeout: timeout,
		logger:  logger,
	}
}

func (l *StripeLedger) ReportUsage(ctx context.Context, report UsageReport) error {
	if report.ItemID == "" {
		return ErrNoLedgerItem
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(report.ItemID),
		Quantity:         stripe.Int64(report.Quantity),
		Timestamp:        stripe.Int64(report.Period.Unix()),
		Action:           stripe.String("set"),
	}
	params.Context = ctx
	params.SetIdempotencyKey(report.IdempotencyKey())

	rec, err := usagerecord.New(params)
	if err != nil {
		return fmt.Errorf("stripe report usage: %w", err)
	}

	l.logger.Debug("Reported usage to Stripe",
		"usage_record_id", rec.ID,
		"subscriber_id", report.SubscriberID,
		"period", report.Period.Format("2006-01-02"),
		"quantity", report.Quantity,
	)
	return nil
}

func (l *StripeLedger) SetSeatQuantity(ctx context.Context, report SeatReport) error {
	if report.ItemID == "" {
		return ErrNoLedgerItem
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	params := &stripe.SubscriptionItemParams{
		Quantity:          stripe.Int64(report.Quantity),
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx
	params.SetIdempotencyKey(report.IdempotencyKey())

	if _, err := subscriptionitem.Update(report.ItemID, params); err != nil {
		return fmt.Errorf("stripe set seat quantity: %w", err)
	}

	l.logger.Debug("Updated seat quantity in Stripe",
		"team_id", report.TeamID,
		"quantity", report.Quantity,
	)
	return nil
}

var _ Ledger = (*StripeLedger)(nil)
