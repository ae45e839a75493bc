// Package notify delivers operational alerts: downgrades that failed
// re-validation at renewal and overage charges that exhausted their
// delivery attempts.
package notify

import (
	"context"
	"log/slog"

	"github.com/DukeRupert/meterline/internal/domain"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Notifier is the operational alert channel.
type Notifier interface {
	// DowngradeBlocked reports a due downgrade that was left pending.
	DowngradeBlocked(ctx context.Context, blocked domain.BlockedDowngrade) error

	// OverageChargeFailed reports a charge that moved to failed.
	OverageChargeFailed(ctx context.Context, charge domain.OverageCharge) error
}

// =============================================================================
// Log Notifier
// =============================================================================

// LogNotifier writes alerts to the structured log only.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) DowngradeBlocked(_ context.Context, b domain.BlockedDowngrade) error {
	n.logger.Warn("Downgrade blocked at renewal",
		"change_id", b.Change.ID,
		"subscriber_id", b.Change.SubscriberID,
		"from_plan", b.Change.FromPlan,
		"to_plan", b.Change.ToPlan,
		"reason", b.Reason,
		"current", b.Current,
		"limit", b.Limit,
	)
	return nil
}

func (n *LogNotifier) OverageChargeFailed(_ context.Context, c domain.OverageCharge) error {
	n.logger.Error("Overage charge failed",
		"charge_id", c.ID,
		"subscriber_id", c.SubscriberID,
		"period", c.PeriodKey(),
		"units", c.Units,
		"amount_cents", c.AmountCents,
		"attempts", c.Attempts,
		"last_error", c.LastError,
	)
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
