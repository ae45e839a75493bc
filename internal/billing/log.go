package billing

import (
	"context"
	"log/slog"
)

// LogLedger accepts every report and only logs it. Used for local development
// when no Stripe key is configured.
type LogLedger struct {
	logger *slog.Logger
}

// NewLogLedger creates a LogLedger.
func NewLogLedger(logger *slog.Logger) *LogLedger {
	return &LogLedger{logger: logger}
}

func (l *LogLedger) ReportUsage(_ context.Context, report UsageReport) error {
	l.logger.Info("Ledger usage report",
		"subscriber_id", report.SubscriberID,
		"period", report.Period.Format("2006-01-02"),
		"feature", report.Feature,
		"quantity", report.Quantity,
		"idempotency_key", report.IdempotencyKey(),
	)
	return nil
}

func (l *LogLedger) SetSeatQuantity(_ context.Context, report SeatReport) error {
	l.logger.Info("Ledger seat quantity",
		"team_id", report.TeamID,
		"quantity", report.Quantity,
	)
	return nil
}

var _ Ledger = (*LogLedger)(nil)
