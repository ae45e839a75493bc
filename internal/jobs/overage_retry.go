package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/meterline/internal/service"
	"github.com/DukeRupert/meterline/internal/worker"
)

// OverageRetryHandler re-delivers pending overage charges to the ledger.
type OverageRetryHandler struct {
	overage service.OverageService
	logger  *slog.Logger
}

// NewOverageRetryHandler creates a new handler for overage retry jobs.
func NewOverageRetryHandler(overage service.OverageService, logger *slog.Logger) *OverageRetryHandler {
	return &OverageRetryHandler{overage: overage, logger: logger}
}

// Type returns the job type identifier.
func (h *OverageRetryHandler) Type() string {
	return worker.JobTypeOverageRetry
}

// Handle executes the retry pass. Charges that are still pending are picked
// up by the next scheduled run, so per-charge failures do not fail the job.
func (h *OverageRetryHandler) Handle(ctx context.Context, _ []byte) error {
	result, err := h.overage.RetryPending(ctx)
	if err != nil {
		return fmt.Errorf("retry pending overage: %w", err)
	}
	if result.Periods > 0 {
		h.logger.Info("Overage retry finished",
			"periods", result.Periods,
			"billed", result.Billed,
			"failed", result.Failed,
		)
	}
	return nil
}
