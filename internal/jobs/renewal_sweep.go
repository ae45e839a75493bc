// Package jobs contains the background job handlers run by the worker.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/meterline/internal/service"
	"github.com/DukeRupert/meterline/internal/worker"
)

// decodeSweep reads a sweep payload. An empty payload or a zero AsOf
// means "now".
func decodeSweep(payload []byte, now func() time.Time) (time.Time, error) {
	var p worker.SweepPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return time.Time{}, worker.Permanentf("invalid payload: %w", err)
		}
	}
	if p.AsOf.IsZero() {
		return now().UTC(), nil
	}
	return p.AsOf.UTC(), nil
}

// RenewalSweepHandler applies due downgrades and then renews the billing
// periods that have ended. Downgrades run first so each one is validated
// against the usage of the period it closes.
type RenewalSweepHandler struct {
	changes  service.PlanChangeService
	renewals service.RenewalService
	logger   *slog.Logger
	now      func() time.Time
}

// NewRenewalSweepHandler creates a new handler for renewal sweep jobs.
func NewRenewalSweepHandler(
	changes service.PlanChangeService,
	renewals service.RenewalService,
	logger *slog.Logger,
) *RenewalSweepHandler {
	return &RenewalSweepHandler{
		changes:  changes,
		renewals: renewals,
		logger:   logger,
		now:      time.Now,
	}
}

// Type returns the job type identifier.
func (h *RenewalSweepHandler) Type() string {
	return worker.JobTypeRenewalSweep
}

// Handle executes the renewal sweep.
func (h *RenewalSweepHandler) Handle(ctx context.Context, payload []byte) error {
	asOf, err := decodeSweep(payload, h.now)
	if err != nil {
		return err
	}

	sweep, err := h.changes.ApplyDueDowngrades(ctx, asOf)
	if err != nil {
		return fmt.Errorf("apply due downgrades: %w", err)
	}

	renewal, err := h.renewals.RenewDue(ctx, asOf)
	if err != nil {
		return fmt.Errorf("renew due subscribers: %w", err)
	}

	h.logger.Info("Renewal sweep finished",
		"as_of", asOf,
		"downgrades_applied", len(sweep.Applied),
		"downgrades_blocked", len(sweep.Blocked),
		"downgrades_failed", sweep.Failed,
		"renewed", renewal.Renewed,
		"skipped", renewal.Skipped,
		"renewals_failed", renewal.Failed,
	)

	// Both passes are idempotent, so a partial failure retries the whole job.
	if sweep.Failed > 0 || renewal.Failed > 0 {
		return fmt.Errorf("renewal sweep incomplete: %d downgrades and %d renewals failed", sweep.Failed, renewal.Failed)
	}
	return nil
}
