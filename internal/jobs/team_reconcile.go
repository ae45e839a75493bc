package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/service"
	"github.com/DukeRupert/meterline/internal/worker"
	"github.com/google/uuid"
)

// ReconcileTeamHandler reports the seat quantity of a single team.
type ReconcileTeamHandler struct {
	teams  service.TeamService
	logger *slog.Logger
}

// NewReconcileTeamHandler creates a new handler for team reconcile jobs.
func NewReconcileTeamHandler(teams service.TeamService, logger *slog.Logger) *ReconcileTeamHandler {
	return &ReconcileTeamHandler{teams: teams, logger: logger}
}

// Type returns the job type identifier.
func (h *ReconcileTeamHandler) Type() string {
	return worker.JobTypeReconcileTeam
}

// Handle executes the reconcile.
func (h *ReconcileTeamHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.ReconcileTeamPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.Permanentf("invalid payload: %w", err)
	}
	if p.TeamID == uuid.Nil {
		return worker.Permanentf("team_id is required")
	}

	state, err := h.teams.Reconcile(ctx, p.TeamID)
	if err != nil {
		// The team was deleted after the job was queued.
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return worker.NewPermanentError(err)
		}
		return fmt.Errorf("reconcile team %s: %w", p.TeamID, err)
	}

	h.logger.Debug("Team reconciled",
		"team_id", p.TeamID,
		"billable_seats", state.BillableAdditionalSeats,
	)
	return nil
}

// TeamReconcileSweepHandler reconciles every team. It catches teams whose
// targeted reconcile job was lost or exhausted its attempts.
type TeamReconcileSweepHandler struct {
	teams  service.TeamService
	logger *slog.Logger
}

// NewTeamReconcileSweepHandler creates a new handler for the team sweep.
func NewTeamReconcileSweepHandler(teams service.TeamService, logger *slog.Logger) *TeamReconcileSweepHandler {
	return &TeamReconcileSweepHandler{teams: teams, logger: logger}
}

// Type returns the job type identifier.
func (h *TeamReconcileSweepHandler) Type() string {
	return worker.JobTypeTeamReconcileSweep
}

// Handle executes the sweep.
func (h *TeamReconcileSweepHandler) Handle(ctx context.Context, _ []byte) error {
	ok, failed, err := h.teams.ReconcileAll(ctx)
	if err != nil {
		return fmt.Errorf("reconcile all teams: %w", err)
	}
	h.logger.Info("Team reconcile sweep finished", "reconciled", ok, "failed", failed)
	return nil
}
