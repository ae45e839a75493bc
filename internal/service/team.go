package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"sync/atomic"
	"time"

	"github.com/DukeRupert/meterline/internal/billing"
	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/metrics"
	"github.com/DukeRupert/meterline/internal/plans"
	"github.com/DukeRupert/meterline/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ReconcileRetryDelay is how long a failed seat report waits before the
// queued reconcile runs.
const ReconcileRetryDelay = 5 * time.Minute

// =============================================================================
// Interface Definition
// =============================================================================

// TeamService manages team membership and keeps the billable seat count in
// sync with the ledger.
type TeamService interface {
	CreateTeam(ctx context.Context, params CreateTeamParams) (*domain.Team, error)

	// AddMember and RemoveMember reconcile after the membership change. A
	// ledger failure does not undo the change; the returned state then shows
	// the last reported quantity and a retry is queued.
	AddMember(ctx context.Context, teamID uuid.UUID, email string) (*domain.TeamMember, *domain.TeamBillingState, error)
	RemoveMember(ctx context.Context, teamID, memberID uuid.UUID) (*domain.TeamBillingState, error)

	// Reconcile recomputes billable additional seats and reports them only
	// when they differ from the last reported quantity.
	Reconcile(ctx context.Context, teamID uuid.UUID) (*domain.TeamBillingState, error)

	// ReconcileAll reconciles every team. It returns how many were reconciled
	// and how many failed.
	ReconcileAll(ctx context.Context) (ok, failed int64, err error)
}

// CreateTeamParams contains parameters for creating a team.
type CreateTeamParams struct {
	OwnerID    uuid.UUID
	Name       string
	SeatItemID string
}

// =============================================================================
// Implementation
// =============================================================================

type teamService struct {
	store     store.Store
	plans     *plans.Registry
	ledger    billing.Ledger
	scheduler ReconcileScheduler
	logger    *slog.Logger
	now       func() time.Time
}

// NewTeamService creates a new TeamService. scheduler may be nil, in which
// case failed reports are only picked up by the periodic sweep.
func NewTeamService(
	st store.Store,
	registry *plans.Registry,
	ledger billing.Ledger,
	scheduler ReconcileScheduler,
	logger *slog.Logger,
	opts ...Option,
) TeamService {
	o := buildOptions(opts)
	return &teamService{
		store:     st,
		plans:     registry,
		ledger:    ledger,
		scheduler: scheduler,
		logger:    logger,
		now:       o.now,
	}
}

func (s *teamService) CreateTeam(ctx context.Context, params CreateTeamParams) (*domain.Team, error) {
	const op = "team.create"

	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, domain.Invalid(op, "team name is required")
	}
	if _, err := loadSubscriber(ctx, s.store, op, params.OwnerID); err != nil {
		return nil, err
	}

	team := &domain.Team{
		ID:         uuid.New(),
		OwnerID:    params.OwnerID,
		Name:       name,
		SeatItemID: params.SeatItemID,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateTeam(ctx, team); err != nil {
		return nil, domain.Internal(err, op, "failed to create team")
	}

	s.logger.Info("team created",
		"team_id", team.ID,
		"owner_id", team.OwnerID,
	)

	if state, err := s.reconcileAfterChange(ctx, op, team.ID); err != nil {
		s.logger.Error("initial team reconcile failed",
			"team_id", team.ID,
			"error", err,
		)
	} else if state != nil {
		team.ReportedSeats = state.ReportedSeats
		team.LastReconciledAt = state.LastReconciledAt
	}
	return team, nil
}

func (s *teamService) AddMember(ctx context.Context, teamID uuid.UUID, email string) (*domain.TeamMember, *domain.TeamBillingState, error) {
	const op = "team.add_member"

	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, nil, domain.Invalid(op, "a valid email address is required")
	}

	member := &domain.TeamMember{
		ID:        uuid.New(),
		TeamID:    teamID,
		Email:     strings.ToLower(addr.Address),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AddTeamMember(ctx, member); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, nil, domain.NotFound(op, "team", teamID.String())
		case errors.Is(err, store.ErrConflict):
			return nil, nil, domain.Conflict(op, "member is already on the team")
		}
		return nil, nil, domain.Internal(err, op, "failed to add member")
	}

	state, err := s.reconcileAfterChange(ctx, op, teamID)
	if err != nil {
		return member, nil, err
	}
	return member, state, nil
}

func (s *teamService) RemoveMember(ctx context.Context, teamID, memberID uuid.UUID) (*domain.TeamBillingState, error) {
	const op = "team.remove_member"

	if err := s.store.RemoveTeamMember(ctx, teamID, memberID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound(op, "team member", memberID.String())
		}
		return nil, domain.Internal(err, op, "failed to remove member")
	}

	return s.reconcileAfterChange(ctx, op, teamID)
}

// reconcileAfterChange swallows ledger failures: the membership change has
// been committed and Reconcile already queued a retry.
func (s *teamService) reconcileAfterChange(ctx context.Context, op string, teamID uuid.UUID) (*domain.TeamBillingState, error) {
	state, err := s.Reconcile(ctx, teamID)
	if err != nil && domain.ErrorReason(err) != domain.ReasonLedgerReportFailed {
		return nil, err
	}
	if err != nil {
		s.logger.Warn("seat report deferred",
			"op", op,
			"team_id", teamID,
			"error", err,
		)
	}
	return state, nil
}

// teamLockKey names the lock that serializes reconciles of one team.
func teamLockKey(teamID uuid.UUID) string {
	return "team:" + teamID.String()
}

// Reconcile holds the team lock from counting members until the quantity is
// stored, so the count read is the one that reaches the ledger. A ledger
// failure leaves the stored quantity untouched.
func (s *teamService) Reconcile(ctx context.Context, teamID uuid.UUID) (*domain.TeamBillingState, error) {
	const op = "team.reconcile"

	var state *domain.TeamBillingState
	var reportErr error
	err := s.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.Lock(ctx, teamLockKey(teamID)); err != nil {
			return domain.Internal(err, op, "failed to lock team")
		}

		team, err := loadTeam(ctx, tx, op, teamID)
		if err != nil {
			return err
		}
		owner, err := loadSubscriber(ctx, tx, op, team.OwnerID)
		if err != nil {
			return err
		}
		plan, err := s.plans.PlanFor(owner.PlanID)
		if err != nil {
			return withOp(err, op)
		}

		state = &domain.TeamBillingState{
			TeamID:                  team.ID,
			IncludedSeats:           plan.IncludedSeats,
			MemberCount:             team.MemberCount,
			BillableAdditionalSeats: domain.BillableSeats(team.MemberCount, plan.IncludedSeats),
			ReportedSeats:           team.ReportedSeats,
			LastReconciledAt:        team.LastReconciledAt,
		}

		now := s.now().UTC()
		if state.NeedsReport() {
			report := billing.SeatReport{
				TeamID:   team.ID,
				ItemID:   team.SeatItemID,
				Quantity: state.BillableAdditionalSeats,
				At:       now,
			}
			reportErr = s.ledger.SetSeatQuantity(ctx, report)
			metrics.Ledger("set_seat_quantity", reportErr)
			if reportErr != nil {
				metrics.SeatReports.WithLabelValues(metrics.OutcomeFailed).Inc()
				s.logger.Error("seat quantity report failed",
					"team_id", team.ID,
					"quantity", report.Quantity,
					"error", reportErr,
				)
				return nil
			}
			metrics.SeatReports.WithLabelValues(metrics.OutcomeSuccess).Inc()
			s.logger.Info("seat quantity reported",
				"team_id", team.ID,
				"members", state.MemberCount,
				"included", state.IncludedSeats,
				"quantity", report.Quantity,
			)
		}

		if err := tx.UpdateTeamReportedSeats(ctx, team.ID, state.BillableAdditionalSeats, now); err != nil {
			return domain.Internal(err, op, "failed to store reconciled seats")
		}
		reported := state.BillableAdditionalSeats
		state.ReportedSeats = &reported
		state.LastReconciledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reportErr != nil {
		s.scheduleRetry(ctx, teamID)
		return state, domain.LedgerReportFailed(reportErr, op)
	}
	return state, nil
}

func (s *teamService) ReconcileAll(ctx context.Context) (int64, int64, error) {
	const op = "team.reconcile_all"

	ids, err := s.store.ListTeamIDs(ctx, 0)
	if err != nil {
		return 0, 0, domain.Internal(err, op, "failed to list teams")
	}

	var ok, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultSweepWorkers)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := s.Reconcile(gctx, id); err != nil {
				failed.Add(1)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ok.Load(), failed.Load(), domain.Internal(err, op, "reconcile sweep aborted")
	}
	return ok.Load(), failed.Load(), nil
}

func (s *teamService) scheduleRetry(ctx context.Context, teamID uuid.UUID) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.ScheduleTeamReconcile(ctx, teamID, ReconcileRetryDelay); err != nil {
		s.logger.Error("failed to queue team reconcile",
			"team_id", teamID,
			"error", err,
		)
	}
}
