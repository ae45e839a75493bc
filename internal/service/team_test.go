package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/meterline/internal/billing"
	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeamService_SeatScenario(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	owner := e.seed(t, domain.PlanPro, 0, false)

	team, members := e.teamWithMembers(t, owner.ID, 4)

	state, err := e.teams.Reconcile(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), state.IncludedSeats)
	assert.Equal(t, int64(4), state.MemberCount)
	assert.Equal(t, int64(1), state.BillableAdditionalSeats)

	reportsBefore := len(e.ledger.seatReports())

	state, err = e.teams.RemoveMember(ctx, team.ID, members[3].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.BillableAdditionalSeats)
	require.NotNil(t, state.ReportedSeats)
	assert.Equal(t, int64(0), *state.ReportedSeats)

	reports := e.ledger.seatReports()
	require.Len(t, reports, reportsBefore+1)
	assert.Equal(t, int64(0), reports[len(reports)-1].Quantity)
	assert.Equal(t, "si_seats", reports[len(reports)-1].ItemID)
}

func TestTeamService_ReconcileIsIdempotent(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	owner := e.seed(t, domain.PlanBasic, 0, false)
	team, _ := e.teamWithMembers(t, owner.ID, 2)

	n := len(e.ledger.seatReports())
	for i := 0; i < 3; i++ {
		state, err := e.teams.Reconcile(ctx, team.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), state.BillableAdditionalSeats)
		require.NotNil(t, state.LastReconciledAt)
	}
	assert.Len(t, e.ledger.seatReports(), n, "unchanged membership is not re-reported")
}

func TestTeamService_LedgerFailureQueuesRetry(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	owner := e.seed(t, domain.PlanBasic, 0, false)
	team, _ := e.teamWithMembers(t, owner.ID, 1)

	e.ledger.seatErr = errors.New("ledger timeout")

	member, state, err := e.teams.AddMember(ctx, team.ID, "late@example.com")
	require.NoError(t, err, "membership change is kept")
	require.NotNil(t, member)
	assert.Equal(t, int64(1), state.BillableAdditionalSeats)
	require.NotNil(t, state.ReportedSeats)
	assert.Equal(t, int64(0), *state.ReportedSeats, "ledger still holds the old quantity")
	assert.Equal(t, []uuid.UUID{team.ID}, e.scheduler.teams)

	_, err = e.teams.Reconcile(ctx, team.ID)
	require.Error(t, err)
	assert.Equal(t, domain.ReasonLedgerReportFailed, domain.ErrorReason(err))

	e.ledger.seatErr = nil
	state, err = e.teams.Reconcile(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), *state.ReportedSeats)
}

func TestTeamService_AddMemberValidation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	owner := e.seed(t, domain.PlanPro, 0, false)
	team, _ := e.teamWithMembers(t, owner.ID, 1)

	tests := []struct {
		name   string
		teamID uuid.UUID
		email  string
		code   string
	}{
		{"invalid email", team.ID, "not-an-email", domain.EINVALID},
		{"duplicate email is case insensitive", team.ID, "A@Example.com", domain.ECONFLICT},
		{"unknown team", uuid.New(), "x@example.com", domain.ENOTFOUND},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := e.teams.AddMember(ctx, tt.teamID, tt.email)
			require.Error(t, err)
			assert.Equal(t, tt.code, domain.ErrorCode(err))
		})
	}
}

func TestTeamService_CreateTeam(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.teams.CreateTeam(ctx, CreateTeamParams{OwnerID: uuid.New(), Name: "Ghost"})
	require.Error(t, err)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	owner := e.seed(t, domain.PlanPro, 0, false)
	_, err = e.teams.CreateTeam(ctx, CreateTeamParams{OwnerID: owner.ID, Name: "  "})
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	team, err := e.teams.CreateTeam(ctx, CreateTeamParams{OwnerID: owner.ID, Name: "Studio"})
	require.NoError(t, err)
	require.NotNil(t, team.ReportedSeats)
	assert.Equal(t, int64(0), *team.ReportedSeats)
}

func TestTeamService_RemoveUnknownMember(t *testing.T) {
	e := newEngine(t)
	owner := e.seed(t, domain.PlanPro, 0, false)
	team, _ := e.teamWithMembers(t, owner.ID, 1)

	_, err := e.teams.RemoveMember(context.Background(), team.ID, uuid.New())
	require.Error(t, err)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestTeamService_ReconcileAll(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		owner := e.seed(t, domain.PlanBasic, 0, false)
		e.teamWithMembers(t, owner.ID, 2)
	}

	ok, failed, err := e.teams.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), ok)
	assert.Equal(t, int64(0), failed)
}

func TestTeamService_ReconcilesDuringReportRunInOrder(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	owner := e.seed(t, domain.PlanBasic, 0, false)
	team, _ := e.teamWithMembers(t, owner.ID, 2)

	done := make(chan error, 1)
	var once sync.Once
	e.ledger.onSeats = func(r billing.SeatReport) {
		if r.Quantity != 2 {
			return
		}
		once.Do(func() {
			// Membership changes while the ledger call is in flight and
			// a second reconcile starts.
			require.NoError(t, e.store.AddTeamMember(ctx, &domain.TeamMember{
				ID: uuid.New(), TeamID: team.ID, Email: "late@example.com",
			}))
			go func() {
				_, err := e.teams.Reconcile(ctx, team.ID)
				done <- err
			}()
		})
	}

	_, state, err := e.teams.AddMember(ctx, team.ID, memberEmail(2))
	require.NoError(t, err)
	require.NotNil(t, state.ReportedSeats)
	assert.Equal(t, int64(2), *state.ReportedSeats)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second reconcile did not finish")
	}

	reports := e.ledger.seatReports()
	require.NotEmpty(t, reports)
	assert.Equal(t, int64(3), reports[len(reports)-1].Quantity, "the newest count is reported last")

	got, err := e.store.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReportedSeats)
	assert.Equal(t, int64(3), *got.ReportedSeats)
}
