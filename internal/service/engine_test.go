package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/meterline/internal/billing"
	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/plans"
	"github.com/DukeRupert/meterline/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test doubles
// =============================================================================

type fakeLedger struct {
	mu       sync.Mutex
	usage    []billing.UsageReport
	seats    []billing.SeatReport
	usageErr error
	seatErr  error

	// Called before a report is recorded, outside mu.
	onUsage func(billing.UsageReport)
	onSeats func(billing.SeatReport)
}

func (l *fakeLedger) ReportUsage(_ context.Context, r billing.UsageReport) error {
	if l.onUsage != nil {
		l.onUsage(r)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.usageErr != nil {
		return l.usageErr
	}
	l.usage = append(l.usage, r)
	return nil
}

func (l *fakeLedger) SetSeatQuantity(_ context.Context, r billing.SeatReport) error {
	if l.onSeats != nil {
		l.onSeats(r)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seatErr != nil {
		return l.seatErr
	}
	l.seats = append(l.seats, r)
	return nil
}

func (l *fakeLedger) seatReports() []billing.SeatReport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]billing.SeatReport(nil), l.seats...)
}

func (l *fakeLedger) usageReports() []billing.UsageReport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]billing.UsageReport(nil), l.usage...)
}

type fakeNotifier struct {
	mu      sync.Mutex
	blocked []domain.BlockedDowngrade
	failed  []domain.OverageCharge
}

func (n *fakeNotifier) DowngradeBlocked(_ context.Context, b domain.BlockedDowngrade) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocked = append(n.blocked, b)
	return nil
}

func (n *fakeNotifier) OverageChargeFailed(_ context.Context, c domain.OverageCharge) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, c)
	return nil
}

type fakeScheduler struct {
	mu    sync.Mutex
	teams []uuid.UUID
}

func (s *fakeScheduler) ScheduleTeamReconcile(_ context.Context, teamID uuid.UUID, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams = append(s.teams, teamID)
	return nil
}

// failingIncrementStore fails every counter increment.
type failingIncrementStore struct {
	store.Store
}

func (failingIncrementStore) IncrementUsage(context.Context, uuid.UUID, int64, time.Time) (domain.Usage, error) {
	return domain.Usage{}, errors.New("connection reset")
}

// =============================================================================
// Fixture
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type engine struct {
	store     *store.Memory
	clock     *testClock
	ledger    *fakeLedger
	notifier  *fakeNotifier
	scheduler *fakeScheduler

	subscribers  SubscriberService
	usage        UsageService
	overage      OverageService
	entitlements EntitlementService
	teams        TeamService
	changes      PlanChangeService
}

var testNow = time.Date(2026, 5, 14, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T) *engine {
	t.Helper()

	e := &engine{
		store:     store.NewMemory(),
		clock:     &testClock{now: testNow},
		ledger:    &fakeLedger{},
		notifier:  &fakeNotifier{},
		scheduler: &fakeScheduler{},
	}
	registry := plans.Default()
	logger := testLogger()
	clock := WithClock(e.clock.Now)

	e.subscribers = NewSubscriberService(e.store, logger, clock)
	e.usage = NewUsageService(e.store, logger, clock)
	e.overage = NewOverageService(e.store, e.ledger, e.notifier, OverageConfig{MaxAttempts: 2}, logger, clock)
	e.entitlements = NewEntitlementService(e.store, registry, e.usage, e.overage, logger, clock)
	e.teams = NewTeamService(e.store, registry, e.ledger, e.scheduler, logger, clock)
	e.changes = NewPlanChangeService(e.store, registry, e.teams, e.notifier, logger, clock)
	return e
}

// seed creates a subscriber on plan with the given monthly usage.
func (e *engine) seed(t *testing.T, plan domain.PlanID, monthly int64, overage bool) *domain.Subscriber {
	t.Helper()

	renewsAt := domain.FirstOfNextMonth(testNow)
	sub := &domain.Subscriber{
		ID:             uuid.New(),
		PlanID:         plan,
		Status:         domain.SubscriptionStatusActive,
		RenewsAt:       &renewsAt,
		OverageEnabled: overage,
		MonthlyUsage:   monthly,
		DailyUsageDate: domain.Day(testNow),
	}
	require.NoError(t, e.store.CreateSubscriber(context.Background(), sub))
	return sub
}

func (e *engine) subscriber(t *testing.T, id uuid.UUID) *domain.Subscriber {
	t.Helper()
	sub, err := e.store.GetSubscriber(context.Background(), id)
	require.NoError(t, err)
	return sub
}

// teamWithMembers creates a team owned by ownerID with n members.
func (e *engine) teamWithMembers(t *testing.T, ownerID uuid.UUID, n int) (*domain.Team, []*domain.TeamMember) {
	t.Helper()
	ctx := context.Background()

	team, err := e.teams.CreateTeam(ctx, CreateTeamParams{OwnerID: ownerID, Name: "Studio", SeatItemID: "si_seats"})
	require.NoError(t, err)

	members := make([]*domain.TeamMember, 0, n)
	for i := 0; i < n; i++ {
		m, _, err := e.teams.AddMember(ctx, team.ID, memberEmail(i))
		require.NoError(t, err)
		members = append(members, m)
	}
	return team, members
}

func memberEmail(i int) string {
	return string(rune('a'+i)) + "@example.com"
}
