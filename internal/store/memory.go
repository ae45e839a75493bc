package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/google/uuid"
)

// Memory is an in-process Store. Every operation holds a single mutex.
// Transactions are serialized with each other but not with plain calls:
// a transaction records how to undo each of its own writes, and a failed
// transaction replays that log instead of restoring a copy of the store, so
// concurrent counter increments survive a rollback.
type Memory struct {
	*memoryState

	// undo is set on the view handed to InTx callbacks.
	undo *[]func()
}

type memoryState struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data memoryData
}

type memoryData struct {
	subscribers map[uuid.UUID]domain.Subscriber
	events      []domain.UsageEvent
	charges     []domain.OverageCharge
	changes     []domain.SubscriptionChange
	teams       map[uuid.UUID]domain.Team
	members     map[uuid.UUID][]domain.TeamMember
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{memoryState: &memoryState{data: memoryData{
		subscribers: make(map[uuid.UUID]domain.Subscriber),
		teams:       make(map[uuid.UUID]domain.Team),
		members:     make(map[uuid.UUID][]domain.TeamMember),
	}}}
}

// InTx runs fn against a transactional view. Nested calls run directly
// against the enclosing view.
func (m *Memory) InTx(_ context.Context, fn func(Store) error) error {
	if m.undo != nil {
		return fn(m)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	var undo []func()
	if err := fn(&Memory{memoryState: m.memoryState, undo: &undo}); err != nil {
		m.mu.Lock()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// Lock must be called inside InTx. Transactions already run one at a time,
// so holding the transaction is holding every key.
func (m *Memory) Lock(_ context.Context, key string) error {
	if m.undo == nil {
		return fmt.Errorf("lock %q: %w", key, ErrNoTx)
	}
	return nil
}

// journal records how to revert a write. Callers hold mu, and the undo
// function runs with mu held.
func (m *Memory) journal(undo func()) {
	if m.undo != nil {
		*m.undo = append(*m.undo, undo)
	}
}

func without[T any](items []T, match func(T) bool) []T {
	for i, item := range items {
		if match(item) {
			return append(items[:i:i], items[i+1:]...)
		}
	}
	return items
}

func replace[T any](items []T, match func(T) bool, v T) {
	for i := range items {
		if match(items[i]) {
			items[i] = v
			return
		}
	}
}

// =============================================================================
// Subscribers
// =============================================================================

func (m *Memory) CreateSubscriber(_ context.Context, s *domain.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data.subscribers[s.ID]; exists {
		return ErrConflict
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = s.CreatedAt
	s.DailyUsageDate = domain.Day(s.DailyUsageDate)
	m.data.subscribers[s.ID] = cloneSubscriber(*s)

	id := s.ID
	m.journal(func() { delete(m.data.subscribers, id) })
	return nil
}

func (m *Memory) GetSubscriber(_ context.Context, id uuid.UUID) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.data.subscribers[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneSubscriber(s)
	return &c, nil
}

func (m *Memory) IncrementUsage(_ context.Context, id uuid.UUID, units int64, day time.Time) (domain.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.data.subscribers[id]
	if !ok {
		return domain.Usage{}, ErrNotFound
	}
	day = domain.Day(day)
	prevDaily, prevDate := s.DailyUsage, s.DailyUsageDate
	sameDay := s.DailyUsageDate.Equal(day)

	s.MonthlyUsage += units
	if sameDay {
		s.DailyUsage += units
	} else {
		s.DailyUsage = units
		s.DailyUsageDate = day
	}
	s.UpdatedAt = time.Now().UTC()
	m.data.subscribers[id] = s

	m.journal(func() {
		m.patchSubscriber(id, func(s *domain.Subscriber) {
			s.MonthlyUsage -= units
			if !s.DailyUsageDate.Equal(day) {
				return
			}
			s.DailyUsage -= units
			if !sameDay && s.DailyUsage == 0 {
				s.DailyUsage, s.DailyUsageDate = prevDaily, prevDate
			}
		})
	})
	return domain.Usage{Monthly: s.MonthlyUsage, Daily: s.DailyUsage}, nil
}

func (m *Memory) ResetMonthlyUsage(_ context.Context, id uuid.UUID, expected, next time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.data.subscribers[id]
	if !ok || s.RenewsAt == nil || !s.RenewsAt.Equal(expected) {
		return false, nil
	}
	closed := s.MonthlyUsage
	s.MonthlyUsage = 0
	s.RenewsAt = &next
	m.data.subscribers[id] = s

	m.journal(func() {
		m.patchSubscriber(id, func(s *domain.Subscriber) {
			s.MonthlyUsage += closed
			s.RenewsAt = &expected
		})
	})
	return true, nil
}

// patchSubscriber applies fn to a stored subscriber. Callers hold mu.
func (m *Memory) patchSubscriber(id uuid.UUID, fn func(s *domain.Subscriber)) {
	if s, ok := m.data.subscribers[id]; ok {
		fn(&s)
		m.data.subscribers[id] = s
	}
}

// updateSubscriber applies fn and journals restore, which receives the
// subscriber as it was before fn.
func (m *Memory) updateSubscriber(id uuid.UUID, fn func(s *domain.Subscriber), restore func(s *domain.Subscriber, prev domain.Subscriber)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.data.subscribers[id]
	if !ok {
		return ErrNotFound
	}
	prev := cloneSubscriber(s)
	fn(&s)
	s.UpdatedAt = time.Now().UTC()
	m.data.subscribers[id] = s

	m.journal(func() {
		m.patchSubscriber(id, func(s *domain.Subscriber) { restore(s, prev) })
	})
	return nil
}

func restorePendingDowngrade(s *domain.Subscriber, prev domain.Subscriber) {
	s.PendingDowngradePlan = prev.PendingDowngradePlan
	s.PendingDowngradeAt = prev.PendingDowngradeAt
}

func (m *Memory) UpdateSubscriberStatus(_ context.Context, id uuid.UUID, status domain.SubscriptionStatus) error {
	return m.updateSubscriber(id,
		func(s *domain.Subscriber) { s.Status = status },
		func(s *domain.Subscriber, prev domain.Subscriber) { s.Status = prev.Status },
	)
}

func (m *Memory) UpdateSubscriberOverage(_ context.Context, id uuid.UUID, enabled bool) error {
	return m.updateSubscriber(id,
		func(s *domain.Subscriber) { s.OverageEnabled = enabled },
		func(s *domain.Subscriber, prev domain.Subscriber) { s.OverageEnabled = prev.OverageEnabled },
	)
}

func (m *Memory) UpdateSubscriberPlan(_ context.Context, id uuid.UUID, plan domain.PlanID) error {
	return m.updateSubscriber(id,
		func(s *domain.Subscriber) {
			s.PlanID = plan
			s.PendingDowngradePlan = nil
			s.PendingDowngradeAt = nil
		},
		func(s *domain.Subscriber, prev domain.Subscriber) {
			s.PlanID = prev.PlanID
			restorePendingDowngrade(s, prev)
		},
	)
}

func (m *Memory) SetPendingDowngrade(_ context.Context, id uuid.UUID, plan *domain.PlanID, at *time.Time) error {
	return m.updateSubscriber(id,
		func(s *domain.Subscriber) {
			if plan == nil {
				s.PendingDowngradePlan = nil
				s.PendingDowngradeAt = nil
				return
			}
			p := *plan
			s.PendingDowngradePlan = &p
			s.PendingDowngradeAt = copyTime(at)
		},
		restorePendingDowngrade,
	)
}

func (m *Memory) ListSubscribersDueForRenewal(_ context.Context, asOf time.Time, after Cursor, limit int) ([]domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Subscriber
	for _, s := range m.data.subscribers {
		if s.RenewsAt != nil && !s.RenewsAt.After(asOf) && after.After(*s.RenewsAt, s.ID) {
			out = append(out, cloneSubscriber(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return Cursor{At: *out[i].RenewsAt, ID: out[i].ID}.After(*out[j].RenewsAt, out[j].ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneSubscriber(s domain.Subscriber) domain.Subscriber {
	s.RenewsAt = copyTime(s.RenewsAt)
	s.PendingDowngradeAt = copyTime(s.PendingDowngradeAt)
	if s.PendingDowngradePlan != nil {
		p := *s.PendingDowngradePlan
		s.PendingDowngradePlan = &p
	}
	return s
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// =============================================================================
// Usage events
// =============================================================================

func (m *Memory) InsertUsageEvent(_ context.Context, e *domain.UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data.subscribers[e.SubscriberID]; !ok {
		return fmt.Errorf("usage event for unknown subscriber %s: %w", e.SubscriberID, ErrNotFound)
	}
	m.data.events = append(m.data.events, *e)

	id := e.ID
	m.journal(func() {
		m.data.events = without(m.data.events, func(e domain.UsageEvent) bool { return e.ID == id })
	})
	return nil
}

func (m *Memory) SumUsageUnits(_ context.Context, subscriberID uuid.UUID, from, to time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for _, e := range m.data.events {
		if e.SubscriberID == subscriberID && !e.OccurredAt.Before(from) && e.OccurredAt.Before(to) {
			total += e.Units
		}
	}
	return total, nil
}

// UsageEvents returns a copy of the audit log for a subscriber.
func (m *Memory) UsageEvents(subscriberID uuid.UUID) []domain.UsageEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.UsageEvent
	for _, e := range m.data.events {
		if e.SubscriberID == subscriberID {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// Overage charges
// =============================================================================

func (m *Memory) InsertOverageCharge(_ context.Context, c *domain.OverageCharge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.Period = domain.Day(c.Period)
	m.data.charges = append(m.data.charges, *c)

	id := c.ID
	m.journal(func() {
		m.data.charges = without(m.data.charges, func(c domain.OverageCharge) bool { return c.ID == id })
	})
	return nil
}

// journalCharge records the charge as it is now so a rollback can put it
// back. Callers hold mu.
func (m *Memory) journalCharge(prev domain.OverageCharge) {
	m.journal(func() {
		replace(m.data.charges, func(c domain.OverageCharge) bool { return c.ID == prev.ID }, prev)
	})
}

func (m *Memory) ListPendingOverageCharges(_ context.Context, limit int) ([]domain.OverageCharge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.OverageCharge
	for _, c := range m.data.charges {
		if c.Status == domain.ChargeStatusPending {
			out = append(out, c)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListOverageChargesForPeriod(_ context.Context, subscriberID uuid.UUID, period time.Time) ([]domain.OverageCharge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	period = domain.Day(period)
	var out []domain.OverageCharge
	for _, c := range m.data.charges {
		if c.SubscriberID == subscriberID && c.Period.Equal(period) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) MarkOverageChargesBilled(_ context.Context, ids []uuid.UUID, billedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	for i := range m.data.charges {
		c := &m.data.charges[i]
		if !want[c.ID] || c.Status != domain.ChargeStatusPending {
			continue
		}
		m.journalCharge(*c)
		at := billedAt
		c.Status = domain.ChargeStatusBilled
		c.BilledAt = &at
		c.Attempts++
		c.LastError = ""
		n++
	}
	return n, nil
}

func (m *Memory) RecordOverageAttempt(_ context.Context, id uuid.UUID, lastError string, maxAttempts int) (*domain.OverageCharge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.data.charges {
		c := &m.data.charges[i]
		if c.ID != id || c.Status != domain.ChargeStatusPending {
			continue
		}
		m.journalCharge(*c)
		c.Attempts++
		c.LastError = lastError
		if c.Attempts >= maxAttempts {
			c.Status = domain.ChargeStatusFailed
		}
		out := *c
		return &out, nil
	}
	return nil, ErrNotFound
}

// =============================================================================
// Plan changes
// =============================================================================

func (m *Memory) InsertChange(_ context.Context, c *domain.SubscriptionChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Status == domain.ChangeStatusPending {
		for _, existing := range m.data.changes {
			if existing.SubscriberID == c.SubscriberID && existing.Status == domain.ChangeStatusPending {
				return ErrConflict
			}
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	m.data.changes = append(m.data.changes, *c)

	id := c.ID
	m.journal(func() {
		m.data.changes = without(m.data.changes, func(c domain.SubscriptionChange) bool { return c.ID == id })
	})
	return nil
}

// journalChange is journalCharge for plan changes.
func (m *Memory) journalChange(prev domain.SubscriptionChange) {
	m.journal(func() {
		replace(m.data.changes, func(c domain.SubscriptionChange) bool { return c.ID == prev.ID }, prev)
	})
}

func (m *Memory) GetPendingChange(_ context.Context, subscriberID uuid.UUID) (*domain.SubscriptionChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.data.changes {
		if c.SubscriberID == subscriberID && c.Status == domain.ChangeStatusPending {
			out := c
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateChangeStatus(_ context.Context, id uuid.UUID, from, to domain.ChangeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.data.changes {
		c := &m.data.changes[i]
		if c.ID == id && c.Status == from {
			m.journalChange(*c)
			c.Status = to
			c.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) MarkChangeBlocked(_ context.Context, id uuid.UUID, reason domain.Reason, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.data.changes {
		c := &m.data.changes[i]
		if c.ID == id && c.Status == domain.ChangeStatusPending {
			m.journalChange(*c)
			at := checkedAt
			c.BlockedReason = reason
			c.LastCheckedAt = &at
			c.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListDueChanges(_ context.Context, asOf time.Time, after Cursor, limit int) ([]domain.SubscriptionChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.SubscriptionChange
	for _, c := range m.data.changes {
		if c.IsDue(asOf) && after.After(c.ScheduledAt, c.ID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return Cursor{At: out[i].ScheduledAt, ID: out[i].ID}.After(out[j].ScheduledAt, out[j].ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Changes returns every change recorded for a subscriber, oldest first.
func (m *Memory) Changes(subscriberID uuid.UUID) []domain.SubscriptionChange {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.SubscriptionChange
	for _, c := range m.data.changes {
		if c.SubscriberID == subscriberID {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// Teams
// =============================================================================

func (m *Memory) CreateTeam(_ context.Context, t *domain.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data.subscribers[t.OwnerID]; !ok {
		return fmt.Errorf("team owner %s: %w", t.OwnerID, ErrNotFound)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.MemberCount = 0
	m.data.teams[t.ID] = *t

	id := t.ID
	m.journal(func() { delete(m.data.teams, id) })
	return nil
}

func (m *Memory) GetTeam(_ context.Context, id uuid.UUID) (*domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.data.teams[id]
	if !ok {
		return nil, ErrNotFound
	}
	t.MemberCount = int64(len(m.data.members[id]))
	if t.ReportedSeats != nil {
		n := *t.ReportedSeats
		t.ReportedSeats = &n
	}
	t.LastReconciledAt = copyTime(t.LastReconciledAt)
	return &t, nil
}

func (m *Memory) ListTeamIDsByOwner(_ context.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var teams []domain.Team
	for _, t := range m.data.teams {
		if t.OwnerID == ownerID {
			teams = append(teams, t)
		}
	}
	return sortedTeamIDs(teams, 0), nil
}

func (m *Memory) ListTeamIDs(_ context.Context, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	teams := make([]domain.Team, 0, len(m.data.teams))
	for _, t := range m.data.teams {
		teams = append(teams, t)
	}
	return sortedTeamIDs(teams, limit), nil
}

func sortedTeamIDs(teams []domain.Team, limit int) []uuid.UUID {
	sort.Slice(teams, func(i, j int) bool {
		if teams[i].CreatedAt.Equal(teams[j].CreatedAt) {
			return teams[i].ID.String() < teams[j].ID.String()
		}
		return teams[i].CreatedAt.Before(teams[j].CreatedAt)
	})
	if limit > 0 && len(teams) > limit {
		teams = teams[:limit]
	}
	ids := make([]uuid.UUID, 0, len(teams))
	for _, t := range teams {
		ids = append(ids, t.ID)
	}
	return ids
}

func (m *Memory) UpdateTeamReportedSeats(_ context.Context, id uuid.UUID, seats int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.data.teams[id]
	if !ok {
		return ErrNotFound
	}
	prevSeats, prevAt := t.ReportedSeats, t.LastReconciledAt
	t.ReportedSeats = &seats
	t.LastReconciledAt = &at
	m.data.teams[id] = t

	m.journal(func() {
		if t, ok := m.data.teams[id]; ok {
			t.ReportedSeats, t.LastReconciledAt = prevSeats, prevAt
			m.data.teams[id] = t
		}
	})
	return nil
}

func (m *Memory) AddTeamMember(_ context.Context, member *domain.TeamMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data.teams[member.TeamID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.data.members[member.TeamID] {
		if strings.EqualFold(existing.Email, member.Email) {
			return ErrConflict
		}
	}
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now().UTC()
	}
	m.data.members[member.TeamID] = append(m.data.members[member.TeamID], *member)

	teamID, id := member.TeamID, member.ID
	m.journal(func() {
		m.data.members[teamID] = without(m.data.members[teamID], func(tm domain.TeamMember) bool { return tm.ID == id })
	})
	return nil
}

func (m *Memory) RemoveTeamMember(_ context.Context, teamID, memberID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := m.data.members[teamID]
	for i, existing := range members {
		if existing.ID == memberID {
			m.data.members[teamID] = append(members[:i:i], members[i+1:]...)
			removed := existing
			m.journal(func() {
				m.data.members[teamID] = append(m.data.members[teamID], removed)
			})
			return nil
		}
	}
	return ErrNotFound
}

var _ Store = (*Memory)(nil)
