package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sqlc-dev/pqtype"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Postgres is the database-backed Store.
type Postgres struct {
	db *sql.DB
	q  *repository.Queries
	tx bool
}

// NewPostgres creates a Postgres store over db.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: repository.New(db)}
}

// Queries exposes the underlying query set for the job worker.
func (p *Postgres) Queries() *repository.Queries {
	return p.q
}

// InTx runs fn inside a database transaction. Nested calls reuse the
// outer transaction.
func (p *Postgres) InTx(ctx context.Context, fn func(Store) error) error {
	if p.tx {
		return fn(p)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Postgres{db: p.db, q: p.q.WithTx(tx), tx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Lock takes a transaction-scoped advisory lock on key.
func (p *Postgres) Lock(ctx context.Context, key string) error {
	if !p.tx {
		return fmt.Errorf("lock %q: %w", key, ErrNoTx)
	}
	return translate(p.q.AcquireXactLock(ctx, key))
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func requireRow(n int64, err error) error {
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Subscribers
// =============================================================================

func (p *Postgres) CreateSubscriber(ctx context.Context, s *domain.Subscriber) error {
	row, err := p.q.CreateSubscriber(ctx, repository.CreateSubscriberParams{
		ID:                s.ID,
		PlanID:            string(s.PlanID),
		Status:            string(s.Status),
		RenewsAt:          nullTime(s.RenewsAt),
		OverageEnabled:    s.OverageEnabled,
		DailyUsageDate:    domain.Day(s.DailyUsageDate),
		LedgerUsageItemID: s.LedgerUsageItemID,
	})
	if err != nil {
		return translate(err)
	}
	*s = subscriberFromRow(row)
	return nil
}

func (p *Postgres) GetSubscriber(ctx context.Context, id uuid.UUID) (*domain.Subscriber, error) {
	row, err := p.q.GetSubscriberByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	s := subscriberFromRow(row)
	return &s, nil
}

func (p *Postgres) IncrementUsage(ctx context.Context, id uuid.UUID, units int64, day time.Time) (domain.Usage, error) {
	row, err := p.q.IncrementSubscriberUsage(ctx, repository.IncrementSubscriberUsageParams{
		ID:    id,
		Units: units,
		Day:   domain.Day(day),
	})
	if err != nil {
		return domain.Usage{}, translate(err)
	}
	return domain.Usage{Monthly: row.MonthlyUsage, Daily: row.DailyUsage}, nil
}

func (p *Postgres) ResetMonthlyUsage(ctx context.Context, id uuid.UUID, expected, next time.Time) (bool, error) {
	n, err := p.q.ResetSubscriberMonthlyUsage(ctx, repository.ResetSubscriberMonthlyUsageParams{
		ID:           id,
		RenewsAt:     expected,
		NextRenewsAt: next,
	})
	if err != nil {
		return false, translate(err)
	}
	return n > 0, nil
}

func (p *Postgres) UpdateSubscriberStatus(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus) error {
	return requireRow(p.q.UpdateSubscriberStatus(ctx, repository.UpdateSubscriberStatusParams{
		ID:     id,
		Status: string(status),
	}))
}

func (p *Postgres) UpdateSubscriberOverage(ctx context.Context, id uuid.UUID, enabled bool) error {
	return requireRow(p.q.UpdateSubscriberOverage(ctx, repository.UpdateSubscriberOverageParams{
		ID:             id,
		OverageEnabled: enabled,
	}))
}

func (p *Postgres) UpdateSubscriberPlan(ctx context.Context, id uuid.UUID, plan domain.PlanID) error {
	return requireRow(p.q.UpdateSubscriberPlan(ctx, repository.UpdateSubscriberPlanParams{
		ID:     id,
		PlanID: string(plan),
	}))
}

func (p *Postgres) SetPendingDowngrade(ctx context.Context, id uuid.UUID, plan *domain.PlanID, at *time.Time) error {
	params := repository.SetSubscriberPendingDowngradeParams{ID: id}
	if plan != nil {
		params.PendingDowngradePlan = sql.NullString{String: string(*plan), Valid: true}
		params.PendingDowngradeAt = nullTime(at)
	}
	return requireRow(p.q.SetSubscriberPendingDowngrade(ctx, params))
}

func (p *Postgres) ListSubscribersDueForRenewal(ctx context.Context, asOf time.Time, after Cursor, limit int) ([]domain.Subscriber, error) {
	rows, err := p.q.ListSubscribersDueForRenewal(ctx, repository.ListSubscribersDueForRenewalParams{
		AsOf:    asOf,
		AfterAt: after.At,
		AfterID: after.ID,
		Limit:   int32(limit),
	})
	if err != nil {
		return nil, translate(err)
	}
	out := make([]domain.Subscriber, 0, len(rows))
	for _, row := range rows {
		out = append(out, subscriberFromRow(row))
	}
	return out, nil
}

func subscriberFromRow(row repository.Subscriber) domain.Subscriber {
	s := domain.Subscriber{
		ID:                row.ID,
		PlanID:            domain.PlanID(row.PlanID),
		Status:            domain.SubscriptionStatus(row.Status),
		OverageEnabled:    row.OverageEnabled,
		MonthlyUsage:      row.MonthlyUsage,
		DailyUsage:        row.DailyUsage,
		DailyUsageDate:    domain.Day(row.DailyUsageDate),
		LedgerUsageItemID: row.LedgerUsageItemID,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
	if row.RenewsAt.Valid {
		t := row.RenewsAt.Time
		s.RenewsAt = &t
	}
	if row.PendingDowngradePlan.Valid {
		plan := domain.PlanID(row.PendingDowngradePlan.String)
		s.PendingDowngradePlan = &plan
	}
	if row.PendingDowngradeAt.Valid {
		t := row.PendingDowngradeAt.Time
		s.PendingDowngradeAt = &t
	}
	return s
}

// =============================================================================
// Usage events
// =============================================================================

func (p *Postgres) InsertUsageEvent(ctx context.Context, e *domain.UsageEvent) error {
	var metadata pqtype.NullRawMessage
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal usage metadata: %w", err)
		}
		metadata = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	_, err := p.q.InsertUsageEvent(ctx, repository.InsertUsageEventParams{
		ID:             e.ID,
		SubscriberID:   e.SubscriberID,
		ActionType:     string(e.ActionType),
		Units:          e.Units,
		OverageUnits:   e.OverageUnits,
		IsOverage:      e.IsOverage,
		UnitPriceCents: e.UnitPriceCents,
		Counted:        e.Counted,
		Metadata:       metadata,
		OccurredAt:     e.OccurredAt,
	})
	return translate(err)
}

func (p *Postgres) SumUsageUnits(ctx context.Context, subscriberID uuid.UUID, from, to time.Time) (int64, error) {
	total, err := p.q.SumUsageUnitsBetween(ctx, repository.SumUsageUnitsBetweenParams{
		SubscriberID: subscriberID,
		From:         from,
		To:           to,
	})
	return total, translate(err)
}

// =============================================================================
// Overage charges
// =============================================================================

func (p *Postgres) InsertOverageCharge(ctx context.Context, c *domain.OverageCharge) error {
	row, err := p.q.InsertOverageCharge(ctx, repository.InsertOverageChargeParams{
		ID:             c.ID,
		SubscriberID:   c.SubscriberID,
		Units:          c.Units,
		UnitPriceCents: c.UnitPriceCents,
		AmountCents:    c.AmountCents,
		Currency:       c.Currency,
		Status:         string(c.Status),
		Period:         domain.Day(c.Period),
		Feature:        c.Feature,
		CreatedAt:      c.CreatedAt,
	})
	if err != nil {
		return translate(err)
	}
	*c = chargeFromRow(row)
	return nil
}

func (p *Postgres) ListPendingOverageCharges(ctx context.Context, limit int) ([]domain.OverageCharge, error) {
	rows, err := p.q.ListPendingOverageCharges(ctx, int32(limit))
	if err != nil {
		return nil, translate(err)
	}
	return chargesFromRows(rows), nil
}

func (p *Postgres) ListOverageChargesForPeriod(ctx context.Context, subscriberID uuid.UUID, period time.Time) ([]domain.OverageCharge, error) {
	rows, err := p.q.ListOverageChargesForPeriod(ctx, repository.ListOverageChargesForPeriodParams{
		SubscriberID: subscriberID,
		Period:       domain.Day(period),
	})
	if err != nil {
		return nil, translate(err)
	}
	return chargesFromRows(rows), nil
}

func (p *Postgres) MarkOverageChargesBilled(ctx context.Context, ids []uuid.UUID, billedAt time.Time) (int64, error) {
	var total int64
	for _, id := range ids {
		n, err := p.q.MarkOverageChargeBilled(ctx, repository.MarkOverageChargeBilledParams{
			ID:       id,
			BilledAt: billedAt,
		})
		if err != nil {
			return total, translate(err)
		}
		total += n
	}
	return total, nil
}

func (p *Postgres) RecordOverageAttempt(ctx context.Context, id uuid.UUID, lastError string, maxAttempts int) (*domain.OverageCharge, error) {
	row, err := p.q.RecordOverageChargeAttempt(ctx, repository.RecordOverageChargeAttemptParams{
		ID:          id,
		LastError:   sql.NullString{String: lastError, Valid: lastError != ""},
		MaxAttempts: int32(maxAttempts),
	})
	if err != nil {
		return nil, translate(err)
	}
	c := chargeFromRow(row)
	return &c, nil
}

func chargesFromRows(rows []repository.OverageCharge) []domain.OverageCharge {
	out := make([]domain.OverageCharge, 0, len(rows))
	for _, row := range rows {
		out = append(out, chargeFromRow(row))
	}
	return out
}

func chargeFromRow(row repository.OverageCharge) domain.OverageCharge {
	c := domain.OverageCharge{
		ID:             row.ID,
		SubscriberID:   row.SubscriberID,
		Units:          row.Units,
		UnitPriceCents: row.UnitPriceCents,
		AmountCents:    row.AmountCents,
		Currency:       row.Currency,
		Status:         domain.ChargeStatus(row.Status),
		Period:         domain.Day(row.Period),
		Feature:        row.Feature,
		Attempts:       int(row.Attempts),
		LastError:      row.LastError.String,
		CreatedAt:      row.CreatedAt,
	}
	if row.BilledAt.Valid {
		t := row.BilledAt.Time
		c.BilledAt = &t
	}
	return c
}

// =============================================================================
// Plan changes
// =============================================================================

func (p *Postgres) InsertChange(ctx context.Context, c *domain.SubscriptionChange) error {
	row, err := p.q.InsertSubscriptionChange(ctx, repository.InsertSubscriptionChangeParams{
		ID:           c.ID,
		SubscriberID: c.SubscriberID,
		FromPlan:     string(c.FromPlan),
		ToPlan:       string(c.ToPlan),
		ChangeType:   string(c.Type),
		Status:       string(c.Status),
		ScheduledAt:  c.ScheduledAt,
		CreatedAt:    c.CreatedAt,
	})
	if err != nil {
		return translate(err)
	}
	*c = changeFromRow(row)
	return nil
}

func (p *Postgres) GetPendingChange(ctx context.Context, subscriberID uuid.UUID) (*domain.SubscriptionChange, error) {
	row, err := p.q.GetPendingSubscriptionChange(ctx, subscriberID)
	if err != nil {
		return nil, translate(err)
	}
	c := changeFromRow(row)
	return &c, nil
}

func (p *Postgres) UpdateChangeStatus(ctx context.Context, id uuid.UUID, from, to domain.ChangeStatus) error {
	return requireRow(p.q.UpdateSubscriptionChangeStatus(ctx, repository.UpdateSubscriptionChangeStatusParams{
		ID:         id,
		FromStatus: string(from),
		ToStatus:   string(to),
	}))
}

func (p *Postgres) MarkChangeBlocked(ctx context.Context, id uuid.UUID, reason domain.Reason, checkedAt time.Time) error {
	return requireRow(p.q.MarkSubscriptionChangeBlocked(ctx, repository.MarkSubscriptionChangeBlockedParams{
		ID:            id,
		BlockedReason: sql.NullString{String: string(reason), Valid: reason != ""},
		LastCheckedAt: sql.NullTime{Time: checkedAt, Valid: true},
	}))
}

func (p *Postgres) ListDueChanges(ctx context.Context, asOf time.Time, after Cursor, limit int) ([]domain.SubscriptionChange, error) {
	rows, err := p.q.ListDueSubscriptionChanges(ctx, repository.ListDueSubscriptionChangesParams{
		AsOf:    asOf,
		AfterAt: after.At,
		AfterID: after.ID,
		Limit:   int32(limit),
	})
	if err != nil {
		return nil, translate(err)
	}
	out := make([]domain.SubscriptionChange, 0, len(rows))
	for _, row := range rows {
		out = append(out, changeFromRow(row))
	}
	return out, nil
}

func changeFromRow(row repository.SubscriptionChange) domain.SubscriptionChange {
	c := domain.SubscriptionChange{
		ID:            row.ID,
		SubscriberID:  row.SubscriberID,
		FromPlan:      domain.PlanID(row.FromPlan),
		ToPlan:        domain.PlanID(row.ToPlan),
		Type:          domain.ChangeType(row.ChangeType),
		Status:        domain.ChangeStatus(row.Status),
		ScheduledAt:   row.ScheduledAt,
		BlockedReason: domain.Reason(row.BlockedReason.String),
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if row.LastCheckedAt.Valid {
		t := row.LastCheckedAt.Time
		c.LastCheckedAt = &t
	}
	return c
}

// =============================================================================
// Teams
// =============================================================================

func (p *Postgres) CreateTeam(ctx context.Context, t *domain.Team) error {
	row, err := p.q.CreateTeam(ctx, repository.CreateTeamParams{
		ID:         t.ID,
		OwnerID:    t.OwnerID,
		Name:       t.Name,
		SeatItemID: t.SeatItemID,
		CreatedAt:  t.CreatedAt,
	})
	if err != nil {
		return translate(err)
	}
	t.CreatedAt = row.CreatedAt
	t.MemberCount = 0
	return nil
}

func (p *Postgres) GetTeam(ctx context.Context, id uuid.UUID) (*domain.Team, error) {
	row, err := p.q.GetTeamWithMemberCount(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	t := &domain.Team{
		ID:          row.ID,
		OwnerID:     row.OwnerID,
		Name:        row.Name,
		MemberCount: row.MemberCount,
		SeatItemID:  row.SeatItemID,
		CreatedAt:   row.CreatedAt,
	}
	if row.ReportedSeats.Valid {
		n := row.ReportedSeats.Int64
		t.ReportedSeats = &n
	}
	if row.LastReconciledAt.Valid {
		at := row.LastReconciledAt.Time
		t.LastReconciledAt = &at
	}
	return t, nil
}

func (p *Postgres) ListTeamIDsByOwner(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := p.q.ListTeamIDsByOwner(ctx, ownerID)
	return ids, translate(err)
}

func (p *Postgres) ListTeamIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	ids, err := p.q.ListTeamIDs(ctx, int32(limit))
	return ids, translate(err)
}

func (p *Postgres) UpdateTeamReportedSeats(ctx context.Context, id uuid.UUID, seats int64, at time.Time) error {
	return requireRow(p.q.UpdateTeamReportedSeats(ctx, repository.UpdateTeamReportedSeatsParams{
		ID:               id,
		ReportedSeats:    seats,
		LastReconciledAt: at,
	}))
}

func (p *Postgres) AddTeamMember(ctx context.Context, m *domain.TeamMember) error {
	row, err := p.q.AddTeamMember(ctx, repository.AddTeamMemberParams{
		ID:        m.ID,
		TeamID:    m.TeamID,
		Email:     m.Email,
		CreatedAt: m.CreatedAt,
	})
	if err != nil {
		return translate(err)
	}
	m.CreatedAt = row.CreatedAt
	return nil
}

func (p *Postgres) RemoveTeamMember(ctx context.Context, teamID, memberID uuid.UUID) error {
	return requireRow(p.q.RemoveTeamMember(ctx, repository.RemoveTeamMemberParams{
		TeamID: teamID,
		ID:     memberID,
	}))
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*Postgres)(nil)
