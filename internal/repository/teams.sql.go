package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const createTeam = `-- name: CreateTeam :one
INSERT INTO teams (id, owner_id, name, seat_item_id, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, owner_id, name, seat_item_id, reported_seats, last_reconciled_at, created_at`

type CreateTeamParams struct {
	ID         uuid.UUID `json:"id"`
	OwnerID    uuid.UUID `json:"owner_id"`
	Name       string    `json:"name"`
	SeatItemID string    `json:"seat_item_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func (q *Queries) CreateTeam(ctx context.Context, arg CreateTeamParams) (Team, error) {
	row := q.db.QueryRowContext(ctx, createTeam, arg.ID, arg.OwnerID, arg.Name, arg.SeatItemID, arg.CreatedAt)
	var i Team
	err := row.Scan(
		&i.ID,
		&i.OwnerID,
		&i.Name,
		&i.SeatItemID,
		&i.ReportedSeats,
		&i.LastReconciledAt,
		&i.CreatedAt,
	)
	return i, err
}

const getTeamWithMemberCount = `-- name: GetTeamWithMemberCount :one
SELECT t.id, t.owner_id, t.name, t.seat_item_id, t.reported_seats, t.last_reconciled_at, t.created_at,
       (SELECT COUNT(*) FROM team_members m WHERE m.team_id = t.id)::bigint AS member_count
FROM teams t
WHERE t.id = $1`

type TeamWithMemberCountRow struct {
	ID               uuid.UUID     `json:"id"`
	OwnerID          uuid.UUID     `json:"owner_id"`
	Name             string        `json:"name"`
	SeatItemID       string        `json:"seat_item_id"`
	ReportedSeats    sql.NullInt64 `json:"reported_seats"`
	LastReconciledAt sql.NullTime  `json:"last_reconciled_at"`
	CreatedAt        time.Time     `json:"created_at"`
	MemberCount      int64         `json:"member_count"`
}

func scanTeamWithMemberCount(row interface{ Scan(...interface{}) error }) (TeamWithMemberCountRow, error) {
	var i TeamWithMemberCountRow
	err := row.Scan(
		&i.ID,
		&i.OwnerID,
		&i.Name,
		&i.SeatItemID,
		&i.ReportedSeats,
		&i.LastReconciledAt,
		&i.CreatedAt,
		&i.MemberCount,
	)
	return i, err
}

func (q *Queries) GetTeamWithMemberCount(ctx context.Context, id uuid.UUID) (TeamWithMemberCountRow, error) {
	row := q.db.QueryRowContext(ctx, getTeamWithMemberCount, id)
	return scanTeamWithMemberCount(row)
}

const listTeamIDsByOwner = `-- name: ListTeamIDsByOwner :many
SELECT id FROM teams
WHERE owner_id = $1
ORDER BY created_at`

func (q *Queries) ListTeamIDsByOwner(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	return q.listIDs(ctx, listTeamIDsByOwner, ownerID)
}

const listTeamIDs = `-- name: ListTeamIDs :many
SELECT id FROM teams
ORDER BY created_at
LIMIT $1`

func (q *Queries) ListTeamIDs(ctx context.Context, limit int32) ([]uuid.UUID, error) {
	return q.listIDs(ctx, listTeamIDs, limit)
}

func (q *Queries) listIDs(ctx context.Context, query string, args ...interface{}) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateTeamReportedSeats = `-- name: UpdateTeamReportedSeats :execrows
UPDATE teams
SET reported_seats = $2, last_reconciled_at = $3
WHERE id = $1`

type UpdateTeamReportedSeatsParams struct {
	ID               uuid.UUID `json:"id"`
	ReportedSeats    int64     `json:"reported_seats"`
	LastReconciledAt time.Time `json:"last_reconciled_at"`
}

func (q *Queries) UpdateTeamReportedSeats(ctx context.Context, arg UpdateTeamReportedSeatsParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateTeamReportedSeats, arg.ID, arg.ReportedSeats, arg.LastReconciledAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const addTeamMember = `-- name: AddTeamMember :one
INSERT INTO team_members (id, team_id, email, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id, team_id, email, created_at`

type AddTeamMemberParams struct {
	ID        uuid.UUID `json:"id"`
	TeamID    uuid.UUID `json:"team_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (q *Queries) AddTeamMember(ctx context.Context, arg AddTeamMemberParams) (TeamMember, error) {
	row := q.db.QueryRowContext(ctx, addTeamMember, arg.ID, arg.TeamID, arg.Email, arg.CreatedAt)
	var i TeamMember
	err := row.Scan(&i.ID, &i.TeamID, &i.Email, &i.CreatedAt)
	return i, err
}

const removeTeamMember = `-- name: RemoveTeamMember :execrows
DELETE FROM team_members
WHERE team_id = $1 AND id = $2`

type RemoveTeamMemberParams struct {
	TeamID uuid.UUID `json:"team_id"`
	ID     uuid.UUID `json:"id"`
}

func (q *Queries) RemoveTeamMember(ctx context.Context, arg RemoveTeamMemberParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, removeTeamMember, arg.TeamID, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
