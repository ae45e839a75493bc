package domain

import (
	"time"

	"github.com/google/uuid"
)

// Team is a group of members owned by a paying subscriber.
type Team struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	Name        string
	MemberCount int64
	SeatItemID  string // ledger subscription item carrying the seat quantity

	// ReportedSeats is the additional-seat quantity last accepted by the ledger.
	ReportedSeats    *int64
	LastReconciledAt *time.Time
	CreatedAt        time.Time
}

// TeamMember is one seat holder.
type TeamMember struct {
	ID        uuid.UUID
	TeamID    uuid.UUID
	Email     string
	CreatedAt time.Time
}

// TeamBillingState is the seat reconciliation snapshot of a team.
type TeamBillingState struct {
	TeamID                  uuid.UUID  `json:"team_id"`
	IncludedSeats           int64      `json:"included_seats"`
	MemberCount             int64      `json:"member_count"`
	BillableAdditionalSeats int64      `json:"billable_additional_seats"`
	ReportedSeats           *int64     `json:"reported_seats,omitempty"`
	LastReconciledAt        *time.Time `json:"last_reconciled_at,omitempty"`
}

// BillableSeats returns max(0, members - included).
func BillableSeats(members, included int64) int64 {
	if members <= included {
		return 0
	}
	return members - included
}

// NeedsReport reports whether the billable count differs from what the
// ledger was last told.
func (s *TeamBillingState) NeedsReport() bool {
	return s.ReportedSeats == nil || *s.ReportedSeats != s.BillableAdditionalSeats
}
