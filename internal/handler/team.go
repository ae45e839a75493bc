// This file implements team seat management.
//
// Routes handled:
//   - POST   /v1/teams                            -> Create
//   - POST   /v1/teams/{id}/members               -> AddMember
//   - DELETE /v1/teams/{id}/members/{memberID}    -> RemoveMember
//   - POST   /v1/teams/{id}/reconcile             -> Reconcile
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/service"
	"github.com/google/uuid"
)

// TeamHandler handles team HTTP requests.
type TeamHandler struct {
	teams  service.TeamService
	logger *slog.Logger
}

// NewTeamHandler creates a new TeamHandler.
func NewTeamHandler(teams service.TeamService, logger *slog.Logger) *TeamHandler {
	return &TeamHandler{
		teams:  teams,
		logger: logger,
	}
}

// RegisterRoutes registers team routes on the provided mux.
func (h *TeamHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/teams", h.Create)
	mux.HandleFunc("POST /v1/teams/{id}/members", h.AddMember)
	mux.HandleFunc("DELETE /v1/teams/{id}/members/{memberID}", h.RemoveMember)
	mux.HandleFunc("POST /v1/teams/{id}/reconcile", h.Reconcile)
}

// TeamResponse is the JSON view of a team.
type TeamResponse struct {
	ID               uuid.UUID  `json:"id"`
	OwnerID          uuid.UUID  `json:"owner_id"`
	Name             string     `json:"name"`
	MemberCount      int64      `json:"member_count"`
	SeatItemID       string     `json:"seat_item_id,omitempty"`
	ReportedSeats    *int64     `json:"reported_seats,omitempty"`
	LastReconciledAt *time.Time `json:"last_reconciled_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// MemberResponse is the result of adding a member.
type MemberResponse struct {
	ID      uuid.UUID                `json:"id"`
	TeamID  uuid.UUID                `json:"team_id"`
	Email   string                   `json:"email"`
	Billing *domain.TeamBillingState `json:"billing"`
}

type createTeamRequest struct {
	OwnerID    uuid.UUID `json:"owner_id"`
	Name       string    `json:"name"`
	SeatItemID string    `json:"seat_item_id"`
}

// Create creates a team owned by a subscriber.
func (h *TeamHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	team, err := h.teams.CreateTeam(r.Context(), service.CreateTeamParams{
		OwnerID:    req.OwnerID,
		Name:       req.Name,
		SeatItemID: req.SeatItemID,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, TeamResponse{
		ID:               team.ID,
		OwnerID:          team.OwnerID,
		Name:             team.Name,
		MemberCount:      team.MemberCount,
		SeatItemID:       team.SeatItemID,
		ReportedSeats:    team.ReportedSeats,
		LastReconciledAt: team.LastReconciledAt,
		CreatedAt:        team.CreatedAt,
	})
}

type addMemberRequest struct {
	Email string `json:"email"`
}

// AddMember adds a member and returns the reconciled seat state.
func (h *TeamHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	teamID, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	member, state, err := h.teams.AddMember(r.Context(), teamID, req.Email)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, MemberResponse{
		ID:      member.ID,
		TeamID:  member.TeamID,
		Email:   member.Email,
		Billing: state,
	})
}

// RemoveMember removes a member and returns the reconciled seat state.
func (h *TeamHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	teamID, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	memberID, err := pathID(r, "memberID")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	state, err := h.teams.RemoveMember(r.Context(), teamID, memberID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Reconcile forces a seat reconcile. A ledger failure is reported as an
// error; a retry is already queued.
func (h *TeamHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	teamID, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	state, err := h.teams.Reconcile(r.Context(), teamID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
