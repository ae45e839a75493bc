// This file implements plan changes.
//
// Routes handled:
//   - POST   /v1/subscribers/{id}/upgrade   -> Upgrade
//   - POST   /v1/subscribers/{id}/downgrade -> Downgrade
//   - DELETE /v1/subscribers/{id}/downgrade -> CancelDowngrade
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/service"
	"github.com/google/uuid"
)

// PlanChangeHandler handles upgrade and downgrade requests.
type PlanChangeHandler struct {
	changes service.PlanChangeService
	logger  *slog.Logger
}

// NewPlanChangeHandler creates a new PlanChangeHandler.
func NewPlanChangeHandler(changes service.PlanChangeService, logger *slog.Logger) *PlanChangeHandler {
	return &PlanChangeHandler{
		changes: changes,
		logger:  logger,
	}
}

// RegisterRoutes registers plan change routes on the provided mux.
func (h *PlanChangeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/subscribers/{id}/upgrade", h.Upgrade)
	mux.HandleFunc("POST /v1/subscribers/{id}/downgrade", h.Downgrade)
	mux.HandleFunc("DELETE /v1/subscribers/{id}/downgrade", h.CancelDowngrade)
}

// ChangeResponse is the JSON view of a subscription change.
type ChangeResponse struct {
	ID            uuid.UUID           `json:"id"`
	SubscriberID  uuid.UUID           `json:"subscriber_id"`
	FromPlan      domain.PlanID       `json:"from_plan"`
	ToPlan        domain.PlanID       `json:"to_plan"`
	Type          domain.ChangeType   `json:"type"`
	Status        domain.ChangeStatus `json:"status"`
	ScheduledAt   time.Time           `json:"scheduled_at"`
	BlockedReason domain.Reason       `json:"blocked_reason,omitempty"`
}

func newChangeResponse(c *domain.SubscriptionChange) ChangeResponse {
	return ChangeResponse{
		ID:            c.ID,
		SubscriberID:  c.SubscriberID,
		FromPlan:      c.FromPlan,
		ToPlan:        c.ToPlan,
		Type:          c.Type,
		Status:        c.Status,
		ScheduledAt:   c.ScheduledAt,
		BlockedReason: c.BlockedReason,
	}
}

type planChangeRequest struct {
	Plan domain.PlanID `json:"plan"`
}

func (h *PlanChangeHandler) decode(w http.ResponseWriter, r *http.Request) (uuid.UUID, domain.PlanID, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return uuid.Nil, "", false
	}
	var req planChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return uuid.Nil, "", false
	}
	if req.Plan == "" {
		BadRequestResponse(w, r, h.logger, "plan is required")
		return uuid.Nil, "", false
	}
	return id, req.Plan, true
}

// Upgrade moves the subscriber to a higher tier immediately.
func (h *PlanChangeHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	id, target, ok := h.decode(w, r)
	if !ok {
		return
	}
	change, err := h.changes.RequestUpgrade(r.Context(), id, target)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newChangeResponse(change))
}

// Downgrade schedules a move to a lower tier at the next renewal.
func (h *PlanChangeHandler) Downgrade(w http.ResponseWriter, r *http.Request) {
	id, target, ok := h.decode(w, r)
	if !ok {
		return
	}
	change, err := h.changes.RequestDowngrade(r.Context(), id, target)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newChangeResponse(change))
}

// CancelDowngrade cancels the pending downgrade.
func (h *PlanChangeHandler) CancelDowngrade(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if err := h.changes.CancelPendingDowngrade(r.Context(), id); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
