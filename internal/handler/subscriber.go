// Package handler contains the JSON HTTP API of the metering engine.
//
// This file implements subscriber management.
//
// Routes handled:
//   - POST /v1/subscribers              -> Signup
//   - GET  /v1/subscribers/{id}         -> Get
//   - PUT  /v1/subscribers/{id}/status  -> SetStatus
//   - PUT  /v1/subscribers/{id}/overage -> SetOverage
//   - GET  /v1/plans                    -> ListPlans
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/plans"
	"github.com/DukeRupert/meterline/internal/service"
	"github.com/google/uuid"
)

// SubscriberHandler handles subscriber HTTP requests.
type SubscriberHandler struct {
	subscribers service.SubscriberService
	plans       *plans.Registry
	logger      *slog.Logger
	now         func() time.Time
}

// NewSubscriberHandler creates a new SubscriberHandler.
func NewSubscriberHandler(subscribers service.SubscriberService, registry *plans.Registry, logger *slog.Logger) *SubscriberHandler {
	return &SubscriberHandler{
		subscribers: subscribers,
		plans:       registry,
		logger:      logger,
		now:         time.Now,
	}
}

// RegisterRoutes registers subscriber routes on the provided mux.
func (h *SubscriberHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/subscribers", h.Signup)
	mux.HandleFunc("GET /v1/subscribers/{id}", h.Get)
	mux.HandleFunc("PUT /v1/subscribers/{id}/status", h.SetStatus)
	mux.HandleFunc("PUT /v1/subscribers/{id}/overage", h.SetOverage)
	mux.HandleFunc("GET /v1/plans", h.ListPlans)
}

// SubscriberResponse is the JSON view of a subscriber.
type SubscriberResponse struct {
	ID                 uuid.UUID                 `json:"id"`
	PlanID             domain.PlanID             `json:"plan_id"`
	Status             domain.SubscriptionStatus `json:"status"`
	RenewsAt           *time.Time                `json:"renews_at,omitempty"`
	OverageEnabled     bool                      `json:"overage_enabled"`
	Usage              domain.Usage              `json:"usage"`
	PendingDowngradeTo *domain.PlanID            `json:"pending_downgrade_to,omitempty"`
	PendingDowngradeAt *time.Time                `json:"pending_downgrade_at,omitempty"`
	LedgerUsageItemID  string                    `json:"ledger_usage_item_id,omitempty"`
	CreatedAt          time.Time                 `json:"created_at"`
}

func newSubscriberResponse(s *domain.Subscriber, now time.Time) SubscriberResponse {
	return SubscriberResponse{
		ID:                 s.ID,
		PlanID:             s.PlanID,
		Status:             s.Status,
		RenewsAt:           s.RenewsAt,
		OverageEnabled:     s.OverageEnabled,
		Usage:              s.UsageAt(now),
		PendingDowngradeTo: s.PendingDowngradePlan,
		PendingDowngradeAt: s.PendingDowngradeAt,
		LedgerUsageItemID:  s.LedgerUsageItemID,
		CreatedAt:          s.CreatedAt,
	}
}

type signupRequest struct {
	ID                *uuid.UUID `json:"id"`
	LedgerUsageItemID string     `json:"ledger_usage_item_id"`
	OverageEnabled    bool       `json:"overage_enabled"`
}

// Signup creates a free-plan subscriber.
func (h *SubscriberHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	params := service.SignupParams{
		LedgerUsageItemID: req.LedgerUsageItemID,
		OverageEnabled:    req.OverageEnabled,
	}
	if req.ID != nil {
		params.ID = *req.ID
	}

	sub, err := h.subscribers.Signup(r.Context(), params)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSubscriberResponse(sub, h.now()))
}

// Get returns a subscriber with its current usage.
func (h *SubscriberHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	sub, err := h.subscribers.Get(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriberResponse(sub, h.now()))
}

type statusRequest struct {
	Status domain.SubscriptionStatus `json:"status"`
}

// SetStatus overrides the subscription status.
func (h *SubscriberHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if err := h.subscribers.SetStatus(r.Context(), id, req.Status); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	h.Get(w, r)
}

type overageRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetOverage turns paid overage on or off.
func (h *SubscriberHandler) SetOverage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req overageRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if req.Enabled == nil {
		BadRequestResponse(w, r, h.logger, "enabled is required")
		return
	}

	if err := h.subscribers.SetOverageEnabled(r.Context(), id, *req.Enabled); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	h.Get(w, r)
}

// PlanResponse is the JSON view of a plan. Limits of -1 are unlimited.
type PlanResponse struct {
	ID                       domain.PlanID `json:"id"`
	Name                     string        `json:"name"`
	MonthlyPriceCents        int64         `json:"monthly_price_cents"`
	MonthlyLimit             domain.Limit  `json:"monthly_limit"`
	DailyLimit               domain.Limit  `json:"daily_limit"`
	OveragePriceCents        int64         `json:"overage_price_cents"`
	IncludedSeats            int64         `json:"included_seats"`
	AdditionalSeatPriceCents int64         `json:"additional_seat_price_cents"`
}

// ListPlans returns the plan catalogue in tier order.
func (h *SubscriberHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	all := h.plans.All()
	resp := make([]PlanResponse, 0, len(all))
	for _, p := range all {
		resp = append(resp, PlanResponse{
			ID:                       p.ID,
			Name:                     p.Name,
			MonthlyPriceCents:        p.MonthlyPriceCents,
			MonthlyLimit:             p.MonthlyLimit,
			DailyLimit:               p.DailyLimit,
			OveragePriceCents:        p.OveragePriceCents,
			IncludedSeats:            p.IncludedSeats,
			AdditionalSeatPriceCents: p.AdditionalSeatPriceCents,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": resp})
}
