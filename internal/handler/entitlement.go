// This file implements the metering endpoints.
//
// Routes handled:
//   - POST /v1/subscribers/{id}/entitlements -> Check
//   - POST /v1/subscribers/{id}/usage        -> RecordUsage
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/service"
	"github.com/google/uuid"
)

// EntitlementHandler answers entitlement checks and records consumption.
type EntitlementHandler struct {
	entitlements service.EntitlementService
	logger       *slog.Logger
}

// NewEntitlementHandler creates a new EntitlementHandler.
func NewEntitlementHandler(entitlements service.EntitlementService, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		entitlements: entitlements,
		logger:       logger,
	}
}

// RegisterRoutes registers metering routes on the provided mux.
func (h *EntitlementHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/subscribers/{id}/entitlements", h.Check)
	mux.HandleFunc("POST /v1/subscribers/{id}/usage", h.RecordUsage)
}

type checkRequest struct {
	Action string `json:"action"`
}

func parseAction(s string) (domain.ActionType, error) {
	action, ok := domain.ParseActionType(s)
	if !ok {
		return "", domain.Invalid("", "unknown action type")
	}
	return action, nil
}

// Check answers whether the subscriber may perform the action now. An
// allowed action returns the decision; a denied one returns the error for
// its reason (429 for limits, 402 for an inactive subscription).
func (h *EntitlementHandler) Check(w http.ResponseWriter, r *http.Request) {
	const op = "entitlement.check"

	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	action, err := parseAction(req.Action)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	decision, err := h.entitlements.CanPerformAction(r.Context(), id, action)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if denial := domain.DenialError(op, decision); denial != nil {
		ErrorResponse(w, r, h.logger, denial)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type usageRequest struct {
	Action   string            `json:"action"`
	Units    int64             `json:"units"`
	Metadata map[string]string `json:"metadata"`
}

// UsageResponse is the result of recording consumed units.
type UsageResponse struct {
	Usage      domain.Usage    `json:"usage"`
	EventID    *uuid.UUID      `json:"event_id,omitempty"`
	IsOverage  bool            `json:"is_overage"`
	Overage    *ChargeResponse `json:"overage_charge,omitempty"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
}

// ChargeResponse is the JSON view of an overage charge.
type ChargeResponse struct {
	ID             uuid.UUID           `json:"id"`
	Units          int64               `json:"units"`
	UnitPriceCents int64               `json:"unit_price_cents"`
	AmountCents    int64               `json:"amount_cents"`
	Currency       string              `json:"currency"`
	Status         domain.ChargeStatus `json:"status"`
	Period         string              `json:"period"`
}

// RecordUsage records units consumed by a completed action.
func (h *EntitlementHandler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req usageRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	action, err := parseAction(req.Action)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	record, err := h.entitlements.RecordUsage(r.Context(), service.RecordUsageParams{
		SubscriberID: id,
		Action:       action,
		Units:        req.Units,
		Metadata:     req.Metadata,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := UsageResponse{Usage: record.Usage}
	if record.Event != nil {
		resp.EventID = &record.Event.ID
		resp.IsOverage = record.Event.IsOverage
		resp.OccurredAt = &record.Event.OccurredAt
	}
	if c := record.Charge; c != nil {
		resp.Overage = &ChargeResponse{
			ID:             c.ID,
			Units:          c.Units,
			UnitPriceCents: c.UnitPriceCents,
			AmountCents:    c.AmountCents,
			Currency:       c.Currency,
			Status:         c.Status,
			Period:         c.PeriodKey(),
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}
