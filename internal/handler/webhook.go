// This file implements the Stripe webhook that mirrors subscription status
// into the engine.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is public because Stripe calls it directly. Authentication is
// via the Stripe webhook signature.
package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/DukeRupert/meterline/internal/service"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// SubscriberMetadataKey is the Stripe subscription metadata key holding the
// engine subscriber ID.
const SubscriberMetadataKey = "subscriber_id"

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	subscribers service.SubscriberService
	secret      string
	logger      *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler. An empty secret disables
// the endpoint.
func NewWebhookHandler(subscribers service.SubscriberService, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		subscribers: subscribers,
		secret:      secret,
		logger:      logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events. Events that
// cannot be applied are acknowledged so Stripe does not redeliver them
// forever; store failures return 500 so it does.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		h.logger.Warn("stripe webhook received but no webhook secret is configured")
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		if err := h.syncSubscription(r, event); err != nil {
			ErrorResponse(w, r, h.logger, err)
			return
		}
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) syncSubscription(r *http.Request, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription event", "error", err, "event_id", event.ID)
		return nil
	}

	subscriberID, err := uuid.Parse(sub.Metadata[SubscriberMetadataKey])
	if err != nil {
		h.logger.Warn("subscription event without subscriber metadata",
			"subscription_id", sub.ID, "event_id", event.ID)
		return nil
	}

	status := statusFromStripe(sub.Status)
	if event.Type == "customer.subscription.deleted" {
		status = domain.SubscriptionStatusCanceled
	}

	if err := h.subscribers.SetStatus(r.Context(), subscriberID, status); err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			h.logger.Warn("subscription event for unknown subscriber",
				"subscriber_id", subscriberID, "subscription_id", sub.ID)
			return nil
		}
		return err
	}

	h.logger.Info("subscription status synced",
		"subscriber_id", subscriberID,
		"subscription_id", sub.ID,
		"stripe_status", sub.Status,
		"status", status,
	)
	return nil
}

// statusFromStripe maps a Stripe subscription status onto the engine's.
// Unpaid and incomplete subscriptions cannot consume units.
func statusFromStripe(s stripe.SubscriptionStatus) domain.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusActive:
		return domain.SubscriptionStatusActive
	case stripe.SubscriptionStatusTrialing:
		return domain.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusPaused:
		return domain.SubscriptionStatusPaused
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return domain.SubscriptionStatusCanceled
	default:
		return domain.SubscriptionStatusPastDue
	}
}
