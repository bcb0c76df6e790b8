package handler

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"vinreports-api/internal/service"
	"vinreports-api/pkg/apierror"
	"vinreports-api/pkg/response"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

// CheckoutReconciler applies a payment-confirmation event. Satisfied by
// *service.CheckoutService; tests inject a stub.
type CheckoutReconciler interface {
	HandleCheckoutCompleted(ctx context.Context, event service.CheckoutEvent) error
}

// WebhookHandler receives signed payment-confirmation webhooks.
type WebhookHandler struct {
	reconciler CheckoutReconciler
	secret     string
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(reconciler CheckoutReconciler, secret string) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, secret: secret}
}

// webhookEnvelope is the processor's event wrapper.
type webhookEnvelope struct {
	Type string                `json:"type"`
	Data service.CheckoutEvent `json:"data"`
}

// HandlePayment handles POST /api/v1/webhooks/payment. Signature failures
// are 401; everything past the signature returns 200 so the processor
// stops retrying events we have durably handled or durably cannot handle.
func (h *WebhookHandler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.Error(w, apierror.BadRequest("failed to read request body"))
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Payment-Signature")
	if !service.VerifyWebhookSignature(h.secret, payload, signature) {
		response.Error(w, apierror.Unauthorized("invalid webhook signature"))
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		response.Error(w, apierror.BadRequest("invalid webhook payload"))
		return
	}

	if envelope.Type != "checkout.completed" {
		// Unhandled event types are acknowledged, not errored.
		response.OK(w, map[string]string{"status": "ignored"})
		return
	}

	if err := h.reconciler.HandleCheckoutCompleted(r.Context(), envelope.Data); err != nil {
		// A transient reconcile failure returns 500 so the processor
		// redelivers; the processed-session guard makes redelivery safe.
		log.Printf("[WebhookHandler] Reconcile failed for %s: %v", envelope.Data.SessionID, err)
		response.Error(w, apierror.InternalError("failed to process event"))
		return
	}

	response.OK(w, map[string]string{"status": "processed"})
}
