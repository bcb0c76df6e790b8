package handler

import (
	"encoding/json"
	"net/http"

	"vinreports-api/internal/middleware"
	"vinreports-api/internal/service"
	"vinreports-api/pkg/apierror"
	"vinreports-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// CheckoutHandler handles checkout creation and finalization.
type CheckoutHandler struct {
	checkout *service.CheckoutService
}

// NewCheckoutHandler creates a new checkout handler.
func NewCheckoutHandler(checkout *service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

// CheckoutRequest represents the request body for checkout creation.
type CheckoutRequest struct {
	PriceID    string `json:"price_id"`
	VIN        string `json:"vin"`
	ReportType string `json:"report_type"`
}

// CreateCheckout handles POST /api/v1/checkout. Guests may buy a single
// report; credit purchases need an account to credit.
func (h *CheckoutHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	input := service.CheckoutRequestInput{
		PriceID:    req.PriceID,
		VIN:        req.VIN,
		ReportType: req.ReportType,
	}
	if tokenData := middleware.GetTokenDataFromContext(r.Context()); tokenData != nil {
		input.UserID = tokenData.UserID
	}

	if input.UserID == "" && req.VIN == "" {
		response.Error(w, apierror.Unauthorized("Credit purchases require an account. Provide a VIN to buy a single report."))
		return
	}

	result, err := h.checkout.CreateCheckout(r.Context(), input)
	if err != nil {
		response.Error(w, err)
		return
	}

	response.Created(w, result)
}

// FinalizeCheckout handles POST /api/v1/checkout/{session_id}/finalize.
// The client calls it after returning from the processor; it is safe to
// retry and safe to race the webhook.
func (h *CheckoutHandler) FinalizeCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		response.Error(w, apierror.BadRequest("session_id is required"))
		return
	}

	if err := h.checkout.FinalizeCheckout(r.Context(), sessionID); err != nil {
		response.Error(w, err)
		return
	}

	response.OK(w, map[string]string{
		"session_id": sessionID,
		"status":     "finalized",
	})
}
