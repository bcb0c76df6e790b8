package handler

import (
	"net/http"
	"strconv"

	"vinreports-api/internal/middleware"
	"vinreports-api/internal/model"
	"vinreports-api/internal/repository"
	"vinreports-api/pkg/apierror"
	"vinreports-api/pkg/response"
)

// CreditsHandler exposes a user's credit balance and ledger.
type CreditsHandler struct {
	billing repository.BillingRepository
}

// NewCreditsHandler creates a new credits handler.
func NewCreditsHandler(billing repository.BillingRepository) *CreditsHandler {
	return &CreditsHandler{billing: billing}
}

// CreditsResponse represents the balance response.
type CreditsResponse struct {
	UserID  string                    `json:"user_id"`
	Balance int64                     `json:"balance"`
	Ledger  []model.CreditLedgerEntry `json:"ledger,omitempty"`
}

// GetCredits handles GET /api/v1/credits. Pass ?ledger=N to include the
// most recent N ledger entries.
func (h *CreditsHandler) GetCredits(w http.ResponseWriter, r *http.Request) {
	tokenData := middleware.GetTokenDataFromContext(r.Context())
	if tokenData == nil {
		response.Error(w, apierror.Unauthorized(""))
		return
	}

	balance, err := h.billing.GetBalance(r.Context(), tokenData.UserID)
	if err != nil {
		response.Error(w, apierror.InternalError("failed to read balance"))
		return
	}

	resp := CreditsResponse{UserID: tokenData.UserID, Balance: balance}

	if raw := r.URL.Query().Get("ledger"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 100 {
			response.Error(w, apierror.BadRequest("ledger must be between 1 and 100"))
			return
		}
		entries, err := h.billing.LedgerEntries(r.Context(), tokenData.UserID, limit)
		if err != nil {
			response.Error(w, apierror.InternalError("failed to read ledger"))
			return
		}
		resp.Ledger = entries
	}

	response.OK(w, resp)
}
