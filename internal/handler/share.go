package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"vinreports-api/internal/service"
	"vinreports-api/pkg/apierror"
	"vinreports-api/pkg/response"
)

// ShareHandler mints share links for cached reports. Resolution lives on
// ReportHandler, which owns report serving.
type ShareHandler struct {
	share *service.ShareService
}

// NewShareHandler creates a new share handler.
func NewShareHandler(share *service.ShareService) *ShareHandler {
	return &ShareHandler{share: share}
}

// ShareRequest represents the request body for share-link creation.
type ShareRequest struct {
	VIN        string `json:"vin"`
	ReportType string `json:"report_type"`
}

// ShareResponse represents a minted share link.
type ShareResponse struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateShare handles POST /api/v1/share. Only cached reports can be
// shared; issuing a link never triggers a fetch.
func (h *ShareHandler) CreateShare(w http.ResponseWriter, r *http.Request) {
	var req ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	if req.VIN == "" {
		response.Error(w, apierror.BadRequest("vin is required"))
		return
	}

	token, err := h.share.Issue(r.Context(), req.VIN, req.ReportType)
	if err != nil {
		response.Error(w, err)
		return
	}

	response.Created(w, ShareResponse{
		Token:     token.Token,
		URL:       "/api/v1/share/" + token.Token,
		ExpiresAt: token.ExpiresAt,
	})
}
