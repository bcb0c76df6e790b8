package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"vinreports-api/internal/decoder"
	"vinreports-api/internal/middleware"
	"vinreports-api/internal/service"
	"vinreports-api/pkg/apierror"
	"vinreports-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// Fulfiller runs a report request through the entitlement gate.
// Satisfied by *service.FulfillmentService; tests inject a stub.
type Fulfiller interface {
	Fulfill(ctx context.Context, req service.FulfillmentRequest) (*service.FulfillmentResult, error)
}

// ReportHandler handles report fulfillment and share resolution.
type ReportHandler struct {
	fulfillment Fulfiller
	share       *service.ShareService
}

// NewReportHandler creates a new report handler.
func NewReportHandler(fulfillment Fulfiller, share *service.ShareService) *ReportHandler {
	return &ReportHandler{
		fulfillment: fulfillment,
		share:       share,
	}
}

// ReportRequest represents the request body for report fulfillment.
type ReportRequest struct {
	VIN        string `json:"vin"`
	State      string `json:"state"`
	Plate      string `json:"plate"`
	ReportType string `json:"report_type"`
	// OutputFormat is the requested report format, "html" or "pdf".
	OutputFormat string `json:"output_format"`
	// AllowLive permits a billable provider fetch on a cache miss.
	// Defaults to true; clients set it false for cache-only lookups.
	AllowLive *bool `json:"allow_live"`
	// ReceiptID is a one-time payment receipt for guest fulfillment.
	ReceiptID string `json:"receipt_id"`
}

// GetReport handles POST /api/v1/reports. The body of a successful
// response is the report itself, with the content type derived from the
// payload; X-Report-Cache says whether it was served from cache.
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	allowLive := true
	if req.AllowLive != nil {
		allowLive = *req.AllowLive
	}

	fulfillReq := service.FulfillmentRequest{
		VIN:            req.VIN,
		State:          req.State,
		Plate:          req.Plate,
		ReportType:     req.ReportType,
		OutputFormat:   req.OutputFormat,
		AllowLive:      allowLive,
		OneTimeReceipt: req.ReceiptID,
	}
	if tokenData := middleware.GetTokenDataFromContext(r.Context()); tokenData != nil {
		fulfillReq.UserID = tokenData.UserID
	}

	result, err := h.fulfillment.Fulfill(r.Context(), fulfillReq)
	if err != nil {
		response.Error(w, err)
		return
	}

	writeReport(w, result)
}

// ResolveShare handles GET /api/v1/share/{token}. No auth: the token is
// the capability.
func (h *ReportHandler) ResolveShare(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		response.Error(w, apierror.BadRequest("token is required"))
		return
	}

	entry, err := h.share.Resolve(r.Context(), token)
	if err != nil {
		response.Error(w, err)
		return
	}

	decoded := decoder.Decode(entry.Payload)
	w.Header().Set("Content-Type", decoded.ContentType())
	w.Header().Set("X-Report-Cache", "hit")
	w.WriteHeader(http.StatusOK)
	writeDecoded(w, entry.Payload, decoded)
}

// writeReport writes a fulfillment result as the response body.
func writeReport(w http.ResponseWriter, result *service.FulfillmentResult) {
	w.Header().Set("Content-Type", result.Decoded.ContentType())
	if result.FromCache {
		w.Header().Set("X-Report-Cache", "hit")
	} else {
		w.Header().Set("X-Report-Cache", "miss")
	}
	w.Header().Set("X-Report-VIN", result.VIN)
	w.WriteHeader(http.StatusOK)
	writeDecoded(w, result.Payload, result.Decoded)
}

// writeDecoded writes the decoded form of a payload: decompressed HTML
// where the decoder recognized it, raw bytes otherwise.
func writeDecoded(w http.ResponseWriter, raw []byte, decoded decoder.Decoded) {
	switch decoded.Kind {
	case decoder.KindHTML:
		w.Write([]byte(decoded.HTML))
	case decoder.KindPDF:
		w.Write(decoded.Bytes)
	default:
		if len(decoded.Bytes) > 0 {
			w.Write(decoded.Bytes)
			return
		}
		w.Write(raw)
	}
}
