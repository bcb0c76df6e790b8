package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"vinreports-api/internal/decoder"
	"vinreports-api/internal/model"
	"vinreports-api/internal/repository"
	"vinreports-api/internal/vin"
	"vinreports-api/pkg/apierror"
)

// DefaultReportType is used when a request does not name one.
const DefaultReportType = "carfax"

// DefaultOutputFormat is requested from the provider when a request does
// not name a format.
const DefaultOutputFormat = "html"

// refundAttempts bounds the retry loop on the compensation path. A failed
// refund write is a money defect, not a best-effort cache write.
const refundAttempts = 3

// compensateTimeout bounds the detached compensation context.
const compensateTimeout = 10 * time.Second

// FulfillmentRequest carries one report request through the entitlement
// gate. UserID is set by the auth middleware; guests leave it empty and
// present OneTimeReceipt instead.
type FulfillmentRequest struct {
	VIN            string
	State          string
	Plate          string
	ReportType     string
	OutputFormat   string
	AllowLive      bool
	OneTimeReceipt string
	UserID         string
}

// FulfillmentResult is a served report.
type FulfillmentResult struct {
	VIN        string
	ReportType string
	Payload    []byte
	Decoded    decoder.Decoded
	FromCache  bool
}

// FulfillmentService is the entitlement gate: it decides whether a
// request may trigger a (billable) live fetch, performs the fetch, and
// compensates when the fetch fails after entitlement was consumed.
type FulfillmentService struct {
	cache    repository.ReportCacheRepository
	billing  repository.BillingRepository
	receipts *ReceiptLedger
	verifier PaymentVerifier
	provider ReportProvider

	fetchTimeout time.Duration
}

// NewFulfillmentService creates the entitlement gate.
func NewFulfillmentService(
	cacheRepo repository.ReportCacheRepository,
	billing repository.BillingRepository,
	receipts *ReceiptLedger,
	verifier PaymentVerifier,
	provider ReportProvider,
	fetchTimeout time.Duration,
) *FulfillmentService {
	return &FulfillmentService{
		cache:        cacheRepo,
		billing:      billing,
		receipts:     receipts,
		verifier:     verifier,
		provider:     provider,
		fetchTimeout: fetchTimeout,
	}
}

// Fulfill runs one request through the gate. Errors are *apierror.Error
// with machine-readable codes from the fulfillment contract.
func (s *FulfillmentService) Fulfill(ctx context.Context, req FulfillmentRequest) (*FulfillmentResult, error) {
	// Resolve and validate the VIN before spending anything.
	vinID, err := s.resolveVIN(ctx, req)
	if err != nil {
		return nil, err
	}

	reportType := strings.ToLower(strings.TrimSpace(req.ReportType))
	if reportType == "" {
		reportType = DefaultReportType
	}

	format := strings.ToLower(strings.TrimSpace(req.OutputFormat))
	if format == "" {
		format = DefaultOutputFormat
	}
	if format != "html" && format != "pdf" {
		return nil, apierror.BadRequest("output_format must be html or pdf")
	}

	// Cache hit serves with zero billing side effects, regardless of auth
	// state. A VIN once fetched is never billed again.
	if entry := s.cacheLookup(ctx, vinID, reportType); entry != nil {
		return &FulfillmentResult{
			VIN:        vinID,
			ReportType: reportType,
			Payload:    entry.Payload,
			Decoded:    decoder.Decode(entry.Payload),
			FromCache:  true,
		}, nil
	}

	if !req.AllowLive {
		return nil, apierror.ReportNotFound("Report is not cached and live fetch was disabled")
	}

	compensate, err := s.authorize(ctx, vinID, req)
	if err != nil {
		return nil, err
	}

	// Entitlement is consumed. From here every failure path must run
	// compensation synchronously before the error is returned.
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	payload, fetchErr := s.provider.FetchReport(fetchCtx, vinID, reportType, format)
	cancel()
	if fetchErr != nil {
		// Compensation restores money, so it must not inherit the request
		// context: a client that disconnected mid-fetch would cancel the
		// refund writes along with the fetch.
		compCtx, compCancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
		compensate(compCtx)
		compCancel()
		if errors.Is(fetchErr, ErrVINRejected) {
			return nil, apierror.VINRejected("")
		}
		log.Printf("[FulfillmentService] Provider fetch failed for %s/%s: %v", vinID, reportType, fetchErr)
		return nil, apierror.ProviderError()
	}

	// Cache write is best-effort: a persist failure must not turn a
	// successful (already billed and compensationless) fetch into an error.
	if err := s.cache.Put(ctx, vinID, reportType, payload); err != nil {
		log.Printf("[FulfillmentService] Cache write failed for %s/%s: %v", vinID, reportType, err)
	}

	return &FulfillmentResult{
		VIN:        vinID,
		ReportType: reportType,
		Payload:    payload,
		Decoded:    decoder.Decode(payload),
	}, nil
}

// FetchAndCache performs an unbilled fetch-and-store for a VIN. Used by
// the webhook reconciler for buy_report intents; it converges on the same
// cache key as any concurrent synchronous request.
func (s *FulfillmentService) FetchAndCache(ctx context.Context, vinRaw, reportType string) error {
	vinID := vin.Normalize(vinRaw)
	reportType = strings.ToLower(strings.TrimSpace(reportType))
	if reportType == "" {
		reportType = DefaultReportType
	}

	if entry := s.cacheLookup(ctx, vinID, reportType); entry != nil {
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	payload, err := s.provider.FetchReport(fetchCtx, vinID, reportType, DefaultOutputFormat)
	if err != nil {
		return err
	}
	return s.cache.Put(ctx, vinID, reportType, payload)
}

// resolveVIN produces a validated VIN from the request, consulting the
// plate lookup when no VIN was given. Pure of billing side effects.
func (s *FulfillmentService) resolveVIN(ctx context.Context, req FulfillmentRequest) (string, error) {
	vinID := vin.Normalize(req.VIN)
	if vinID == "" {
		if req.State == "" || req.Plate == "" {
			return "", apierror.InvalidVIN("Provide a VIN or a state and plate")
		}
		resolved, err := s.provider.ResolvePlate(ctx, req.State, req.Plate)
		if err != nil {
			if errors.Is(err, ErrPlateNotFound) {
				return "", apierror.InvalidVIN("The plate did not resolve to a VIN")
			}
			log.Printf("[FulfillmentService] Plate lookup failed for %s %s: %v", req.State, req.Plate, err)
			return "", apierror.ProviderError()
		}
		vinID = vin.Normalize(resolved)
	}

	if !vin.Valid(vinID) {
		return "", apierror.InvalidVIN("")
	}
	return vinID, nil
}

// cacheLookup reads the report cache, treating I/O errors as a miss. A
// safe re-fetch beats a hard error here.
func (s *FulfillmentService) cacheLookup(ctx context.Context, vinID, reportType string) *model.CachedReport {
	entry, err := s.cache.Get(ctx, vinID, reportType)
	if err != nil {
		log.Printf("[FulfillmentService] Cache read failed for %s/%s: %v", vinID, reportType, err)
		return nil
	}
	return entry
}

// authorize consumes entitlement for a cache miss and returns the
// matching compensation step. Exactly one of the two paths applies.
func (s *FulfillmentService) authorize(ctx context.Context, vinID string, req FulfillmentRequest) (func(context.Context), error) {
	// Receipt path: guests, or any caller presenting an explicit one-time
	// receipt. Verify first (read-only, idempotent), consume after
	// success, so a receipt authorizes at most one fulfillment even under
	// concurrent duplicates.
	if req.OneTimeReceipt != "" {
		paid, err := s.verifier.VerifyReceipt(ctx, req.OneTimeReceipt)
		if err != nil {
			log.Printf("[FulfillmentService] Receipt verification failed: %v", err)
			return nil, apierror.ReceiptInvalid()
		}
		if !paid {
			return nil, apierror.PaymentIncomplete()
		}

		consumed, err := s.receipts.TryConsume(req.OneTimeReceipt)
		if err != nil {
			log.Printf("[FulfillmentService] Receipt consume failed: %v", err)
			return nil, apierror.InternalError("")
		}
		if !consumed {
			return nil, apierror.ReceiptUsed()
		}

		receiptID := req.OneTimeReceipt
		return func(ctx context.Context) {
			if err := s.receipts.Release(receiptID); err != nil {
				log.Printf("[FulfillmentService] CRITICAL: failed to release receipt %s: %v", receiptID, err)
			}
		}, nil
	}

	// Credit path: authenticated caller spends one credit atomically.
	if req.UserID != "" {
		_, err := s.billing.Adjust(ctx, req.UserID, -1, model.LedgerReasonSpend, vinID)
		if err != nil {
			if errors.Is(err, repository.ErrInsufficientCredits) {
				return nil, apierror.InsufficientCredits()
			}
			log.Printf("[FulfillmentService] Credit spend failed for %s: %v", req.UserID, err)
			return nil, apierror.InternalError("")
		}

		userID := req.UserID
		return func(ctx context.Context) {
			s.refund(ctx, userID, vinID)
		}, nil
	}

	return nil, apierror.PurchaseRequired()
}

// refund restores a spent credit after a failed fetch. Balance writes
// represent money, so unlike cache writes this retries before giving up.
func (s *FulfillmentService) refund(ctx context.Context, userID, vinID string) {
	var err error
	for attempt := 1; attempt <= refundAttempts; attempt++ {
		if _, err = s.billing.Adjust(ctx, userID, 1, model.LedgerReasonRefund, vinID); err == nil {
			return
		}
		log.Printf("[FulfillmentService] Refund attempt %d/%d failed for %s: %v",
			attempt, refundAttempts, userID, err)
	}
	log.Printf("[FulfillmentService] CRITICAL: refund lost for user=%s vin=%s: %v", userID, vinID, err)
}
