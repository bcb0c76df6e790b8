package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"vinreports-api/internal/model"
	"vinreports-api/internal/repository"
	"vinreports-api/internal/vin"
	"vinreports-api/pkg/apierror"
)

// CheckoutCreator opens checkout sessions with the session-style
// processor. Satisfied by *SessionProcessor; tests inject a stub.
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, priceID, referenceID string) (sessionID, checkoutURL string, err error)
	VerifyReceipt(ctx context.Context, receiptID string) (bool, error)
}

// CheckoutEvent is the normalized payment-confirmation event, delivered
// at least once by the processor webhook.
type CheckoutEvent struct {
	SessionID string `json:"session_id"`
	PriceID   string `json:"price_id"`
}

// CheckoutRequestInput describes a checkout to create.
type CheckoutRequestInput struct {
	UserID     string
	PriceID    string
	VIN        string
	ReportType string
}

// CheckoutResult is a created checkout session.
type CheckoutResult struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// CheckoutService creates checkout sessions and reconciles their payment
// confirmations into credit balances. The webhook path and the
// synchronous finalize path share one guarded reconcile step, so a
// session credits at most once no matter how often either runs.
type CheckoutService struct {
	billing     repository.BillingRepository
	cache       repository.ReportCacheRepository
	processor   CheckoutCreator
	fulfillment *FulfillmentService
	// priceCredits maps processor price ids to credit grants.
	priceCredits map[string]int64
	// backgroundTimeout bounds webhook-triggered report fetches.
	backgroundTimeout time.Duration
}

// NewCheckoutService creates a checkout service.
func NewCheckoutService(
	billing repository.BillingRepository,
	cacheRepo repository.ReportCacheRepository,
	processor CheckoutCreator,
	fulfillment *FulfillmentService,
	priceCredits map[string]int64,
	backgroundTimeout time.Duration,
) *CheckoutService {
	if priceCredits == nil {
		priceCredits = make(map[string]int64)
	}
	return &CheckoutService{
		billing:           billing,
		cache:             cacheRepo,
		processor:         processor,
		fulfillment:       fulfillment,
		priceCredits:      priceCredits,
		backgroundTimeout: backgroundTimeout,
	}
}

// CreateCheckout opens a checkout session and records the purchase
// intent. Selling a report for an already-cached VIN is refused.
func (s *CheckoutService) CreateCheckout(ctx context.Context, input CheckoutRequestInput) (*CheckoutResult, error) {
	if input.PriceID == "" {
		return nil, apierror.BadRequest("price_id is required")
	}

	kind := model.IntentBuyCreditSingle
	if s.priceCredits[input.PriceID] > 1 {
		kind = model.IntentBuyCreditsBundle
	}

	vinID := vin.Normalize(input.VIN)
	reportType := input.ReportType
	if vinID != "" {
		if reportType == "" {
			reportType = DefaultReportType
		}
		kind = model.IntentBuyReport

		cached, err := s.cache.Exists(ctx, vinID, reportType)
		if err != nil {
			log.Printf("[CheckoutService] Cache check failed for %s: %v", vinID, err)
		} else if cached {
			return nil, apierror.AlreadyCached()
		}
	}

	sessionID, checkoutURL, err := s.processor.CreateCheckout(ctx, input.PriceID, input.UserID)
	if err != nil {
		log.Printf("[CheckoutService] Checkout creation failed: %v", err)
		return nil, apierror.ServiceUnavailable("Payment processor is unavailable")
	}

	intent := &model.PurchaseIntent{
		SessionID:  sessionID,
		UserID:     input.UserID,
		VIN:        vinID,
		ReportType: reportType,
		PriceID:    input.PriceID,
		Kind:       kind,
	}
	if err := s.billing.CreateIntent(ctx, intent); err != nil {
		// The session exists at the processor; losing the intent would
		// strand the payment, so this is a hard error.
		return nil, fmt.Errorf("failed to record purchase intent: %w", err)
	}

	return &CheckoutResult{SessionID: sessionID, CheckoutURL: checkoutURL}, nil
}

// HandleCheckoutCompleted reconciles one payment-confirmation event.
// Safe to call any number of times for the same session id.
func (s *CheckoutService) HandleCheckoutCompleted(ctx context.Context, event CheckoutEvent) error {
	if event.SessionID == "" {
		return fmt.Errorf("event has no session id")
	}
	return s.reconcile(ctx, event.SessionID, event.PriceID)
}

// FinalizeCheckout is the synchronous counterpart of the webhook: the
// client calls it after returning from the processor. It verifies the
// session is paid, then runs the same guarded reconcile step.
func (s *CheckoutService) FinalizeCheckout(ctx context.Context, sessionID string) error {
	paid, err := s.processor.VerifyReceipt(ctx, sessionID)
	if err != nil {
		log.Printf("[CheckoutService] Finalize verification failed for %s: %v", sessionID, err)
		return apierror.ReceiptInvalid()
	}
	if !paid {
		return apierror.PaymentIncomplete()
	}
	return s.reconcile(ctx, sessionID, "")
}

// reconcile applies the outcome of a paid session exactly once. The
// processed-session marker is the compare-and-set that closes the race
// between the webhook and finalize paths.
func (s *CheckoutService) reconcile(ctx context.Context, sessionID, priceID string) error {
	first, err := s.billing.MarkSessionProcessed(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session processed: %w", err)
	}
	if !first {
		log.Printf("[CheckoutService] Session %s already reconciled, skipping", sessionID)
		return nil
	}

	intent, err := s.billing.GetIntent(ctx, sessionID)
	if err != nil {
		s.clearMarker(ctx, sessionID)
		return fmt.Errorf("failed to load purchase intent for %s: %w", sessionID, err)
	}
	if intent == nil {
		log.Printf("[CheckoutService] No purchase intent for session %s, nothing to credit", sessionID)
		return nil
	}

	if priceID == "" {
		priceID = intent.PriceID
	}
	credits := s.creditsFor(priceID)

	if intent.UserID != "" {
		if _, err := s.billing.Adjust(ctx, intent.UserID, credits, model.LedgerReasonPurchase, sessionID); err != nil {
			// The marker must not outlive a failed grant, or the
			// redelivery would skip the session and the paid credits
			// would never land.
			s.clearMarker(ctx, sessionID)
			return fmt.Errorf("failed to credit user %s for session %s: %w", intent.UserID, sessionID, err)
		}
		log.Printf("[CheckoutService] Credited %d to user %s for session %s", credits, intent.UserID, sessionID)
	}

	// A buy_report intent also warms the cache so the buyer's next
	// request serves instantly and unbilled.
	if intent.Kind == model.IntentBuyReport && intent.VIN != "" && s.fulfillment != nil {
		go s.backgroundFetch(intent.VIN, intent.ReportType)
	}

	return nil
}

// clearMarker rolls back the processed-session marker after a failed
// grant. Runs detached from the request context so a cancelled delivery
// cannot strand the marker.
func (s *CheckoutService) clearMarker(ctx context.Context, sessionID string) {
	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.billing.ClearSessionProcessed(clearCtx, sessionID); err != nil {
		log.Printf("[CheckoutService] CRITICAL: failed to clear processed marker for %s: %v", sessionID, err)
	}
}

// creditsFor maps a price id to a credit grant. Unknown price ids grant
// a single credit rather than zero: a paid transaction must never be
// silently dropped.
func (s *CheckoutService) creditsFor(priceID string) int64 {
	if credits, ok := s.priceCredits[priceID]; ok {
		return credits
	}
	log.Printf("[CheckoutService] Unknown price id %q, defaulting to 1 credit", priceID)
	return 1
}

func (s *CheckoutService) backgroundFetch(vinID, reportType string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.backgroundTimeout)
	defer cancel()

	if err := s.fulfillment.FetchAndCache(ctx, vinID, reportType); err != nil {
		log.Printf("[CheckoutService] Background fetch failed for %s: %v", vinID, err)
	}
}
