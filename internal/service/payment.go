package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// ErrReceiptInvalid means the processor could not be consulted about a
// receipt. Distinct from a definitive "not paid" answer, so callers can
// tell "we couldn't check" apart from "we checked and it failed".
var ErrReceiptInvalid = errors.New("receipt could not be verified")

// PaymentVerifier queries an external payment processor for the paid
// status of a receipt. Verification is read-only, single-attempt.
type PaymentVerifier interface {
	// VerifyReceipt returns whether the receipt is paid. A transport or
	// processor error is returned as ErrReceiptInvalid (wrapped), never as
	// paid=false.
	VerifyReceipt(ctx context.Context, receiptID string) (bool, error)
}

// SessionProcessor talks to the session-style processor (checkout
// sessions, "cs_"-prefixed ids).
type SessionProcessor struct {
	baseURL    string
	secretKey  string
	successURL string
	cancelURL  string
	client     *http.Client
}

// NewSessionProcessor creates a session-style processor client.
func NewSessionProcessor(baseURL, secretKey, successURL, cancelURL string, timeout time.Duration) *SessionProcessor {
	return &SessionProcessor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		successURL: successURL,
		cancelURL:  cancelURL,
		client:     &http.Client{Timeout: timeout},
	}
}

type checkoutSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentStatus string `json:"payment_status"`
}

// VerifyReceipt checks whether a checkout session has been paid.
func (p *SessionProcessor) VerifyReceipt(ctx context.Context, receiptID string) (bool, error) {
	url := fmt.Sprintf("%s/v1/checkout/sessions/%s", p.baseURL, receiptID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrReceiptInvalid, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrReceiptInvalid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: processor returned %d", ErrReceiptInvalid, resp.StatusCode)
	}

	var session checkoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return false, fmt.Errorf("%w: %v", ErrReceiptInvalid, err)
	}

	return session.PaymentStatus == "paid", nil
}

// CheckoutRequest describes a checkout session to create.
type CheckoutRequest struct {
	PriceID     string `json:"price_id"`
	SuccessURL  string `json:"success_url"`
	CancelURL   string `json:"cancel_url"`
	ReferenceID string `json:"client_reference_id,omitempty"`
}

// CreateCheckout opens a checkout session with the processor and returns
// its id and hosted payment URL.
func (p *SessionProcessor) CreateCheckout(ctx context.Context, priceID, referenceID string) (sessionID, checkoutURL string, err error) {
	body, err := json.Marshal(CheckoutRequest{
		PriceID:     priceID,
		SuccessURL:  p.successURL,
		CancelURL:   p.cancelURL,
		ReferenceID: referenceID,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to encode checkout request: %w", err)
	}

	url := p.baseURL + "/v1/checkout/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("processor rejected checkout creation: %d", resp.StatusCode)
	}

	var session checkoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", fmt.Errorf("failed to decode checkout session: %w", err)
	}

	log.Printf("[SessionProcessor] Created checkout session %s", session.ID)
	return session.ID, session.URL, nil
}

// CaptureProcessor talks to the capture-style processor (payment
// captures, order-style ids).
type CaptureProcessor struct {
	baseURL string
	secret  string
	client  *http.Client
}

// NewCaptureProcessor creates a capture-style processor client.
func NewCaptureProcessor(baseURL, secret string, timeout time.Duration) *CaptureProcessor {
	return &CaptureProcessor{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

// VerifyReceipt checks whether a payment capture has completed.
func (p *CaptureProcessor) VerifyReceipt(ctx context.Context, receiptID string) (bool, error) {
	url := fmt.Sprintf("%s/v2/payments/captures/%s", p.baseURL, receiptID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrReceiptInvalid, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secret)

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrReceiptInvalid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: processor returned %d", ErrReceiptInvalid, resp.StatusCode)
	}

	var capture struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&capture); err != nil {
		return false, fmt.Errorf("%w: %v", ErrReceiptInvalid, err)
	}

	return capture.Status == "COMPLETED", nil
}

// ProcessorRouter selects a processor backend by receipt shape so the
// entitlement gate stays free of prefix branching.
type ProcessorRouter struct {
	session PaymentVerifier
	capture PaymentVerifier
}

// NewProcessorRouter creates a router over the two processor backends.
func NewProcessorRouter(session, capture PaymentVerifier) *ProcessorRouter {
	return &ProcessorRouter{session: session, capture: capture}
}

// VerifyReceipt dispatches on the receipt id shape: session ids carry the
// "cs_" prefix, everything else is treated as a capture id.
func (r *ProcessorRouter) VerifyReceipt(ctx context.Context, receiptID string) (bool, error) {
	if strings.HasPrefix(receiptID, "cs_") {
		return r.session.VerifyReceipt(ctx, receiptID)
	}
	return r.capture.VerifyReceipt(ctx, receiptID)
}

// Ensure processor types implement PaymentVerifier
var (
	_ PaymentVerifier = (*SessionProcessor)(nil)
	_ PaymentVerifier = (*CaptureProcessor)(nil)
	_ PaymentVerifier = (*ProcessorRouter)(nil)
)

// VerifyWebhookSignature checks a processor-signed webhook header of the
// form "t=<unix>,v1=<hex hmac-sha256 of 't.payload'>".
func VerifyWebhookSignature(secret string, payload []byte, header string) bool {
	var timestamp, signature string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signature = kv[1]
		}
	}
	if timestamp == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignWebhookPayload produces a signature header for a payload. Used by
// tests and local tooling to emit well-formed webhook requests.
func SignWebhookPayload(secret string, payload []byte, at time.Time) string {
	timestamp := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}
