package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"vinreports-api/internal/model"
	"vinreports-api/internal/store"
	"vinreports-api/pkg/apierror"
)

const testVIN = "1HGCM82633A004352"

func newTestFulfillment(t *testing.T) (*FulfillmentService, *fakeReportCache, *fakeBilling, *fakeProvider, *fakeVerifier) {
	t.Helper()
	cache := newFakeReportCache()
	billing := newFakeBilling()
	provider := newFakeProvider()
	verifier := newFakeVerifier()
	receipts := NewReceiptLedger(store.NewMemoryStore())
	svc := NewFulfillmentService(cache, billing, receipts, verifier, provider, 5*time.Second)
	return svc, cache, billing, provider, verifier
}

func assertAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %q error, got nil", code)
	}
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apierror.Error, got %T: %v", err, err)
	}
	if apiErr.StatusCode != status || apiErr.Code != code {
		t.Fatalf("expected %d/%s, got %d/%s", status, code, apiErr.StatusCode, apiErr.Code)
	}
}

func TestFulfillCacheHitSkipsBilling(t *testing.T) {
	svc, cache, billing, provider, _ := newTestFulfillment(t)
	ctx := context.Background()

	if err := cache.Put(ctx, testVIN, "carfax", []byte("<html>report</html>")); err != nil {
		t.Fatal(err)
	}

	// No user, no receipt: a cache hit still serves.
	result, err := svc.Fulfill(ctx, FulfillmentRequest{VIN: testVIN, AllowLive: true})
	if err != nil {
		t.Fatalf("Fulfill failed on cache hit: %v", err)
	}
	if !result.FromCache {
		t.Error("expected FromCache to be set")
	}
	if string(result.Payload) != "<html>report</html>" {
		t.Errorf("unexpected payload: %q", result.Payload)
	}
	if provider.fetchCount() != 0 {
		t.Errorf("expected no provider fetch, got %d", provider.fetchCount())
	}
	if len(billing.ledger) != 0 {
		t.Errorf("expected no ledger entries, got %d", len(billing.ledger))
	}
}

func TestFulfillGuestWithoutReceiptRejected(t *testing.T) {
	svc, _, _, provider, _ := newTestFulfillment(t)
	provider.payloads[testVIN] = []byte("report")

	_, err := svc.Fulfill(context.Background(), FulfillmentRequest{VIN: testVIN, AllowLive: true})
	assertAPIError(t, err, http.StatusUnauthorized, "purchase_required")
	if provider.fetchCount() != 0 {
		t.Error("provider must not be called without entitlement")
	}
}

func TestFulfillInvalidVINBeforeBilling(t *testing.T) {
	svc, _, billing, _, _ := newTestFulfillment(t)
	billing.balances["user-1"] = 5

	_, err := svc.Fulfill(context.Background(), FulfillmentRequest{
		VIN: "11111111111111112", AllowLive: true, UserID: "user-1",
	})
	assertAPIError(t, err, http.StatusBadRequest, "invalid_vin")
	if billing.balances["user-1"] != 5 {
		t.Errorf("balance changed on invalid VIN: %d", billing.balances["user-1"])
	}
}

func TestFulfillCreditSpendAndCacheFill(t *testing.T) {
	svc, cache, billing, provider, _ := newTestFulfillment(t)
	ctx := context.Background()
	billing.balances["user-1"] = 1
	provider.payloads[testVIN] = []byte("%PDF-1.4 report")

	result, err := svc.Fulfill(ctx, FulfillmentRequest{VIN: testVIN, AllowLive: true, UserID: "user-1"})
	if err != nil {
		t.Fatalf("Fulfill failed: %v", err)
	}
	if result.FromCache {
		t.Error("first fetch should not come from cache")
	}
	if billing.balances["user-1"] != 0 {
		t.Errorf("expected balance 0, got %d", billing.balances["user-1"])
	}
	if cache.puts != 1 {
		t.Errorf("expected one cache write, got %d", cache.puts)
	}

	// Second request for the same VIN serves from cache with zero
	// balance and no further fetch.
	again, err := svc.Fulfill(ctx, FulfillmentRequest{VIN: testVIN, AllowLive: true, UserID: "user-1"})
	if err != nil {
		t.Fatalf("second Fulfill failed: %v", err)
	}
	if !again.FromCache {
		t.Error("expected second request to hit cache")
	}
	if provider.fetchCount() != 1 {
		t.Errorf("expected one provider fetch total, got %d", provider.fetchCount())
	}
}

func TestFulfillInsufficientCredits(t *testing.T) {
	svc, _, _, provider, _ := newTestFulfillment(t)
	provider.payloads[testVIN] = []byte("report")

	_, err := svc.Fulfill(context.Background(), FulfillmentRequest{VIN: testVIN, AllowLive: true, UserID: "broke"})
	assertAPIError(t, err, http.StatusPaymentRequired, "insufficient_credits")
	if provider.fetchCount() != 0 {
		t.Error("provider must not be called when the spend fails")
	}
}

func TestFulfillRefundOnProviderFailure(t *testing.T) {
	svc, _, billing, provider, _ := newTestFulfillment(t)
	billing.balances["user-1"] = 3
	provider.fetchErr = errTransient

	_, err := svc.Fulfill(context.Background(), FulfillmentRequest{VIN: testVIN, AllowLive: true, UserID: "user-1"})
	assertAPIError(t, err, http.StatusBadGateway, "provider_error")

	if billing.balances["user-1"] != 3 {
		t.Errorf("expected credit restored to 3, got %d", billing.balances["user-1"])
	}
	// The spend and the refund both land in the ledger.
	var spends, refunds int
	for _, e := range billing.ledger {
		switch e.Reason {
		case model.LedgerReasonSpend:
			spends++
		case model.LedgerReasonRefund:
			refunds++
		}
	}
	if spends != 1 || refunds != 1 {
		t.Errorf("expected 1 spend and 1 refund, got %d/%d", spends, refunds)
	}
}

func TestFulfillRefundSurvivesClientDisconnect(t *testing.T) {
	svc, _, billing, provider, _ := newTestFulfillment(t)
	billing.balances["user-1"] = 1

	// The client goes away while the provider call is in flight. The
	// refund must still land even though the request context is dead.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider.onFetch = cancel
	provider.fetchErr = errTransient

	_, err := svc.Fulfill(ctx, FulfillmentRequest{VIN: testVIN, AllowLive: true, UserID: "user-1"})
	assertAPIError(t, err, http.StatusBadGateway, "provider_error")

	if billing.balances["user-1"] != 1 {
		t.Errorf("expected credit restored to 1, got %d", billing.balances["user-1"])
	}
	var refunds int
	for _, e := range billing.ledger {
		if e.Reason == model.LedgerReasonRefund {
			refunds++
		}
	}
	if refunds != 1 {
		t.Errorf("expected 1 refund entry, got %d", refunds)
	}
}

func TestFulfillVINRejectedRefunds(t *testing.T) {
	svc, _, billing, _, _ := newTestFulfillment(t)
	billing.balances["user-1"] = 1

	// Valid check digit, but the provider has no record of it.
	_, err := svc.Fulfill(context.Background(), FulfillmentRequest{
		VIN: "11111111111111111", AllowLive: true, UserID: "user-1",
	})
	assertAPIError(t, err, http.StatusUnprocessableEntity, "invalid_vin")
	if billing.balances["user-1"] != 1 {
		t.Errorf("expected credit restored, got %d", billing.balances["user-1"])
	}
}

func TestFulfillReceiptPath(t *testing.T) {
	svc, _, billing, provider, verifier := newTestFulfillment(t)
	provider.payloads[testVIN] = []byte("report")
	verifier.paid["cs_test_1"] = true

	result, err := svc.Fulfill(context.Background(), FulfillmentRequest{
		VIN: testVIN, AllowLive: true, OneTimeReceipt: "cs_test_1",
	})
	if err != nil {
		t.Fatalf("Fulfill failed: %v", err)
	}
	if result.FromCache {
		t.Error("unexpected cache hit")
	}
	if len(billing.ledger) != 0 {
		t.Error("receipt path must not touch the credit ledger")
	}
}

func TestFulfillReceiptNotPaid(t *testing.T) {
	svc, _, _, provider, verifier := newTestFulfillment(t)
	provider.payloads[testVIN] = []byte("report")
	verifier.paid["cs_unpaid"] = false

	_, err := svc.Fulfill(context.Background(), FulfillmentRequest{
		VIN: testVIN, AllowLive: true, OneTimeReceipt: "cs_unpaid",
	})
	assertAPIError(t, err, http.StatusPaymentRequired, "payment_incomplete")
}

func TestFulfillReceiptVerifierDown(t *testing.T) {
	svc, _, _, _, verifier := newTestFulfillment(t)
	verifier.verifyErr = errTransient

	_, err := svc.Fulfill(context.Background(), FulfillmentRequest{
		VIN: testVIN, AllowLive: true, OneTimeReceipt: "cs_any",
	})
	assertAPIError(t, err, http.StatusPaymentRequired, "receipt_invalid")
}

func TestFulfillReceiptConsumedOnce(t *testing.T) {
	svc, cache, _, provider, verifier := newTestFulfillment(t)
	ctx := context.Background()
	provider.payloads[testVIN] = []byte("report")
	verifier.paid["cs_once"] = true

	if _, err := svc.Fulfill(ctx, FulfillmentRequest{VIN: testVIN, AllowLive: true, OneTimeReceipt: "cs_once"}); err != nil {
		t.Fatalf("first Fulfill failed: %v", err)
	}

	// Different VIN so the cache does not absorb the second request.
	const otherVIN = "11111111111111111"
	provider.payloads[otherVIN] = []byte("other")
	_, err := svc.Fulfill(ctx, FulfillmentRequest{VIN: otherVIN, AllowLive: true, OneTimeReceipt: "cs_once"})
	assertAPIError(t, err, http.StatusConflict, "receipt_used")
	_ = cache
}

func TestFulfillReceiptReleasedOnFailure(t *testing.T) {
	svc, _, _, provider, verifier := newTestFulfillment(t)
	ctx := context.Background()
	verifier.paid["cs_retry"] = true
	provider.fetchErr = errTransient

	_, err := svc.Fulfill(ctx, FulfillmentRequest{VIN: testVIN, AllowLive: true, OneTimeReceipt: "cs_retry"})
	assertAPIError(t, err, http.StatusBadGateway, "provider_error")

	// The receipt was released by compensation, so a retry succeeds.
	provider.fetchErr = nil
	provider.payloads[testVIN] = []byte("report")
	if _, err := svc.Fulfill(ctx, FulfillmentRequest{VIN: testVIN, AllowLive: true, OneTimeReceipt: "cs_retry"}); err != nil {
		t.Fatalf("retry after release failed: %v", err)
	}
}

func TestFulfillConcurrentReceiptUse(t *testing.T) {
	svc, _, _, provider, verifier := newFulfillmentManyVINs(t)
	verifier.paid["cs_race"] = true

	const workers = 16
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Distinct VINs per worker so the cache never short-circuits
			// the entitlement check.
			_, results[i] = svc.Fulfill(context.Background(), FulfillmentRequest{
				VIN: manyVINs[i], AllowLive: true, OneTimeReceipt: "cs_race",
			})
		}(i)
	}
	wg.Wait()

	var wins, usedErrs int
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		var apiErr *apierror.Error
		if errors.As(err, &apiErr) && apiErr.Code == "receipt_used" {
			usedErrs++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins)
	}
	if usedErrs != workers-1 {
		t.Fatalf("expected %d receipt_used losers, got %d", workers-1, usedErrs)
	}
	if provider.fetchCount() != 1 {
		t.Errorf("expected exactly one billed fetch, got %d", provider.fetchCount())
	}
}

// manyVINs are distinct valid VINs used by the concurrency test.
var manyVINs = []string{
	"1HGCM82633A004352", "11111111111111111", "1M8GDM9AXKP042788",
	"5GZCZ43D13S812715", "WP0ZZZ998TS392124", "1FTFW1ET9DFC10312",
	"JH4TB2H26CC000000", "2HGFB2F55DH000002", "3VWFE21C04M000001",
	"5YJSA1DG9DFP14705", "WBA3B1C54EK000001", "1G1YY22G165000000",
	"JM1BL1SF7A1000001", "KMHDU4AD5AU000001", "2T1BU4EE5DC000001",
	"1N4AL3AP7DC000001",
}

func newFulfillmentManyVINs(t *testing.T) (*FulfillmentService, *fakeReportCache, *fakeBilling, *fakeProvider, *fakeVerifier) {
	t.Helper()
	svc, cache, billing, provider, verifier := newTestFulfillment(t)
	for _, v := range manyVINs {
		provider.payloads[v] = []byte("report " + v)
	}
	return svc, cache, billing, provider, verifier
}

func TestFulfillConcurrentCreditSpend(t *testing.T) {
	svc, _, billing, provider, _ := newFulfillmentManyVINs(t)
	billing.balances["user-1"] = 5

	const workers = 16
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Fulfill(context.Background(), FulfillmentRequest{
				VIN: manyVINs[i], AllowLive: true, UserID: "user-1",
			})
		}(i)
	}
	wg.Wait()

	var ok, broke int
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		var apiErr *apierror.Error
		if errors.As(err, &apiErr) && apiErr.Code == "insufficient_credits" {
			broke++
		}
	}
	if ok != 5 || broke != 11 {
		t.Fatalf("expected 5 successes and 11 rejections, got %d/%d", ok, broke)
	}
	if billing.balances["user-1"] != 0 {
		t.Errorf("expected balance 0, got %d", billing.balances["user-1"])
	}
	if provider.fetchCount() != 5 {
		t.Errorf("expected 5 fetches, got %d", provider.fetchCount())
	}
}

func TestFulfillBadOutputFormat(t *testing.T) {
	svc, _, billing, _, _ := newTestFulfillment(t)
	billing.balances["user-1"] = 1

	_, err := svc.Fulfill(context.Background(), FulfillmentRequest{
		VIN: testVIN, AllowLive: true, UserID: "user-1", OutputFormat: "docx",
	})
	assertAPIError(t, err, http.StatusBadRequest, "BAD_REQUEST")
	if billing.balances["user-1"] != 1 {
		t.Error("format validation must run before billing")
	}
}

func TestFulfillLiveDisabled(t *testing.T) {
	svc, _, billing, provider, _ := newTestFulfillment(t)
	billing.balances["user-1"] = 1
	provider.payloads[testVIN] = []byte("report")

	_, err := svc.Fulfill(context.Background(), FulfillmentRequest{VIN: testVIN, UserID: "user-1"})
	assertAPIError(t, err, http.StatusNotFound, "not_found")
	if billing.balances["user-1"] != 1 {
		t.Error("cache-only lookup must not spend a credit")
	}
}

func TestFulfillPlateResolution(t *testing.T) {
	svc, _, billing, provider, _ := newTestFulfillment(t)
	billing.balances["user-1"] = 1
	provider.plates["CA:7ABC123"] = testVIN
	provider.payloads[testVIN] = []byte("report")

	result, err := svc.Fulfill(context.Background(), FulfillmentRequest{
		State: "CA", Plate: "7ABC123", AllowLive: true, UserID: "user-1",
	})
	if err != nil {
		t.Fatalf("Fulfill failed: %v", err)
	}
	if result.VIN != testVIN {
		t.Errorf("expected resolved VIN %s, got %s", testVIN, result.VIN)
	}
}

func TestFulfillPlateNotFound(t *testing.T) {
	svc, _, _, _, _ := newTestFulfillment(t)

	_, err := svc.Fulfill(context.Background(), FulfillmentRequest{
		State: "CA", Plate: "NOPE", AllowLive: true, UserID: "user-1",
	})
	assertAPIError(t, err, http.StatusBadRequest, "invalid_vin")
}

func TestFulfillCacheWriteFailureStillServes(t *testing.T) {
	svc, cache, billing, provider, _ := newTestFulfillment(t)
	billing.balances["user-1"] = 1
	provider.payloads[testVIN] = []byte("report")
	cache.putErr = errTransient

	result, err := svc.Fulfill(context.Background(), FulfillmentRequest{VIN: testVIN, AllowLive: true, UserID: "user-1"})
	if err != nil {
		t.Fatalf("Fulfill failed despite successful fetch: %v", err)
	}
	if string(result.Payload) != "report" {
		t.Errorf("unexpected payload: %q", result.Payload)
	}
	// The fetch succeeded, so the credit stays spent.
	if billing.balances["user-1"] != 0 {
		t.Errorf("expected balance 0, got %d", billing.balances["user-1"])
	}
}

func TestFetchAndCache(t *testing.T) {
	svc, cache, _, provider, _ := newTestFulfillment(t)
	ctx := context.Background()
	provider.payloads[testVIN] = []byte("report")

	if err := svc.FetchAndCache(ctx, testVIN, ""); err != nil {
		t.Fatalf("FetchAndCache failed: %v", err)
	}
	entry, err := cache.Get(ctx, testVIN, DefaultReportType)
	if err != nil || entry == nil {
		t.Fatalf("expected cache entry after FetchAndCache, got %v, %v", entry, err)
	}

	// Idempotent: a second call is a no-op.
	if err := svc.FetchAndCache(ctx, testVIN, ""); err != nil {
		t.Fatalf("second FetchAndCache failed: %v", err)
	}
	if provider.fetchCount() != 1 {
		t.Errorf("expected one fetch, got %d", provider.fetchCount())
	}
}
