package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"vinreports-api/internal/model"
	"vinreports-api/internal/repository"
)

// fakeReportCache is an in-memory ReportCacheRepository.
type fakeReportCache struct {
	mu      sync.Mutex
	entries map[string]*model.CachedReport
	puts    int
	getErr  error
	putErr  error
}

func newFakeReportCache() *fakeReportCache {
	return &fakeReportCache{entries: make(map[string]*model.CachedReport)}
}

func cacheKey(vin, reportType string) string {
	return strings.ToUpper(strings.TrimSpace(vin)) + "|" + strings.ToLower(strings.TrimSpace(reportType))
}

func (f *fakeReportCache) Get(ctx context.Context, vin, reportType string) (*model.CachedReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	entry, ok := f.entries[cacheKey(vin, reportType)]
	if !ok {
		return nil, nil
	}
	return entry, nil
}

func (f *fakeReportCache) Put(ctx context.Context, vin, reportType string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.puts++
	f.entries[cacheKey(vin, reportType)] = &model.CachedReport{
		VIN:        strings.ToUpper(strings.TrimSpace(vin)),
		ReportType: strings.ToLower(strings.TrimSpace(reportType)),
		Payload:    payload,
		StoredAt:   time.Now(),
	}
	return nil
}

func (f *fakeReportCache) Exists(ctx context.Context, vin, reportType string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[cacheKey(vin, reportType)]
	return ok, nil
}

func (f *fakeReportCache) Stats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func (f *fakeReportCache) Close() error { return nil }

// fakeBilling is an in-memory BillingRepository with the same atomicity
// semantics as the SQLite implementation.
type fakeBilling struct {
	mu        sync.Mutex
	balances  map[string]int64
	ledger    []model.CreditLedgerEntry
	intents   map[string]*model.PurchaseIntent
	processed map[string]bool
	adjustErr error
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		balances:  make(map[string]int64),
		intents:   make(map[string]*model.PurchaseIntent),
		processed: make(map[string]bool),
	}
}

func (f *fakeBilling) GetBalance(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID], nil
}

func (f *fakeBilling) Adjust(ctx context.Context, userID string, delta int64, reason model.LedgerReason, ref string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adjustErr != nil {
		return 0, f.adjustErr
	}
	if f.balances[userID]+delta < 0 {
		return 0, repository.ErrInsufficientCredits
	}
	f.balances[userID] += delta
	f.ledger = append(f.ledger, model.CreditLedgerEntry{
		UserID: userID, Delta: delta, Reason: reason, Ref: ref, CreatedAt: time.Now(),
	})
	return f.balances[userID], nil
}

func (f *fakeBilling) LedgerEntries(ctx context.Context, userID string, limit int) ([]model.CreditLedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var entries []model.CreditLedgerEntry
	for _, e := range f.ledger {
		if e.UserID == userID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (f *fakeBilling) CreateIntent(ctx context.Context, intent *model.PurchaseIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.intents[intent.SessionID]; !exists {
		f.intents[intent.SessionID] = intent
	}
	return nil
}

func (f *fakeBilling) GetIntent(ctx context.Context, sessionID string) (*model.PurchaseIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intents[sessionID], nil
}

func (f *fakeBilling) MarkSessionProcessed(ctx context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.processed[sessionID] {
		return false, nil
	}
	f.processed[sessionID] = true
	return true, nil
}

func (f *fakeBilling) ClearSessionProcessed(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.processed, sessionID)
	return nil
}

func (f *fakeBilling) Close() error { return nil }

// fakeProvider is a scriptable ReportProvider. onFetch, when set, runs
// at the start of every FetchReport call.
type fakeProvider struct {
	mu       sync.Mutex
	payloads map[string][]byte
	fetchErr error
	fetches  int
	plates   map[string]string
	onFetch  func()
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		payloads: make(map[string][]byte),
		plates:   make(map[string]string),
	}
}

func (f *fakeProvider) FetchReport(ctx context.Context, vin, reportType, format string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	payload, ok := f.payloads[vin]
	if !ok {
		return nil, ErrVINRejected
	}
	return payload, nil
}

func (f *fakeProvider) ResolvePlate(ctx context.Context, state, plate string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vin, ok := f.plates[state+":"+plate]
	if !ok {
		return "", ErrPlateNotFound
	}
	return vin, nil
}

func (f *fakeProvider) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// fakeVerifier is a scriptable PaymentVerifier and CheckoutCreator.
type fakeVerifier struct {
	mu        sync.Mutex
	paid      map[string]bool
	verifyErr error
	sessions  int
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{paid: make(map[string]bool)}
}

func (f *fakeVerifier) VerifyReceipt(ctx context.Context, receiptID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	return f.paid[receiptID], nil
}

func (f *fakeVerifier) CreateCheckout(ctx context.Context, priceID, referenceID string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	sessionID := fmt.Sprintf("cs_test_%d", f.sessions)
	return sessionID, "https://pay.example.com/" + sessionID, nil
}

var errTransient = errors.New("upstream timeout")
