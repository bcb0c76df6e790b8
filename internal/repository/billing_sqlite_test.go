package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"vinreports-api/internal/model"
)

func newTestBillingRepo(t *testing.T) *SQLiteBillingRepository {
	t.Helper()
	repo, err := NewSQLiteBillingRepository(filepath.Join(t.TempDir(), "billing.db"))
	if err != nil {
		t.Fatalf("failed to open billing repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestAdjustAndBalance(t *testing.T) {
	repo := newTestBillingRepo(t)
	ctx := context.Background()

	balance, err := repo.GetBalance(ctx, "u1")
	if err != nil || balance != 0 {
		t.Fatalf("expected zero balance for new user, got %d err=%v", balance, err)
	}

	balance, err = repo.Adjust(ctx, "u1", 5, model.LedgerReasonPurchase, "cs_1")
	if err != nil {
		t.Fatalf("purchase adjust: %v", err)
	}
	if balance != 5 {
		t.Fatalf("expected balance 5, got %d", balance)
	}

	balance, err = repo.Adjust(ctx, "u1", -1, model.LedgerReasonSpend, "1HGCM82633A004352")
	if err != nil {
		t.Fatalf("spend adjust: %v", err)
	}
	if balance != 4 {
		t.Fatalf("expected balance 4, got %d", balance)
	}
}

func TestSpendBelowZeroRejected(t *testing.T) {
	repo := newTestBillingRepo(t)
	ctx := context.Background()

	if _, err := repo.Adjust(ctx, "u1", 1, model.LedgerReasonPurchase, "cs_1"); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := repo.Adjust(ctx, "u1", -1, model.LedgerReasonSpend, "vin-a"); err != nil {
		t.Fatalf("first spend: %v", err)
	}

	_, err := repo.Adjust(ctx, "u1", -1, model.LedgerReasonSpend, "vin-b")
	if err != ErrInsufficientCredits {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	// Nothing partial: balance stays zero and no spend entry was appended.
	balance, _ := repo.GetBalance(ctx, "u1")
	if balance != 0 {
		t.Fatalf("expected balance 0 after rejected spend, got %d", balance)
	}
	entries, _ := repo.LedgerEntries(ctx, "u1", 10)
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}
}

func TestLedgerMatchesBalance(t *testing.T) {
	repo := newTestBillingRepo(t)
	ctx := context.Background()

	_, _ = repo.Adjust(ctx, "u1", 3, model.LedgerReasonPurchase, "cs_1")
	_, _ = repo.Adjust(ctx, "u1", -1, model.LedgerReasonSpend, "vin-a")
	_, _ = repo.Adjust(ctx, "u1", 1, model.LedgerReasonRefund, "vin-a")

	entries, err := repo.LedgerEntries(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ledger entries: %v", err)
	}
	var sum int64
	for _, e := range entries {
		sum += e.Delta
	}
	balance, _ := repo.GetBalance(ctx, "u1")
	if sum != balance {
		t.Fatalf("ledger sum %d does not match balance %d", sum, balance)
	}
}

func TestAdjustConcurrent(t *testing.T) {
	repo := newTestBillingRepo(t)
	ctx := context.Background()

	if _, err := repo.Adjust(ctx, "u1", 10, model.LedgerReasonPurchase, "cs_1"); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	// 20 concurrent spends against a balance of 10: exactly 10 must win.
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, denials := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Adjust(ctx, "u1", -1, model.LedgerReasonSpend, "vin")
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				wins++
			case ErrInsufficientCredits:
				denials++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 10 || denials != 10 {
		t.Fatalf("expected 10 wins and 10 denials, got %d/%d", wins, denials)
	}
	balance, _ := repo.GetBalance(ctx, "u1")
	if balance != 0 {
		t.Fatalf("expected final balance 0, got %d", balance)
	}
}

func TestMarkSessionProcessed(t *testing.T) {
	repo := newTestBillingRepo(t)
	ctx := context.Background()

	first, err := repo.MarkSessionProcessed(ctx, "cs_abc")
	if err != nil || !first {
		t.Fatalf("first mark: first=%v err=%v", first, err)
	}
	second, err := repo.MarkSessionProcessed(ctx, "cs_abc")
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if second {
		t.Fatal("second mark for same session must return false")
	}
}

func TestClearSessionProcessedAllowsRetry(t *testing.T) {
	repo := newTestBillingRepo(t)
	ctx := context.Background()

	if first, err := repo.MarkSessionProcessed(ctx, "cs_retry"); err != nil || !first {
		t.Fatalf("first mark: first=%v err=%v", first, err)
	}
	if err := repo.ClearSessionProcessed(ctx, "cs_retry"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	retried, err := repo.MarkSessionProcessed(ctx, "cs_retry")
	if err != nil {
		t.Fatalf("retry mark: %v", err)
	}
	if !retried {
		t.Fatal("mark after clear must return true")
	}
}

func TestIntentRoundTrip(t *testing.T) {
	repo := newTestBillingRepo(t)
	ctx := context.Background()

	intent := &model.PurchaseIntent{
		SessionID:  "cs_1",
		UserID:     "u1",
		VIN:        "1HGCM82633A004352",
		ReportType: "carfax",
		PriceID:    "price_report",
		Kind:       model.IntentBuyReport,
	}
	if err := repo.CreateIntent(ctx, intent); err != nil {
		t.Fatalf("create intent: %v", err)
	}
	// Re-creating the same session id is a no-op, not an error.
	if err := repo.CreateIntent(ctx, intent); err != nil {
		t.Fatalf("duplicate create intent: %v", err)
	}

	got, err := repo.GetIntent(ctx, "cs_1")
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if got == nil || got.VIN != intent.VIN || got.Kind != model.IntentBuyReport {
		t.Fatalf("unexpected intent: %+v", got)
	}

	missing, err := repo.GetIntent(ctx, "cs_unknown")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for unknown session, got %+v err=%v", missing, err)
	}
}
