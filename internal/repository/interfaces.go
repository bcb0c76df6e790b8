package repository

import (
	"context"
	"errors"
	"strings"

	"vinreports-api/internal/model"
)

// ErrInsufficientCredits is returned by Adjust when a spend would take a
// balance below zero. No partial debit occurs.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ReportCacheRepository defines report cache data access methods.
type ReportCacheRepository interface {
	// Get retrieves a cached report by (vin, reportType). A miss is
	// (nil, nil), not an error.
	Get(ctx context.Context, vin, reportType string) (*model.CachedReport, error)

	// Put inserts or overwrites the cached report for (vin, reportType).
	Put(ctx context.Context, vin, reportType string, payload []byte) error

	// Exists reports whether a cache entry is present without loading it.
	Exists(ctx context.Context, vin, reportType string) (bool, error)

	// Stats returns statistics about the report cache.
	Stats(ctx context.Context) (map[string]interface{}, error)

	// Close closes the repository connection.
	Close() error
}

// BillingRepository defines credit balance, ledger and checkout-intent
// data access. Adjust and MarkSessionProcessed carry the atomicity
// guarantees the fulfillment and reconciliation paths depend on.
type BillingRepository interface {
	// GetBalance returns the current credit balance for a user.
	GetBalance(ctx context.Context, userID string) (int64, error)

	// Adjust applies a signed delta and appends the matching ledger entry
	// in one transaction. A spend that would go negative returns
	// ErrInsufficientCredits and changes nothing.
	Adjust(ctx context.Context, userID string, delta int64, reason model.LedgerReason, ref string) (int64, error)

	// LedgerEntries returns the most recent ledger entries for a user.
	LedgerEntries(ctx context.Context, userID string, limit int) ([]model.CreditLedgerEntry, error)

	// CreateIntent records what a checkout session was opened for.
	CreateIntent(ctx context.Context, intent *model.PurchaseIntent) error

	// GetIntent retrieves a purchase intent by session id. A miss is
	// (nil, nil).
	GetIntent(ctx context.Context, sessionID string) (*model.PurchaseIntent, error)

	// MarkSessionProcessed atomically records a session id as reconciled.
	// Returns false if it was already marked, so callers apply the credit
	// grant for a session at most once.
	MarkSessionProcessed(ctx context.Context, sessionID string) (bool, error)

	// ClearSessionProcessed removes the reconciled marker so a failed
	// grant can be retried on the next delivery.
	ClearSessionProcessed(ctx context.Context, sessionID string) error

	// Close closes the repository connection.
	Close() error
}

// UserAccountRepository defines user account data access methods.
type UserAccountRepository interface {
	// ValidateAPIKey resolves an API key to an active user account.
	ValidateAPIKey(ctx context.Context, apiKey string) (*model.UserAccount, error)
}

// normalizeCacheKey applies the canonical key normalization: VIN is
// uppercased and trimmed, report type is lowercased.
func normalizeCacheKey(vinRaw, reportType string) (string, string) {
	return strings.ToUpper(strings.TrimSpace(vinRaw)), strings.ToLower(strings.TrimSpace(reportType))
}
