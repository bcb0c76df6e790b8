package model

import "time"

// LedgerReason classifies a credit ledger delta.
type LedgerReason string

const (
	LedgerReasonPurchase LedgerReason = "purchase"
	LedgerReasonSpend    LedgerReason = "spend"
	LedgerReasonRefund   LedgerReason = "refund"
)

// CreditLedgerEntry is one append-only row of the credit audit trail.
// The sum of deltas for a user always equals that user's balance.
type CreditLedgerEntry struct {
	ID        int64        `json:"id"`
	UserID    string       `json:"user_id"`
	Delta     int64        `json:"delta"`
	Reason    LedgerReason `json:"reason"`
	Ref       string       `json:"ref"`
	CreatedAt time.Time    `json:"created_at"`
}

// IntentKind classifies what a checkout session is buying.
type IntentKind string

const (
	IntentBuyReport        IntentKind = "buy_report"
	IntentBuyCreditSingle  IntentKind = "buy_credit_single"
	IntentBuyCreditsBundle IntentKind = "buy_credits_bundle"
)

// PurchaseIntent records what a checkout session was opened for, so the
// webhook reconciler and the synchronous finalize path can both resolve
// the same session to the same outcome.
type PurchaseIntent struct {
	SessionID  string     `json:"session_id"`
	UserID     string     `json:"user_id,omitempty"`
	VIN        string     `json:"vin,omitempty"`
	ReportType string     `json:"report_type,omitempty"`
	PriceID    string     `json:"price_id"`
	Kind       IntentKind `json:"kind"`
	CreatedAt  time.Time  `json:"created_at"`
}
