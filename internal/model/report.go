package model

import "time"

// CachedReport represents a stored vehicle-history report payload.
// Keyed by (vin, report_type); at most one row per key, overwritten
// on re-fetch (report content for a VIN is idempotent).
type CachedReport struct {
	ID         int64     `json:"id"`
	VIN        string    `json:"vin"`
	ReportType string    `json:"report_type"`
	Payload    []byte    `json:"payload"`
	StoredAt   time.Time `json:"stored_at"`
}

// ConsumedReceipt marks a one-time purchase receipt as spent.
type ConsumedReceipt struct {
	ReceiptID  string    `json:"receipt_id"`
	ConsumedAt time.Time `json:"consumed_at"`
}

// ShareToken grants time-limited read access to an already-cached report.
type ShareToken struct {
	Token      string    `json:"token"`
	VIN        string    `json:"vin"`
	ReportType string    `json:"report_type"`
	ExpiresAt  time.Time `json:"expires_at"`
}
