package service

import (
	"encoding/json"
	"fmt"
	"time"

	"vinreports-api/internal/model"
	"vinreports-api/internal/store"
)

// ReceiptBucket is the key/value bucket holding one key per consumed one-time receipt.
const ReceiptBucket = "consumed_receipts"

// ReceiptLedger is the persistent idempotency set for one-time purchase
// receipts. A receipt id, once consumed, can never authorize a second
// fulfillment unless it is explicitly released as compensation.
type ReceiptLedger struct {
	kv store.KeyValueStore
}

// NewReceiptLedger creates a receipt ledger over the given store.
func NewReceiptLedger(kv store.KeyValueStore) *ReceiptLedger {
	return &ReceiptLedger{kv: kv}
}

// TryConsume atomically marks a receipt as consumed. Returns false if the
// receipt was already consumed; callers must reject with "already used".
func (l *ReceiptLedger) TryConsume(receiptID string) (bool, error) {
	record, err := json.Marshal(model.ConsumedReceipt{
		ReceiptID:  receiptID,
		ConsumedAt: time.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to serialize receipt record: %w", err)
	}

	return l.kv.TryInsert(ReceiptBucket, receiptID, record)
}

// Release removes a consumed receipt, restoring its single-use value.
// Used only as compensation when a fetch fails after consumption.
func (l *ReceiptLedger) Release(receiptID string) error {
	return l.kv.Delete(ReceiptBucket, receiptID)
}
