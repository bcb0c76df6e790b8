// Package store provides a small key/value abstraction for the sets that
// gate money-equivalent value: consumed purchase receipts and share tokens.
// Implementations are injected, so tests run against the in-memory store
// while production uses BoltDB.
package store

import "errors"

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("key not found")

// KeyValueStore is a bucketed key/value set with an atomic insert.
type KeyValueStore interface {
	// Get retrieves a value. Returns ErrNotFound if the key is absent.
	Get(bucket, key string) ([]byte, error)

	// Put stores a value, overwriting any existing one.
	Put(bucket, key string, value []byte) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(bucket, key string) error

	// TryInsert stores a value only if the key is absent. Returns true if
	// the insert happened, false if the key already existed. The check and
	// the insert are a single atomic step.
	TryInsert(bucket, key string, value []byte) (bool, error)

	// ForEach iterates every key/value pair in a bucket.
	ForEach(bucket string, fn func(key string, value []byte) error) error

	// Close releases the underlying resources.
	Close() error
}
