package store

import (
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
)

// BoltStore implements KeyValueStore on a single BoltDB file. State
// survives process restarts, which is what makes receipt consumption
// durable.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) a BoltDB database at the given path and
// ensures the listed buckets exist.
func NewBoltStore(path string, buckets ...string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Get retrieves a value. Returns ErrNotFound if the key is absent.
func (s *BoltStore) Get(bucket, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put stores a value, overwriting any existing one.
func (s *BoltStore) Put(bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

// Delete removes a key. Deleting an absent key is a no-op.
func (s *BoltStore) Delete(bucket, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// TryInsert stores a value only if the key is absent. The existence check
// and the write run inside one bolt transaction, so concurrent callers for
// the same key observe exactly one success.
func (s *BoltStore) TryInsert(bucket, key string, value []byte) (bool, error) {
	inserted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		if b.Get([]byte(key)) != nil {
			return nil
		}
		inserted = true
		return b.Put([]byte(key), value)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// ForEach iterates every key/value pair in a bucket.
func (s *BoltStore) ForEach(bucket string, fn func(key string, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ensure BoltStore implements KeyValueStore
var _ KeyValueStore = (*BoltStore)(nil)
