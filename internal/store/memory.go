package store

import "sync"

// MemoryStore is an in-memory implementation of KeyValueStore.
// Use this for tests or single-instance development runs; nothing
// survives a restart.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]map[string][]byte),
	}
}

func (s *MemoryStore) bucket(name string) map[string][]byte {
	b, ok := s.buckets[name]
	if !ok {
		b = make(map[string][]byte)
		s.buckets[name] = b
	}
	return b
}

// Get retrieves a value. Returns ErrNotFound if the key is absent.
func (s *MemoryStore) Get(bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.bucket(bucket)[key]
	if !ok {
		return nil, ErrNotFound
	}
	value := make([]byte, len(v))
	copy(value, v)
	return value, nil
}

// Put stores a value, overwriting any existing one.
func (s *MemoryStore) Put(bucket, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.bucket(bucket)[key] = v
	return nil
}

// Delete removes a key. Deleting an absent key is a no-op.
func (s *MemoryStore) Delete(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.bucket(bucket), key)
	return nil
}

// TryInsert stores a value only if the key is absent, under one lock hold.
func (s *MemoryStore) TryInsert(bucket, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucket(bucket)
	if _, exists := b[key]; exists {
		return false, nil
	}
	v := make([]byte, len(value))
	copy(v, value)
	b[key] = v
	return true, nil
}

// ForEach iterates every key/value pair in a bucket.
func (s *MemoryStore) ForEach(bucket string, fn func(key string, value []byte) error) error {
	s.mu.Lock()
	snapshot := make(map[string][]byte, len(s.bucket(bucket)))
	for k, v := range s.bucket(bucket) {
		snapshot[k] = v
	}
	s.mu.Unlock()

	for k, v := range snapshot {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Ensure MemoryStore implements KeyValueStore
var _ KeyValueStore = (*MemoryStore)(nil)
