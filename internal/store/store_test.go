package store

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

func stores(t *testing.T) map[string]KeyValueStore {
	t.Helper()

	bs, err := NewBoltStore(filepath.Join(t.TempDir(), "test.db"), "receipts")
	if err != nil {
		t.Fatalf("failed to open bolt store: %v", err)
	}
	t.Cleanup(func() { bs.Close() })

	return map[string]KeyValueStore{
		"memory": NewMemoryStore(),
		"bolt":   bs,
	}
}

func TestGetPutDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get("receipts", "missing"); err != ErrNotFound {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			if err := s.Put("receipts", "k1", []byte("v1")); err != nil {
				t.Fatalf("put: %v", err)
			}
			v, err := s.Get("receipts", "k1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(v) != "v1" {
				t.Fatalf("expected v1, got %q", v)
			}

			if err := s.Delete("receipts", "k1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := s.Get("receipts", "k1"); err != ErrNotFound {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}

			// Deleting again must stay a no-op.
			if err := s.Delete("receipts", "k1"); err != nil {
				t.Fatalf("second delete: %v", err)
			}
		})
	}
}

func TestTryInsert(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.TryInsert("receipts", "r1", []byte("a"))
			if err != nil || !ok {
				t.Fatalf("first insert: ok=%v err=%v", ok, err)
			}

			ok, err = s.TryInsert("receipts", "r1", []byte("b"))
			if err != nil {
				t.Fatalf("second insert: %v", err)
			}
			if ok {
				t.Fatal("second insert for same key must fail")
			}

			// The original value must survive the losing insert.
			v, _ := s.Get("receipts", "r1")
			if string(v) != "a" {
				t.Fatalf("expected original value, got %q", v)
			}
		})
	}
}

func TestTryInsertConcurrent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			const attempts = 32
			var wins int64
			var wg sync.WaitGroup

			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := s.TryInsert("receipts", "contested", []byte("x"))
					if err != nil {
						t.Errorf("try insert: %v", err)
						return
					}
					if ok {
						atomic.AddInt64(&wins, 1)
					}
				}()
			}
			wg.Wait()

			if wins != 1 {
				t.Fatalf("expected exactly one winner, got %d", wins)
			}
		})
	}
}

func TestForEach(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_ = s.Put("receipts", "a", []byte("1"))
			_ = s.Put("receipts", "b", []byte("2"))

			seen := make(map[string]string)
			err := s.ForEach("receipts", func(k string, v []byte) error {
				seen[k] = string(v)
				return nil
			})
			if err != nil {
				t.Fatalf("foreach: %v", err)
			}
			if len(seen) != 2 || seen["a"] != "1" || seen["b"] != "2" {
				t.Fatalf("unexpected contents: %v", seen)
			}
		})
	}
}
