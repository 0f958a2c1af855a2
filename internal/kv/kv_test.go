// ABOUTME: Tests for the SQLite and in-memory kv.Store implementations
// ABOUTME: Covers point operations, TTL expiry, and single-use consumption

package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// stores returns both implementations so every test runs against each.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"sqlite": setupTestStore(t),
		"memory": NewMemoryStore(),
	}
}

func TestStore_PutGet(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Put(ctx, "k1", []byte("v1"), 0); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			got, err := store.Get(ctx, "k1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(got) != "v1" {
				t.Errorf("Get = %q, want %q", got, "v1")
			}

			// Overwrite
			if err := store.Put(ctx, "k1", []byte("v2"), 0); err != nil {
				t.Fatalf("Put (overwrite) failed: %v", err)
			}
			got, _ = store.Get(ctx, "k1")
			if string(got) != "v2" {
				t.Errorf("Get after overwrite = %q, want %q", got, "v2")
			}
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "nope")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Get missing key error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Put(ctx, "short", []byte("x"), 20*time.Millisecond); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			if _, err := store.Get(ctx, "short"); err != nil {
				t.Fatalf("Get before expiry failed: %v", err)
			}

			time.Sleep(40 * time.Millisecond)

			if _, err := store.Get(ctx, "short"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after expiry error = %v, want ErrNotFound", err)
			}
			if _, err := store.GetDelete(ctx, "short"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetDelete after expiry error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_GetDeleteSingleUse(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Put(ctx, "once", []byte("payload"), time.Minute); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			got, err := store.GetDelete(ctx, "once")
			if err != nil {
				t.Fatalf("GetDelete failed: %v", err)
			}
			if string(got) != "payload" {
				t.Errorf("GetDelete = %q, want %q", got, "payload")
			}

			// Second consumption must always fail.
			if _, err := store.GetDelete(ctx, "once"); !errors.Is(err, ErrNotFound) {
				t.Errorf("second GetDelete error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_PutIfAbsent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := store.PutIfAbsent(ctx, "claim", []byte("first"), 0)
			if err != nil {
				t.Fatalf("PutIfAbsent failed: %v", err)
			}
			if !ok {
				t.Fatal("first PutIfAbsent should succeed")
			}

			ok, err = store.PutIfAbsent(ctx, "claim", []byte("second"), 0)
			if err != nil {
				t.Fatalf("PutIfAbsent failed: %v", err)
			}
			if ok {
				t.Error("second PutIfAbsent should report the key as taken")
			}

			got, _ := store.Get(ctx, "claim")
			if string(got) != "first" {
				t.Errorf("value = %q, want the original %q", got, "first")
			}
		})
	}
}

func TestStore_PutIfAbsentAfterExpiry(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.PutIfAbsent(ctx, "slot", []byte("old"), 20*time.Millisecond); err != nil {
				t.Fatalf("PutIfAbsent failed: %v", err)
			}
			time.Sleep(40 * time.Millisecond)

			ok, err := store.PutIfAbsent(ctx, "slot", []byte("new"), 0)
			if err != nil {
				t.Fatalf("PutIfAbsent failed: %v", err)
			}
			if !ok {
				t.Error("PutIfAbsent over an expired entry should succeed")
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Put(ctx, "gone", []byte("x"), 0); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			if err := store.Delete(ctx, "gone"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if _, err := store.Get(ctx, "gone"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after delete error = %v, want ErrNotFound", err)
			}

			// Deleting an absent key is not an error.
			if err := store.Delete(ctx, "never-existed"); err != nil {
				t.Errorf("Delete of absent key error = %v, want nil", err)
			}
		})
	}
}
