// ABOUTME: Key-value store interface backing challenges, credentials, and recovery sets
// ABOUTME: Point get/put/delete with optional TTL; no range or secondary-index queries

package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
// An expired entry is indistinguishable from a deleted one.
var ErrNotFound = errors.New("key not found")

// Store defines the ephemeral key-value collaborator used for challenges,
// credentials, recovery code sets, and the hand-maintained indices.
// Only point operations are supported; enumeration happens through
// maintained index records, never store-level scans.
type Store interface {
	// Get returns the value for key, or ErrNotFound if absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any existing entry.
	// A zero ttl means the entry never expires.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// PutIfAbsent stores value under key only if the key does not already
	// hold a live entry. Returns false without writing when it does.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// GetDelete atomically fetches and removes the entry for key.
	// A second call for the same key always returns ErrNotFound.
	GetDelete(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
