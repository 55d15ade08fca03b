package providers

import (
	"context"
	"errors"
)

// ErrCacheMiss is returned by Get when the key is absent
var ErrCacheMiss = errors.New("cache miss")

// CacheProvider stores opaque blobs with expiration. The orchestrator uses it
// to mirror session snapshots for read-only consumers.
type CacheProvider interface {
	// Get retrieves a value; ErrCacheMiss when absent
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with expiration
	Set(ctx context.Context, key string, value []byte, expirationSeconds int) error

	// Delete removes a value
	Delete(ctx context.Context, key string) error
}

// SessionSnapshotKey returns the cache key for a session snapshot
func SessionSnapshotKey(sessionID string) string {
	return "session:snapshot:" + sessionID
}
