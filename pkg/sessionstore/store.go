// Package sessionstore persists session snapshots across process replicas.
// The engine must keep serving calls when the backing store is down, so the
// Resilient wrapper degrades to process-local memory instead of failing.
package sessionstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("sessionstore: not found")

// Store is the external session/cache collaborator contract.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
