package cache

import (
	"context"
	"time"
)

// DefaultTTL is used by callers that cache records without a more specific
// expiry requirement (mapping and preference lookups).
const DefaultTTL = 5 * time.Minute

// Cache is a TTL key-value store. Values are opaque byte slices so that
// in-process and shared backends behave identically.
//
// Get on an absent or expired key reports a miss, never an error. Set always
// overwrites the value and resets the TTL. Delete removes a single key and is
// a no-op for absent keys.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	FlushAll(ctx context.Context) error
}
