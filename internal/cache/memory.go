package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// sweepInterval controls how often the in-process backend evicts expired
// entries. Expired entries are never returned regardless of sweeping; the
// janitor only reclaims memory.
const sweepInterval = time.Minute

// Memory is the default in-process cache backend.
type Memory struct {
	store *gocache.Cache
}

// NewMemory creates an in-process cache with periodic expiry sweeping.
func NewMemory() *Memory {
	return &Memory{
		store: gocache.New(gocache.NoExpiration, sweepInterval),
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, found := m.store.Get(key)
	if !found {
		return nil, false, nil
	}
	return value.([]byte), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.store.Set(key, value, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

func (m *Memory) FlushAll(_ context.Context) error {
	m.store.Flush()
	return nil
}
