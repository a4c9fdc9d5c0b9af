package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	NoExpiration      = gocache.NoExpiration
	DefaultExpiration = gocache.DefaultExpiration
)

var ErrNotFound = errors.New("cache key not found")

// The Cache interface caches values in a persistent or ephemeral cache database
type Cache interface {
	// Get retrieves the data at "key". ErrNotFound is returned when the key is missing or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set will set the value at `key` using data, with an expiration time of `exp`.
	// If there is a value at `key` then it will be overwritten.
	Set(ctx context.Context, key string, data []byte, exp time.Duration) error

	// Delete removes the value at `key`. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

var _ Cache = (*LocalCache)(nil)

type LocalCache struct {
	*gocache.Cache
}

type Config struct {
	Expiry          time.Duration
	CleanupInterval time.Duration
}

func NewLocalCache(cfg Config) *LocalCache {
	return &LocalCache{Cache: gocache.New(cfg.Expiry, cfg.CleanupInterval)}
}

func (lc *LocalCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := lc.Cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}

	vA, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("could not read value at cache key %q", key)
	}

	return vA, nil
}

func (lc *LocalCache) Set(ctx context.Context, key string, data []byte, exp time.Duration) error {
	lc.Cache.Set(key, data, exp)
	return nil
}

func (lc *LocalCache) Delete(ctx context.Context, key string) error {
	lc.Cache.Delete(key)
	return nil
}
