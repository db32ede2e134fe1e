// Package cache remembers push keys that a provider has declared dead, so
// repeated notifications to them are refused without a provider round trip.
package cache

import (
	"context"
	"errors"
	"time"
)

const keyPrefix = "push:suppressed:"

// DefaultTTL applies when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Set stores the value with a TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Suppressor implements dispatch.TokenSuppressor on top of a CacheClient.
type Suppressor struct {
	cache CacheClient
	ttl   time.Duration
}

func NewSuppressor(cache CacheClient, ttl time.Duration) *Suppressor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Suppressor{cache: cache, ttl: ttl}
}

func (s *Suppressor) IsSuppressed(ctx context.Context, pushKey string) (bool, error) {
	if pushKey == "" {
		return false, nil
	}
	return s.cache.Exists(ctx, s.cacheKey(pushKey))
}

func (s *Suppressor) Suppress(ctx context.Context, pushKey string) error {
	if pushKey == "" {
		return errors.New("empty push key")
	}
	return s.cache.Set(ctx, s.cacheKey(pushKey), "1", s.ttl)
}

func (s *Suppressor) cacheKey(pushKey string) string {
	return keyPrefix + pushKey
}
