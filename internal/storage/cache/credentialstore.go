package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-push-registrar/pkg/credential"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// ErrCacheMiss is returned by a CacheClient when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or an error if not found.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedCredentialStore is a Decorator that adds Read-Aside caching to any credential.Store.
type CachedCredentialStore struct {
	realStore credential.Store
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedCredentialStore(realStore credential.Store, cache CacheClient, ttl time.Duration) *CachedCredentialStore {
	return &CachedCredentialStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedCredentialStore) Lookup(ctx context.Context, device urn.URN) (*credential.Record, error) {
	key := s.cacheKey(device)

	var cached credential.Record
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.Lookup(ctx, device)
	if err != nil {
		return nil, err
	}

	// Caching is an optimisation; a Redis outage still serves from the store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedCredentialStore) Register(ctx context.Context, device urn.URN, record credential.Record) error {
	if err := s.realStore.Register(ctx, device, record); err != nil {
		return err
	}
	return s.invalidate(ctx, device)
}

// Deactivate must clear the cache even though the write already succeeded,
// otherwise a revoked token keeps being served until the TTL expires.
func (s *CachedCredentialStore) Deactivate(ctx context.Context, device urn.URN, token string) error {
	if err := s.realStore.Deactivate(ctx, device, token); err != nil {
		return err
	}
	return s.invalidate(ctx, device)
}

// --- Helpers ---

func (s *CachedCredentialStore) invalidate(ctx context.Context, device urn.URN) error {
	if err := s.cache.Del(ctx, s.cacheKey(device)); err != nil {
		return fmt.Errorf("cache invalidation failed: %w", err)
	}
	return nil
}

func (s *CachedCredentialStore) cacheKey(device urn.URN) string {
	return fmt.Sprintf("registrar:credential:%s", device.String())
}
