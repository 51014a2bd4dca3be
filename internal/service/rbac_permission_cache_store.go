package service

import (
	"context"
	"sync"
	"time"
)

// PermissionCacheStore caches resolved permission-name sets per (user, org
// scope). Invalidation is epoch-based: bumping an epoch re-keys every entry
// under it instead of enumerating keys.
type PermissionCacheStore interface {
	Get(ctx context.Context, userID, scope string) ([]string, bool, error)
	Set(ctx context.Context, userID, scope string, permissions []string, ttl time.Duration) error
	InvalidateUser(ctx context.Context, userID string) error
	InvalidateAll(ctx context.Context) error
}

type NoopPermissionCacheStore struct{}

func NewNoopPermissionCacheStore() *NoopPermissionCacheStore {
	return &NoopPermissionCacheStore{}
}

func (s *NoopPermissionCacheStore) Get(context.Context, string, string) ([]string, bool, error) {
	return nil, false, nil
}

func (s *NoopPermissionCacheStore) Set(context.Context, string, string, []string, time.Duration) error {
	return nil
}

func (s *NoopPermissionCacheStore) InvalidateUser(context.Context, string) error {
	return nil
}

func (s *NoopPermissionCacheStore) InvalidateAll(context.Context) error {
	return nil
}

type permCacheEntry struct {
	permissions []string
	expiresAt   time.Time
}

type InMemoryPermissionCacheStore struct {
	mu          sync.RWMutex
	data        map[string]permCacheEntry
	globalEpoch uint64
	userEpoch   map[string]uint64
}

func NewInMemoryPermissionCacheStore() *InMemoryPermissionCacheStore {
	return &InMemoryPermissionCacheStore{
		data:      make(map[string]permCacheEntry),
		userEpoch: make(map[string]uint64),
	}
}

func (s *InMemoryPermissionCacheStore) Get(_ context.Context, userID, scope string) ([]string, bool, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	key := s.cacheKeyLocked(userID, scope)
	entry, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if now.After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return append([]string(nil), entry.permissions...), true, nil
}

func (s *InMemoryPermissionCacheStore) Set(_ context.Context, userID, scope string, permissions []string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.cacheKeyLocked(userID, scope)
	s.data[key] = permCacheEntry{
		permissions: append([]string(nil), permissions...),
		expiresAt:   time.Now().UTC().Add(ttl),
	}
	return nil
}

func (s *InMemoryPermissionCacheStore) InvalidateUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userEpoch[userID]++
	return nil
}

func (s *InMemoryPermissionCacheStore) InvalidateAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalEpoch++
	return nil
}

func (s *InMemoryPermissionCacheStore) cacheKeyLocked(userID, scope string) string {
	return buildPermissionCacheKey(s.globalEpoch, s.userEpoch[userID], userID, scope)
}
