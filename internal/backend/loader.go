// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package backend

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/statesync/internal/metrics"
)

// Cache kinds.
const (
	CacheMeta = "meta"
	CacheShow = "show"
)

// Cache is the subset of internal/cache the loader needs.
type Cache interface {
	Get(key string) (interface{}, bool)
	SetWithTTL(key string, value interface{}, ttl time.Duration)
	Has(key string) bool
	Delete(key string)
}

// CacheKey builds "<backend>:<kind>:<id>".
func CacheKey(backend, kind, id string) string {
	return CachePrefix(backend) + kind + ":" + id
}

// CachePrefix is the key prefix shared by every entry of backend.
func CachePrefix(backend string) string {
	return backend + ":"
}

// Loader is a read-through cache with stampede protection. Concurrent loads
// of one key share a single fetch; failures are never cached.
type Loader struct {
	backend string
	cache   Cache
	ttl     time.Duration
	group   singleflight.Group
}

// NewLoader creates a loader. A nil cache disables caching.
func NewLoader(backend string, cache Cache, ttl time.Duration) *Loader {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Loader{backend: backend, cache: cache, ttl: ttl}
}

// Load returns the cached value for (kind, id) or calls fetch. noCache skips
// the cache read but still refreshes the entry. The bool reports a cache hit.
func (l *Loader) Load(ctx context.Context, kind, id string, noCache bool, fetch func(context.Context) (interface{}, error)) (interface{}, bool, error) {
	key := CacheKey(l.backend, kind, id)

	if l.cache != nil && !noCache {
		if v, ok := l.cache.Get(key); ok {
			metrics.RecordCacheLookup(l.backend, kind, true)
			return v, true, nil
		}
		metrics.RecordCacheLookup(l.backend, kind, false)
	}

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if l.cache != nil {
			l.cache.SetWithTTL(key, v, l.ttl)
		}
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

// Prime stores v without a fetch.
func (l *Loader) Prime(kind, id string, v interface{}) {
	if l.cache != nil {
		l.cache.SetWithTTL(CacheKey(l.backend, kind, id), v, l.ttl)
	}
}

// Forget drops a cached entry.
func (l *Loader) Forget(kind, id string) {
	if l.cache != nil {
		l.cache.Delete(CacheKey(l.backend, kind, id))
	}
}

// LoadAs is Load with a typed value.
func LoadAs[T any](ctx context.Context, l *Loader, kind, id string, noCache bool, fetch func(context.Context) (T, error)) (T, bool, error) {
	v, hit, err := l.Load(ctx, kind, id, noCache, func(ctx context.Context) (interface{}, error) {
		return fetch(ctx)
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	t, ok := v.(T)
	if !ok {
		var zero T
		l.Forget(kind, id)
		return zero, false, fmt.Errorf("cache entry %s has type %T", CacheKey(l.backend, kind, id), v)
	}
	return t, hit, nil
}
