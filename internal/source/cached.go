package source

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/signportal/signportal/internal/cache"
	"github.com/signportal/signportal/internal/config"
)

// CachedSource wraps a Source with caching behavior
type CachedSource struct {
	inner    Source
	cache    cache.Cache
	name     string
	ttl      time.Duration
	strategy string // "simple" or "stale-while-revalidate"
	maxRows  int    // 0 = unlimited
	maxBytes int    // 0 = unlimited

	// For stale-while-revalidate: track in-flight revalidations
	mu           sync.Mutex
	revalidating bool

	// For cancellation of background operations
	cancelCtx  context.Context
	cancelFunc context.CancelFunc
}

// NewCachedSource creates a new cached source wrapper
func NewCachedSource(inner Source, c cache.Cache, cfg config.SourceConfig) *CachedSource {
	ctx, cancel := context.WithCancel(context.Background())
	return &CachedSource{
		inner:      inner,
		cache:      c,
		name:       inner.Name(),
		ttl:        cfg.GetCacheTTL(),
		strategy:   cfg.GetCacheStrategy(),
		maxRows:    cfg.GetCacheMaxRows(),
		maxBytes:   cfg.GetCacheMaxBytes(),
		cancelCtx:  ctx,
		cancelFunc: cancel,
	}
}

// Name returns the source name
func (s *CachedSource) Name() string {
	return s.name
}

// Fetch retrieves rows, using cache if available
func (s *CachedSource) Fetch(ctx context.Context) ([]map[string]interface{}, error) {
	// Check if context is already cancelled
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cacheKey := s.cacheKey()

	// Try to get from cache
	data, found, stale := s.cache.Get(cacheKey)
	if found {
		if stale && s.strategy == "stale-while-revalidate" {
			// Return stale data immediately, revalidate in background
			go s.revalidateInBackground()
		}
		return data, nil
	}

	// Cache miss - fetch fresh data
	return s.fetchAndCache(ctx)
}

// fetchAndCache fetches from the underlying source and caches the result
func (s *CachedSource) fetchAndCache(ctx context.Context) ([]map[string]interface{}, error) {
	data, err := s.inner.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	// Oversized results are served but never cached.
	if !s.cacheable(data) {
		return data, nil
	}

	if s.strategy == "stale-while-revalidate" {
		// For SWR: data is fresh for half the TTL, then stale for the other half
		staleAfter := s.ttl / 2
		s.cache.SetWithStale(s.cacheKey(), data, staleAfter, s.ttl)
	} else {
		s.cache.Set(s.cacheKey(), data, s.ttl)
	}

	return data, nil
}

// cacheable reports whether the rows fit the configured cache limits
func (s *CachedSource) cacheable(data []map[string]interface{}) bool {
	if s.maxRows > 0 && len(data) > s.maxRows {
		return false
	}
	if s.maxBytes > 0 {
		b, err := json.Marshal(data)
		if err != nil || len(b) > s.maxBytes {
			return false
		}
	}
	return true
}

// revalidateInBackground fetches fresh data in the background
func (s *CachedSource) revalidateInBackground() {
	s.mu.Lock()
	if s.revalidating {
		s.mu.Unlock()
		return // Already revalidating
	}
	s.revalidating = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.revalidating = false
		s.mu.Unlock()
	}()

	// Use cancelCtx as parent so revalidation stops when source is closed
	ctx, cancel := context.WithTimeout(s.cancelCtx, 30*time.Second)
	defer cancel()

	_, err := s.fetchAndCache(ctx)
	if err != nil {
		// Don't log if cancelled due to shutdown
		if s.cancelCtx.Err() == nil {
			log.Printf("[cache/%s] Background revalidation failed: %v", s.name, err)
		}
	}
}

// cacheKey returns the cache key for this source
func (s *CachedSource) cacheKey() string {
	return "source:" + s.name
}

// Close closes the underlying source and cancels any background operations
func (s *CachedSource) Close() error {
	// Cancel any in-flight background revalidations
	s.cancelFunc()
	return s.inner.Close()
}

// Invalidate removes this source's data from cache
func (s *CachedSource) Invalidate() {
	s.cache.Invalidate(s.cacheKey())
}

// GetInner returns the underlying source
func (s *CachedSource) GetInner() Source {
	return s.inner
}
