package source

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signportal/signportal/internal/cache"
	"github.com/signportal/signportal/internal/config"
)

// mockSource is a test source that counts fetch calls
type mockSource struct {
	name       string
	data       []map[string]interface{}
	err        error
	fetchCount int32
}

func (s *mockSource) Name() string { return s.name }

func (s *mockSource) Fetch(ctx context.Context) ([]map[string]interface{}, error) {
	atomic.AddInt32(&s.fetchCount, 1)
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func (s *mockSource) Close() error { return nil }

func (s *mockSource) FetchCount() int {
	return int(atomic.LoadInt32(&s.fetchCount))
}

func TestCachedSourceBasic(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Stop()

	inner := &mockSource{
		name: "testimonials",
		data: []map[string]interface{}{{"quote": "Love it"}},
	}

	cfg := config.SourceConfig{
		Cache: &config.CacheConfig{
			TTL:      "1m",
			Strategy: "simple",
		},
	}

	cached := NewCachedSource(inner, c, cfg)

	// First fetch should call inner
	ctx := context.Background()
	data, err := cached.Fetch(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 1 {
		t.Errorf("expected 1 item, got %d", len(data))
	}
	if inner.FetchCount() != 1 {
		t.Errorf("expected 1 fetch, got %d", inner.FetchCount())
	}

	// Second fetch should use cache
	data, err = cached.Fetch(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 1 {
		t.Errorf("expected 1 item, got %d", len(data))
	}
	if inner.FetchCount() != 1 {
		t.Errorf("expected still 1 fetch (cached), got %d", inner.FetchCount())
	}
}

func TestCachedSourceError(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Stop()

	inner := &mockSource{
		name: "broken",
		err:  errors.New("file missing"),
	}

	cfg := config.SourceConfig{
		Cache: &config.CacheConfig{TTL: "1m"},
	}

	cached := NewCachedSource(inner, c, cfg)

	// Errors pass through and are not cached
	if _, err := cached.Fetch(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if _, err := cached.Fetch(context.Background()); err == nil {
		t.Fatal("expected fetch error on retry")
	}
	if inner.FetchCount() != 2 {
		t.Errorf("expected 2 fetches (errors not cached), got %d", inner.FetchCount())
	}
}

func TestCachedSourceInvalidate(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Stop()

	inner := &mockSource{
		name: "pricing",
		data: []map[string]interface{}{{"tier": "Team"}},
	}

	cfg := config.SourceConfig{
		Cache: &config.CacheConfig{TTL: "1m"},
	}

	cached := NewCachedSource(inner, c, cfg)
	ctx := context.Background()

	if _, err := cached.Fetch(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cached.Invalidate()
	if _, err := cached.Fetch(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inner.FetchCount() != 2 {
		t.Errorf("expected 2 fetches after invalidation, got %d", inner.FetchCount())
	}
}

func TestCachedSourceMaxRows(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Stop()

	inner := &mockSource{
		name: "logos",
		data: []map[string]interface{}{{"n": 1}, {"n": 2}, {"n": 3}},
	}

	cfg := config.SourceConfig{
		Cache: &config.CacheConfig{TTL: "1m", MaxRows: 2},
	}

	cached := NewCachedSource(inner, c, cfg)
	ctx := context.Background()

	// Result exceeds max_rows: served both times, cached neither
	for i := 0; i < 2; i++ {
		data, err := cached.Fetch(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(data) != 3 {
			t.Errorf("expected all 3 rows served, got %d", len(data))
		}
	}
	if inner.FetchCount() != 2 {
		t.Errorf("expected 2 fetches (oversized result not cached), got %d", inner.FetchCount())
	}
}

func TestCachedSourceMaxBytes(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Stop()

	inner := &mockSource{
		name: "quotes",
		data: []map[string]interface{}{{"quote": "The fastest contract turnaround we have ever had."}},
	}

	cfg := config.SourceConfig{
		Cache: &config.CacheConfig{TTL: "1m", MaxBytes: 10},
	}

	cached := NewCachedSource(inner, c, cfg)
	ctx := context.Background()

	if _, err := cached.Fetch(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cached.Fetch(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.FetchCount() != 2 {
		t.Errorf("expected 2 fetches (oversized result not cached), got %d", inner.FetchCount())
	}
}

func TestCachedSourceStaleWhileRevalidate(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Stop()

	inner := &mockSource{
		name: "testimonials",
		data: []map[string]interface{}{{"quote": "v1"}},
	}

	cfg := config.SourceConfig{
		Cache: &config.CacheConfig{
			TTL:      "100ms",
			Strategy: "stale-while-revalidate",
		},
	}

	cached := NewCachedSource(inner, c, cfg)
	ctx := context.Background()

	if _, err := cached.Fetch(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Wait until the entry is stale (past TTL/2) but not expired
	time.Sleep(60 * time.Millisecond)

	data, err := cached.Fetch(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 1 {
		t.Errorf("expected stale data served, got %d rows", len(data))
	}

	// Background revalidation should eventually hit the inner source again
	deadline := time.After(time.Second)
	for inner.FetchCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected background revalidation, fetch count = %d", inner.FetchCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCachedSourceClosePropagates(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Stop()

	inner := &mockSource{name: "x"}
	cached := NewCachedSource(inner, c, config.SourceConfig{
		Cache: &config.CacheConfig{TTL: "1m"},
	})

	if err := cached.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cached.GetInner(); got != inner {
		t.Error("GetInner() should return the wrapped source")
	}
}
