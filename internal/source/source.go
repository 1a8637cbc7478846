// Package source provides data providers for landing-page content strips.
// Sources load rows (testimonials, pricing tiers, customer logos) from
// files or WASM modules and make them available to page templates.
package source

import (
	"context"
	"sync"

	"github.com/signportal/signportal/internal/cache"
	"github.com/signportal/signportal/internal/config"
	"github.com/signportal/signportal/internal/wasm"
)

// Source is the interface for content providers.
// Implementations load rows from various backends (json, csv, wasm).
type Source interface {
	// Name returns the source identifier
	Name() string

	// Fetch retrieves rows from the source.
	// Returns a slice of maps suitable for template iteration.
	Fetch(ctx context.Context) ([]map[string]interface{}, error)

	// Close releases any resources held by the source
	Close() error
}

// Registry holds configured sources for a portal. The watcher re-runs
// page discovery while requests are in flight, so the map is guarded.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	cache   cache.Cache
	cfg     *config.Config
}

// NewRegistry creates a source registry from config
func NewRegistry(cfg *config.Config, siteDir string) (*Registry, error) {
	memCache := cache.NewMemoryCache()
	r := &Registry{
		sources: make(map[string]Source),
		cache:   memCache,
		cfg:     cfg,
	}

	if cfg.Sources == nil {
		return r, nil
	}

	for name, srcCfg := range cfg.Sources {
		src, err := createSource(name, srcCfg, siteDir)
		if err != nil {
			// Stop cache cleanup goroutine to avoid leak on initialization error
			memCache.Stop()
			return nil, err
		}

		// Wrap with caching if enabled
		if srcCfg.IsCacheEnabled() {
			src = NewCachedSource(src, r.cache, srcCfg)
		}

		r.sources[name] = src
	}

	return r, nil
}

// Register adds a source declared outside the site config (page
// frontmatter). Site-level sources win: a name that already exists is
// left alone so a page cannot redefine what the operator configured.
func (r *Registry) Register(name string, cfg config.SourceConfig, siteDir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[name]; exists {
		return nil
	}
	src, err := createSource(name, cfg, siteDir)
	if err != nil {
		return err
	}
	if cfg.IsCacheEnabled() {
		src = NewCachedSource(src, r.cache, cfg)
	}
	r.sources[name] = src
	return nil
}

// Get returns a source by name
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// Names returns the names of all registered sources
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	return names
}

// Close releases all sources and stops the cache
func (r *Registry) Close() error {
	// Stop the cache cleanup goroutine
	if mc, ok := r.cache.(*cache.MemoryCache); ok {
		mc.Stop()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, src := range r.sources {
		if err := src.Close(); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateCache invalidates the cache for a specific source
func (r *Registry) InvalidateCache(name string) {
	r.mu.RLock()
	src, ok := r.sources[name]
	r.mu.RUnlock()
	if !ok {
		// Source not found; nothing to invalidate
		return
	}

	if cs, ok := src.(*CachedSource); ok {
		cs.Invalidate()
	}
}

// InvalidateAllCaches invalidates all cached data
func (r *Registry) InvalidateAllCaches() {
	r.cache.InvalidateAll()
}

// createSource instantiates a source based on config type
func createSource(name string, cfg config.SourceConfig, siteDir string) (Source, error) {
	switch cfg.Type {
	case "json":
		return NewJSONFileSource(name, cfg.File, siteDir)
	case "csv":
		return NewCSVFileSource(name, cfg.File, siteDir, cfg.Options)
	case "wasm":
		return wasm.NewWasmSource(name, cfg.Path, siteDir, cfg.Options)
	default:
		return nil, &UnsupportedSourceError{Type: cfg.Type}
	}
}

// UnsupportedSourceError is returned for unknown source types
type UnsupportedSourceError struct {
	Type string
}

func (e *UnsupportedSourceError) Error() string {
	return "unsupported source type: " + e.Type
}
