// Package cache provides caching for layout buffers and query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	LayoutCacheSizeMB int
	LayoutTTL         time.Duration
	QueryCacheSize    int
}

// Manager manages the layout-buffer and query caches.
type Manager struct {
	layoutCache *bigcache.BigCache
	queryCache  *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.LayoutTTL <= 0 {
		cfg.LayoutTTL = 10 * time.Minute
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 1000
	}

	layoutCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.LayoutTTL,
		CleanWindow:        cfg.LayoutTTL / 2,
		MaxEntriesInWindow: 1024,
		MaxEntrySize:       64 * 1024, // initial sizing only; shards grow up to the hard max
		HardMaxCacheSize:   cfg.LayoutCacheSizeMB,
		Verbose:            false,
	}

	layoutCache, err := bigcache.New(context.Background(), layoutCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create layout cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		layoutCache: layoutCache,
		queryCache:  queryCache,
	}, nil
}

// GetLayout retrieves an encoded layout buffer from cache.
func (m *Manager) GetLayout(key string) ([]byte, bool) {
	data, err := m.layoutCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetLayout stores an encoded layout buffer in cache.
func (m *Manager) SetLayout(key string, data []byte) error {
	return m.layoutCache.Set(key, data)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// PurgeQueries drops every cached query result, e.g. after a new file loads.
func (m *Manager) PurgeQueries() {
	m.queryCache.Purge()
}

// LayoutKey generates a cache key for a layout query on project/file. The
// genomic window only matters to the backend through the display array, so it
// is hashed in rather than spelled out.
func LayoutKey(project, file string, treeIndices []int, window [2]float64) string {
	ids := make([]string, len(treeIndices))
	for i, idx := range treeIndices {
		ids[i] = strconv.Itoa(idx)
	}
	base := "layout:" + scope(project, file) + ":" + strings.Join(ids, ",")

	h := sha256.New()
	h.Write([]byte(base))
	h.Write([]byte(fmt.Sprintf("%g-%g", window[0], window[1])))
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// MutationWindowKey generates a cache key for one page of a window query.
func MutationWindowKey(project, file string, start, end float64, offset, limit int) string {
	return fmt.Sprintf("mut:%s:w:%g-%g:%d+%d", scope(project, file), start, end, offset, limit)
}

// MutationSearchKey generates a cache key for one page of a position search.
func MutationSearchKey(project, file string, position, rng float64, offset, limit int) string {
	return fmt.Sprintf("mut:%s:s:%g~%g:%d+%d", scope(project, file), position, rng, offset, limit)
}

func scope(project, file string) string {
	return project + "/" + file
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"layout_cache_len": m.layoutCache.Len(),
		"layout_cache_cap": m.layoutCache.Capacity(),
		"query_cache_len":  m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.layoutCache.Close()
}
