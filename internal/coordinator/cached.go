package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/argview/server/internal/backend"
	"github.com/argview/server/internal/cache"
)

// CachedFetcher serves repeated layout queries from the layout cache.
type CachedFetcher struct {
	Fetcher LayoutFetcher
	Cache   *cache.Manager
	// Project and File scope cache keys to the loaded tree sequence.
	Project string
	File    string
}

type cachedLayout struct {
	Buffer        []byte  `json:"buffer"`
	TreeIndices   []int   `json:"tree_indices"`
	GlobalMinTime float64 `json:"global_min_time"`
	GlobalMaxTime float64 `json:"global_max_time"`
}

// QueryTreeLayout implements LayoutFetcher.
func (f *CachedFetcher) QueryTreeLayout(ctx context.Context, treeIndices []int, opts backend.LayoutOptions) (*backend.LayoutResult, error) {
	if f.Cache == nil {
		return f.Fetcher.QueryTreeLayout(ctx, treeIndices, opts)
	}

	key := cache.LayoutKey(f.Project, f.File, treeIndices, opts.GenomicWindow)
	if data, ok := f.Cache.GetLayout(key); ok {
		res, err := decodeCached(data)
		if err == nil {
			return res, nil
		}
		log.Printf("[Coordinator] dropping unreadable cache entry %s: %v", key, err)
	}

	res, err := f.Fetcher.QueryTreeLayout(ctx, treeIndices, opts)
	if err != nil {
		return nil, err
	}

	if data, err := encodeCached(res); err != nil {
		log.Printf("[Coordinator] cannot cache layout %s: %v", key, err)
	} else if err := f.Cache.SetLayout(key, data); err != nil {
		log.Printf("[Coordinator] cannot cache layout %s: %v", key, err)
	}
	return res, nil
}

func encodeCached(res *backend.LayoutResult) ([]byte, error) {
	buf := res.Buffer
	if buf == nil {
		buf = &backend.LayoutBuffer{}
	}
	raw, err := backend.EncodeLayout(buf, true)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cachedLayout{
		Buffer:        raw,
		TreeIndices:   res.TreeIndices,
		GlobalMinTime: res.GlobalMinTime,
		GlobalMaxTime: res.GlobalMaxTime,
	})
}

func decodeCached(data []byte) (*backend.LayoutResult, error) {
	var c cachedLayout
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse cached layout: %w", err)
	}
	buf, err := backend.DecodeLayout(c.Buffer)
	if err != nil {
		return nil, err
	}
	return &backend.LayoutResult{
		Buffer:        buf,
		TreeIndices:   c.TreeIndices,
		GlobalMinTime: c.GlobalMinTime,
		GlobalMaxTime: c.GlobalMaxTime,
	}, nil
}
