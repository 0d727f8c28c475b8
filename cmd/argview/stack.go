package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"log"
	"time"

	"github.com/argview/server/internal/backend"
	"github.com/argview/server/internal/cache"
	"github.com/argview/server/internal/config"
	"github.com/argview/server/internal/render"
	"github.com/argview/server/internal/session"
	"github.com/argview/server/pkg/colormap"
)

// stack holds the components shared by every session.
type stack struct {
	client  *backend.Client
	cache   *cache.Manager
	pool    *render.Pool
	preview *render.PreviewRenderer
	colorer render.TipColorer
	cancel  context.CancelFunc
}

func newStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	cacheManager, err := cache.NewManager(cache.Config{
		LayoutCacheSizeMB: cfg.Cache.LayoutSizeMB,
		LayoutTTL:         time.Duration(cfg.Cache.LayoutTTLMinutes) * time.Minute,
		QueryCacheSize:    cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	client := backend.NewClient(backend.Config{
		URL:        cfg.Backend.URL,
		AckTimeout: cfg.Backend.AckTimeout(),
	})
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(dialCtx); err != nil {
		cacheManager.Close()
		return nil, err
	}
	watchCtx, stop := context.WithCancel(ctx)
	go keepConnected(watchCtx, client)

	var colorer render.TipColorer = render.FixedColor(color.RGBA{
		R: cfg.Render.TipColor[0], G: cfg.Render.TipColor[1], B: cfg.Render.TipColor[2], A: cfg.Render.TipColor[3],
	})
	if cm, ok := colormap.ByName(cfg.Render.Colormap); ok {
		colorer = render.TreeColorer{Colormap: cm}
	} else if cfg.Render.Colormap != "" {
		log.Printf("Unknown colormap %q, using fixed tip color", cfg.Render.Colormap)
	}

	return &stack{
		client:  client,
		cache:   cacheManager,
		pool:    render.NewPool(render.PoolConfig{Workers: cfg.Render.Workers, QueueSize: 4 * cfg.Render.Workers}),
		preview: render.NewPreviewRenderer(render.PreviewConfig{Size: cfg.Render.PreviewSize}),
		colorer: colorer,
		cancel:  stop,
	}, nil
}

// options returns the session defaults for cfg.
func (s *stack) options(cfg *config.Config) session.Options {
	return session.Options{
		Ref:       backend.FileRef{Project: cfg.Backend.Project, File: cfg.Backend.File},
		Backend:   s.client,
		Cache:     s.cache,
		Pool:      s.pool,
		Preview:   s.preview,
		Colorer:   s.colorer,
		View:      cfg.View,
		Mutations: cfg.Mutations,
	}
}

func (s *stack) Close() {
	s.cancel()
	s.pool.Stop()
	s.client.Disconnect()
	s.cache.Close()
}

// keepConnected redials the backend with exponential backoff whenever the
// connection drops, until ctx is done.
func keepConnected(ctx context.Context, client *backend.Client) {
	dropped := make(chan struct{}, 1)
	id := client.On(backend.EventDisconnect, func(json.RawMessage) {
		select {
		case dropped <- struct{}{}:
		default:
		}
	})
	defer client.Off(backend.EventDisconnect, id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-dropped:
		}

		backoff := 500 * time.Millisecond
		for !client.IsConnected() {
			log.Printf("[Backend] connection lost, retrying in %v", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := client.Connect(dialCtx)
			cancel()
			if err != nil {
				log.Printf("[Backend] reconnect failed: %v", err)
				if backoff < 30*time.Second {
					backoff *= 2
				}
			}
		}
	}
}
