// Package config handles configuration loading for the argview server.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	View      ViewConfig      `yaml:"view"`
	Mutations MutationsConfig `yaml:"mutations"`
	Cache     CacheConfig     `yaml:"cache"`
	Render    RenderConfig    `yaml:"render"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// BackendConfig contains settings for the layout backend connection.
type BackendConfig struct {
	URL               string `yaml:"url"`
	AckTimeoutSeconds int    `yaml:"ack_timeout_seconds"`
	Project           string `yaml:"project"`
	File              string `yaml:"file"`
}

// AckTimeout returns the acknowledgment timeout as a duration.
func (b BackendConfig) AckTimeout() time.Duration {
	return time.Duration(b.AckTimeoutSeconds) * time.Second
}

// ViewConfig contains coordinate mapping and pan/zoom settings.
type ViewConfig struct {
	BaseBinBP       float64 `yaml:"base_bin_bp"`
	BaseZoom        float64 `yaml:"base_zoom"`
	GlobalBpPerUnit float64 `yaml:"global_bp_per_unit"`
	TreeHeight      float64 `yaml:"tree_height"`
	MinTreePixels   float64 `yaml:"min_tree_pixels"`
	PanBaseStep     float64 `yaml:"pan_base_step"`
	PanSensitivity  float64 `yaml:"pan_sensitivity"`
	MinZoom         float64 `yaml:"min_zoom"`
	MaxZoom         float64 `yaml:"max_zoom"`
}

// MutationsConfig contains mutation query settings.
type MutationsConfig struct {
	DebounceMS  int     `yaml:"debounce_ms"`
	SearchRange float64 `yaml:"search_range"`
	PageLimit   int     `yaml:"page_limit"`
}

// Debounce returns the viewport debounce interval.
func (m MutationsConfig) Debounce() time.Duration {
	return time.Duration(m.DebounceMS) * time.Millisecond
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	LayoutSizeMB     int `yaml:"layout_size_mb"`
	LayoutTTLMinutes int `yaml:"layout_ttl_minutes"`
	QueryCacheSize   int `yaml:"query_cache_size"`
}

// RenderConfig contains render worker and preview settings.
type RenderConfig struct {
	Workers     int      `yaml:"workers"`
	TipColor    [4]uint8 `yaml:"tip_color"`
	Colormap    string   `yaml:"colormap"`
	PreviewSize int      `yaml:"preview_size"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "argview",
		},
		Backend: BackendConfig{
			URL:               "ws://localhost:8765/ws",
			AckTimeoutSeconds: 120,
		},
		View: ViewConfig{
			BaseBinBP:       1000,
			BaseZoom:        8,
			GlobalBpPerUnit: 1000,
			TreeHeight:      1,
			MinTreePixels:   0,
			PanBaseStep:     10,
			PanSensitivity:  1,
			MinZoom:         -20,
			MaxZoom:         30,
		},
		Mutations: MutationsConfig{
			DebounceMS:  300,
			SearchRange: 5000,
			PageLimit:   500,
		},
		Cache: CacheConfig{
			LayoutSizeMB:     256,
			LayoutTTLMinutes: 10,
			QueryCacheSize:   1000,
		},
		Render: RenderConfig{
			Workers:     2,
			TipColor:    [4]uint8{31, 119, 180, 255},
			Colormap:    "categorical",
			PreviewSize: 512,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Backend.URL == "" {
		cfg.Backend.URL = defaults.Backend.URL
	}
	if cfg.Backend.AckTimeoutSeconds <= 0 {
		cfg.Backend.AckTimeoutSeconds = defaults.Backend.AckTimeoutSeconds
	}
	if cfg.View.BaseBinBP <= 0 {
		cfg.View.BaseBinBP = defaults.View.BaseBinBP
	}
	if cfg.View.BaseZoom == 0 {
		cfg.View.BaseZoom = defaults.View.BaseZoom
	}
	if cfg.View.GlobalBpPerUnit <= 0 {
		cfg.View.GlobalBpPerUnit = defaults.View.GlobalBpPerUnit
	}
	if cfg.View.TreeHeight <= 0 {
		cfg.View.TreeHeight = defaults.View.TreeHeight
	}
	if cfg.View.PanBaseStep <= 0 {
		cfg.View.PanBaseStep = defaults.View.PanBaseStep
	}
	if cfg.View.PanSensitivity <= 0 {
		cfg.View.PanSensitivity = defaults.View.PanSensitivity
	}
	if cfg.View.MaxZoom <= cfg.View.MinZoom {
		cfg.View.MinZoom, cfg.View.MaxZoom = defaults.View.MinZoom, defaults.View.MaxZoom
	}
	if cfg.Mutations.DebounceMS <= 0 {
		cfg.Mutations.DebounceMS = defaults.Mutations.DebounceMS
	}
	if cfg.Mutations.SearchRange <= 0 {
		cfg.Mutations.SearchRange = defaults.Mutations.SearchRange
	}
	if cfg.Mutations.PageLimit <= 0 {
		cfg.Mutations.PageLimit = defaults.Mutations.PageLimit
	}
	if cfg.Cache.LayoutSizeMB == 0 {
		cfg.Cache.LayoutSizeMB = defaults.Cache.LayoutSizeMB
	}
	if cfg.Cache.LayoutTTLMinutes == 0 {
		cfg.Cache.LayoutTTLMinutes = defaults.Cache.LayoutTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Render.Workers <= 0 {
		cfg.Render.Workers = defaults.Render.Workers
	}
	if cfg.Render.TipColor == ([4]uint8{}) {
		cfg.Render.TipColor = defaults.Render.TipColor
	}
	if cfg.Render.Colormap == "" {
		cfg.Render.Colormap = defaults.Render.Colormap
	}
	if cfg.Render.PreviewSize <= 0 {
		cfg.Render.PreviewSize = defaults.Render.PreviewSize
	}
}
