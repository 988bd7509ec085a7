// Package config handles configuration loading for the life-trajectory
// viewer server.
package config

import (
	"fmt"
	"log"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Data      DataConfig      `yaml:"data"`
	Cache     CacheConfig     `yaml:"cache"`
	Render    RenderConfig    `yaml:"render"`
	View      ViewConfig      `yaml:"view"`
	Placement PlacementConfig `yaml:"placement"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port" env:"LIFEVIZ_SERVER_PORT"`
	CORSOrigins []string `yaml:"cors_origins" env:"LIFEVIZ_SERVER_CORS_ORIGINS" envSeparator:","`
}

// UpstreamConfig locates the dataset API. URLs are origins only; the client
// appends the /api/v1 and /api/health paths itself.
type UpstreamConfig struct {
	DirectURL   string `yaml:"direct_url" env:"LIFEVIZ_UPSTREAM_DIRECT_URL"`
	ProxyURL    string `yaml:"proxy_url" env:"LIFEVIZ_UPSTREAM_PROXY_URL"`
	Mode        string `yaml:"mode" env:"LIFEVIZ_UPSTREAM_MODE"`
	TimeoutSecs int    `yaml:"timeout_secs" env:"LIFEVIZ_UPSTREAM_TIMEOUT_SECS"`
}

// DataConfig contains data source settings. SnapshotPath is optional; when
// set, view sessions load the dataset from the local snapshot instead of the
// upstream.
type DataConfig struct {
	SnapshotPath string `yaml:"snapshot_path" env:"LIFEVIZ_DATA_SNAPSHOT_PATH"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	FrameSizeMB     int `yaml:"frame_size_mb" env:"LIFEVIZ_CACHE_FRAME_SIZE_MB"`
	FrameTTLMinutes int `yaml:"frame_ttl_minutes" env:"LIFEVIZ_CACHE_FRAME_TTL_MINUTES"`
	PayloadEntries  int `yaml:"payload_entries" env:"LIFEVIZ_CACHE_PAYLOAD_ENTRIES"`
	PayloadTTLSecs  int `yaml:"payload_ttl_secs" env:"LIFEVIZ_CACHE_PAYLOAD_TTL_SECS"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	Width           int     `yaml:"width" env:"LIFEVIZ_RENDER_WIDTH"`
	Height          int     `yaml:"height" env:"LIFEVIZ_RENDER_HEIGHT"`
	PointSize       float64 `yaml:"point_size" env:"LIFEVIZ_RENDER_POINT_SIZE"`
	Background      string  `yaml:"background" env:"LIFEVIZ_RENDER_BACKGROUND"`
	DefaultColormap string  `yaml:"default_colormap" env:"LIFEVIZ_RENDER_DEFAULT_COLORMAP"`
}

// ViewConfig contains view session settings.
type ViewConfig struct {
	SessionTTLMinutes int `yaml:"session_ttl_minutes" env:"LIFEVIZ_VIEW_SESSION_TTL_MINUTES"`
	CleanupMinutes    int `yaml:"cleanup_minutes" env:"LIFEVIZ_VIEW_CLEANUP_MINUTES"`
}

// PlacementConfig contains placement job settings.
type PlacementConfig struct {
	SQLitePath    string `yaml:"sqlite_path" env:"LIFEVIZ_PLACEMENT_SQLITE_PATH"`
	MaxConcurrent int    `yaml:"max_concurrent" env:"LIFEVIZ_PLACEMENT_MAX_CONCURRENT"`
	RetentionDays int    `yaml:"retention_days" env:"LIFEVIZ_PLACEMENT_RETENTION_DAYS"`
}

// Load reads configuration from a YAML file, then applies LIFEVIZ_*
// environment overrides. Environment beats file beats defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[Config] %s not found, using defaults", path)
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        3000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Upstream: UpstreamConfig{
			DirectURL:   "http://localhost:8080",
			Mode:        "auto",
			TimeoutSecs: 60,
		},
		Cache: CacheConfig{
			FrameSizeMB:     64,
			FrameTTLMinutes: 5,
			PayloadEntries:  256,
			PayloadTTLSecs:  30,
		},
		Render: RenderConfig{
			Width:           960,
			Height:          640,
			PointSize:       4,
			Background:      "#101418",
			DefaultColormap: "viridis",
		},
		View: ViewConfig{
			SessionTTLMinutes: 30,
			CleanupMinutes:    5,
		},
		Placement: PlacementConfig{
			SQLitePath:    "data/placements.db",
			MaxConcurrent: 1,
			RetentionDays: 7,
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
	if cfg.Upstream.DirectURL == "" {
		cfg.Upstream.DirectURL = defaults.Upstream.DirectURL
	}
	if cfg.Upstream.Mode == "" {
		cfg.Upstream.Mode = defaults.Upstream.Mode
	}
	if cfg.Upstream.TimeoutSecs == 0 {
		cfg.Upstream.TimeoutSecs = defaults.Upstream.TimeoutSecs
	}
	if cfg.Cache.FrameSizeMB == 0 {
		cfg.Cache.FrameSizeMB = defaults.Cache.FrameSizeMB
	}
	if cfg.Cache.FrameTTLMinutes == 0 {
		cfg.Cache.FrameTTLMinutes = defaults.Cache.FrameTTLMinutes
	}
	if cfg.Cache.PayloadEntries == 0 {
		cfg.Cache.PayloadEntries = defaults.Cache.PayloadEntries
	}
	if cfg.Cache.PayloadTTLSecs == 0 {
		cfg.Cache.PayloadTTLSecs = defaults.Cache.PayloadTTLSecs
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.PointSize == 0 {
		cfg.Render.PointSize = defaults.Render.PointSize
	}
	if cfg.Render.Background == "" {
		cfg.Render.Background = defaults.Render.Background
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.View.SessionTTLMinutes == 0 {
		cfg.View.SessionTTLMinutes = defaults.View.SessionTTLMinutes
	}
	if cfg.View.CleanupMinutes == 0 {
		cfg.View.CleanupMinutes = defaults.View.CleanupMinutes
	}
	if cfg.Placement.SQLitePath == "" {
		cfg.Placement.SQLitePath = defaults.Placement.SQLitePath
	}
	if cfg.Placement.MaxConcurrent == 0 {
		cfg.Placement.MaxConcurrent = defaults.Placement.MaxConcurrent
	}
	if cfg.Placement.RetentionDays == 0 {
		cfg.Placement.RetentionDays = defaults.Placement.RetentionDays
	}
}
